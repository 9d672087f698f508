// Copyright 2025 Certen Protocol
//
// Chain Manager - batch chain provisioning and the user/chain index
//
// The manager owns every chain log. It mints chains from a definition
// (one per serial number), assigns random initial owners, executes
// transfers on behalf of users and audits the derived user/chain index
// against the logs, which remain the source of truth.

package manager

import (
	"fmt"
	"log"
	"math/rand"
	"sync"

	"github.com/saintthor/chainsim/pkg/chain"
	"github.com/saintthor/chainsim/pkg/record"
	"github.com/saintthor/chainsim/pkg/user"
	"github.com/saintthor/chainsim/pkg/validator"
)

// BatchResult aggregates a provisioning run.
type BatchResult struct {
	Created        []*chain.Chain
	CreationErrors []string
	// Distribution counts initially assigned chains per user id.
	Distribution map[string]int
	Definition   *chain.Definition
}

// IntegrityReport aggregates a whole-ledger integrity sweep.
type IntegrityReport struct {
	ChainsChecked int
	Failures      []string
	Warnings      []string
}

// Manager owns the chain logs and the derived ownership index.
type Manager struct {
	mu sync.RWMutex

	chains     map[string]*chain.Chain
	chainOrder []string

	users      map[string]*user.User
	userOrder  []string
	usersByPub map[string]*user.User

	// ownerIndex maps chain id -> user id. Derived view; audited
	// against chain state by ValidateIntegrity.
	ownerIndex map[string]string

	definition *chain.Definition

	rng    *rand.Rand
	logger *log.Logger
}

// Config holds manager configuration.
type Config struct {
	Rand   *rand.Rand
	Logger *log.Logger
}

// New creates a manager over the given users.
func New(users []*user.User, cfg *Config) (*Manager, error) {
	if len(users) == 0 {
		return nil, fmt.Errorf("at least one user is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[ChainManager] ", log.LstdFlags)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	m := &Manager{
		chains:     make(map[string]*chain.Chain),
		users:      make(map[string]*user.User),
		usersByPub: make(map[string]*user.User),
		ownerIndex: make(map[string]string),
		rng:        rng,
		logger:     cfg.Logger,
	}
	for _, u := range users {
		if _, dup := m.users[u.ID()]; dup {
			return nil, fmt.Errorf("duplicate user id %s", u.ID())
		}
		m.users[u.ID()] = u
		m.usersByPub[u.PublicHex()] = u
		m.userOrder = append(m.userOrder, u.ID())
	}
	return m, nil
}

// CreateChainsFromDefinition parses a definition document and mints one
// chain per serial number: root record first, then an ownership record
// signed by a uniformly random user. Per-serial failures are collected,
// not fatal.
func (m *Manager) CreateChainsFromDefinition(doc []byte, tick uint64) (*BatchResult, error) {
	def, err := chain.ParseDefinition(doc)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.definition = def
	defHash := def.Hash()

	result := &BatchResult{
		Definition:   def,
		Distribution: make(map[string]int),
	}
	for _, serial := range def.Serials() {
		value, ok := def.ValueFor(serial)
		if !ok {
			result.CreationErrors = append(result.CreationErrors, fmt.Sprintf("serial %d: no face value", serial))
			continue
		}
		c, err := chain.NewFromRoot(defHash, serial, value, tick)
		if err != nil {
			result.CreationErrors = append(result.CreationErrors, fmt.Sprintf("serial %d: %v", serial, err))
			continue
		}
		owner := m.users[m.userOrder[m.rng.Intn(len(m.userOrder))]]
		if _, err := c.CreateOwnership(owner.Keys(), tick); err != nil {
			result.CreationErrors = append(result.CreationErrors, fmt.Sprintf("serial %d: ownership: %v", serial, err))
			continue
		}

		m.chains[c.ID()] = c
		m.chainOrder = append(m.chainOrder, c.ID())
		m.ownerIndex[c.ID()] = owner.ID()
		owner.AddOwnedChain(c.ID())
		result.Created = append(result.Created, c)
		result.Distribution[owner.ID()]++
	}

	m.logger.Printf("provisioned %d chains (%d errors) from definition %s",
		len(result.Created), len(result.CreationErrors), defHash[:12])
	return result, nil
}

// TransferChain executes a transfer from one user to another: it builds
// the record with the sender's key, appends it through the chain's own
// checks and updates the index.
func (m *Manager) TransferChain(chainID, fromUserID, toUserID string, tick uint64) (*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	from, ok := m.users[fromUserID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, fromUserID)
	}
	to, ok := m.users[toUserID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, toUserID)
	}
	if c.CurrentOwner() != from.PublicHex() {
		return nil, fmt.Errorf("%w: %s does not own chain %s", ErrNotOwner, fromUserID, chainID)
	}

	rec, err := from.CreateTransferRecord(chainID, to.PublicHex(), c.Latest().ID(), tick)
	if err != nil {
		return nil, err
	}
	if err := c.Append(rec); err != nil {
		return nil, fmt.Errorf("append transfer: %w", err)
	}
	m.applyTransferLocked(c, from, to)
	return rec, nil
}

// ApplyAcceptedTransfer syncs the index after a transfer record was
// appended to a chain elsewhere (the reception pipeline appends through
// the validator, then calls here).
func (m *Manager) ApplyAcceptedTransfer(chainID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[chainID]
	if !ok {
		return
	}
	ownerPub := c.CurrentOwner()
	newOwner, ok := m.usersByPub[ownerPub]
	if !ok {
		m.logger.Printf("chain %s owner %s is not a managed user", chainID, ownerPub)
		return
	}
	if prevID, ok := m.ownerIndex[chainID]; ok && prevID != newOwner.ID() {
		if prev, ok := m.users[prevID]; ok {
			prev.RemoveOwnedChain(chainID)
		}
	}
	m.ownerIndex[chainID] = newOwner.ID()
	newOwner.AddOwnedChain(chainID)
}

func (m *Manager) applyTransferLocked(c *chain.Chain, from, to *user.User) {
	from.RemoveOwnedChain(c.ID())
	to.AddOwnedChain(c.ID())
	m.ownerIndex[c.ID()] = to.ID()
}

// ValidateIntegrity runs chain integrity over every chain and audits
// the user/chain index against each chain's current owner.
// Inconsistencies in the derived index are warnings; broken chains are
// failures.
func (m *Manager) ValidateIntegrity(v *validator.Validator) *IntegrityReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := &IntegrityReport{}
	for _, id := range m.chainOrder {
		c := m.chains[id]
		report.ChainsChecked++
		if res := v.VerifyChainIntegrity(c, nil); !res.Valid {
			report.Failures = append(report.Failures, fmt.Sprintf("chain %s: %s: %s", id, res.Code, res.Message))
			continue
		}

		ownerPub := c.CurrentOwner()
		indexUserID, indexed := m.ownerIndex[id]
		u, known := m.usersByPub[ownerPub]
		switch {
		case !known:
			report.Warnings = append(report.Warnings, fmt.Sprintf("chain %s: owner %s is not a managed user", id, ownerPub))
		case !indexed:
			report.Warnings = append(report.Warnings, fmt.Sprintf("chain %s: missing from owner index", id))
		case indexUserID != u.ID():
			report.Warnings = append(report.Warnings, fmt.Sprintf("chain %s: index says %s, log says %s", id, indexUserID, u.ID()))
		case !u.Owns(id):
			report.Warnings = append(report.Warnings, fmt.Sprintf("chain %s: owner %s missing it from owned set", id, u.ID()))
		}
	}
	return report
}

// ====== Accessors ======

// Chain returns a chain by id.
func (m *Manager) Chain(id string) (*chain.Chain, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[id]
	return c, ok
}

// Chains returns every chain in creation order.
func (m *Manager) Chains() []*chain.Chain {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*chain.Chain, 0, len(m.chainOrder))
	for _, id := range m.chainOrder {
		out = append(out, m.chains[id])
	}
	return out
}

// ChainCount returns the number of managed chains.
func (m *Manager) ChainCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chains)
}

// User returns a user by id.
func (m *Manager) User(id string) (*user.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok
}

// UserByPub returns a user by public key identity.
func (m *Manager) UserByPub(pub string) (*user.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.usersByPub[pub]
	return u, ok
}

// Users returns every user in registration order.
func (m *Manager) Users() []*user.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*user.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		out = append(out, m.users[id])
	}
	return out
}

// OwnerIndex returns a copy of the chain id -> user id index.
func (m *Manager) OwnerIndex() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.ownerIndex))
	for k, v := range m.ownerIndex {
		out[k] = v
	}
	return out
}

// Definition returns the parsed definition, nil before provisioning.
func (m *Manager) Definition() *chain.Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.definition
}
