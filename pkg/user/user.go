// Copyright 2025 Certen Protocol
//
// User - a value-holding identity in the simulated network
//
// A user owns its ECDSA P-256 key pair and a derived set of owned chain
// ids. The chain log is the source of truth for ownership; the set here
// is an index maintained by the chain manager after validated appends.
// Creating a transfer record mutates nothing: the record only takes
// effect once a chain accepts it.

package user

import (
	"fmt"
	"sort"
	"sync"

	"github.com/saintthor/chainsim/pkg/keys"
	"github.com/saintthor/chainsim/pkg/record"
)

// User is one identity with its key pair and owned-chain index.
type User struct {
	mu sync.RWMutex

	id    string
	keys  *keys.KeyPair
	owned map[string]struct{}
}

// New creates a user with a fresh key pair.
func New(id string) (*User, error) {
	if id == "" {
		return nil, fmt.Errorf("user id is required")
	}
	kp, err := keys.Generate()
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return &User{id: id, keys: kp, owned: make(map[string]struct{})}, nil
}

// ID returns the stable user id.
func (u *User) ID() string { return u.id }

// PublicHex returns the user's public key identity.
func (u *User) PublicHex() string { return u.keys.PublicHex() }

// Keys returns the user's key pair. The private half never leaves the
// pair; signing happens through it.
func (u *User) Keys() *keys.KeyPair { return u.keys }

// CreateTransferRecord builds and signs a transfer of chainID to the
// target public key, extending prevID at the given tick. It does not
// touch the chain or the owned-chain set.
func (u *User) CreateTransferRecord(chainID, targetPub, prevID string, tick uint64) (*record.Record, error) {
	payload := &record.TransferPayload{
		ChainID:   chainID,
		NextOwner: targetPub,
		PrevID:    prevID,
	}
	rec, err := record.New(payload, prevID, u.PublicHex(), tick)
	if err != nil {
		return nil, fmt.Errorf("user %s: build transfer: %w", u.id, err)
	}
	if err := rec.SignWith(u.keys); err != nil {
		return nil, fmt.Errorf("user %s: sign transfer: %w", u.id, err)
	}
	return rec, nil
}

// AddOwnedChain records chain ownership in the index.
func (u *User) AddOwnedChain(chainID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.owned[chainID] = struct{}{}
}

// RemoveOwnedChain drops chain ownership from the index.
func (u *User) RemoveOwnedChain(chainID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.owned, chainID)
}

// Owns reports whether the index lists the chain.
func (u *User) Owns(chainID string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.owned[chainID]
	return ok
}

// OwnedChains returns the owned chain ids, sorted for stable iteration.
func (u *User) OwnedChains() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, 0, len(u.owned))
	for id := range u.owned {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OwnedCount returns the number of owned chains.
func (u *User) OwnedCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.owned)
}
