// Copyright 2025 Certen Protocol
//
// Payment Controller - per-tick sampling of transfer attempts
//
// Each tick the controller samples eligible users (initialized users
// owning at least one chain) against the configured payment rate,
// shuffles them and asks the selected ones to produce transfer records.
// The records are returned for broadcast; nothing is appended here.
// Attempts land in a bounded ring of history.

package payments

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"

	"github.com/saintthor/chainsim/pkg/manager"
	"github.com/saintthor/chainsim/pkg/record"
	"github.com/saintthor/chainsim/pkg/user"
)

// DefaultHistorySize bounds the attempt history ring.
const DefaultHistorySize = 1000

// Attempt is one sampled transfer attempt.
type Attempt struct {
	Tick     uint64
	UserID   string
	ChainID  string
	TargetID string
	RecordID string
	Err      string

	// Record is the produced transfer record, nil when the attempt
	// failed before signing.
	Record *record.Record
}

// Controller samples and initiates transfers.
type Controller struct {
	mu sync.Mutex

	manager *manager.Manager
	rng     *rand.Rand
	rate    float64

	history    []Attempt
	historyCap int
	next       int
	total      uint64

	logger *log.Logger
}

// Config holds controller configuration.
type Config struct {
	// PaymentRate is the per-tick fraction of eligible users that
	// attempt a transfer, in [0,1].
	PaymentRate float64
	HistorySize int
	Rand        *rand.Rand
	Logger      *log.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		PaymentRate: 0.1,
		HistorySize: DefaultHistorySize,
		Logger:      log.New(log.Writer(), "[PaymentController] ", log.LstdFlags),
	}
}

// New creates a payment controller.
func New(mgr *manager.Manager, cfg *Config) (*Controller, error) {
	if mgr == nil {
		return nil, fmt.Errorf("chain manager is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[PaymentController] ", log.LstdFlags)
	}
	if cfg.PaymentRate < 0 || cfg.PaymentRate > 1 {
		return nil, fmt.Errorf("payment rate %v outside [0,1]", cfg.PaymentRate)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Controller{
		manager:    mgr,
		rng:        rng,
		rate:       cfg.PaymentRate,
		history:    make([]Attempt, 0, cfg.HistorySize),
		historyCap: cfg.HistorySize,
		logger:     cfg.Logger,
	}, nil
}

// ProcessTick samples eligible users and produces transfer records for
// the selected ones. The expected number of attempts is |eligible| x
// rate; the fractional remainder is resolved with one random draw.
func (c *Controller) ProcessTick(tick uint64) []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.manager.Users()
	eligible := make([]*user.User, 0, len(all))
	for _, u := range all {
		if u.OwnedCount() > 0 {
			eligible = append(eligible, u)
		}
	}
	if len(eligible) == 0 || len(all) < 2 {
		return nil
	}

	expected := float64(len(eligible)) * c.rate
	count := int(math.Floor(expected))
	if c.rng.Float64() < expected-math.Floor(expected) {
		count++
	}
	if count == 0 {
		return nil
	}
	if count > len(eligible) {
		count = len(eligible)
	}

	c.rng.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})

	attempts := make([]Attempt, 0, count)
	for _, u := range eligible[:count] {
		attempts = append(attempts, c.attemptTransfer(u, all, tick))
	}
	return attempts
}

// attemptTransfer produces one transfer record for the user. Caller
// holds the lock.
func (c *Controller) attemptTransfer(u *user.User, all []*user.User, tick uint64) Attempt {
	attempt := Attempt{Tick: tick, UserID: u.ID()}

	owned := u.OwnedChains()
	if len(owned) == 0 {
		attempt.Err = "no owned chains"
		return c.recordAttempt(attempt)
	}
	chainID := owned[c.rng.Intn(len(owned))]
	attempt.ChainID = chainID

	// Uniform target among initialized users excluding the source.
	target := all[c.rng.Intn(len(all))]
	for target.ID() == u.ID() {
		target = all[c.rng.Intn(len(all))]
	}
	attempt.TargetID = target.ID()

	ch, ok := c.manager.Chain(chainID)
	if !ok {
		attempt.Err = "chain not managed"
		return c.recordAttempt(attempt)
	}
	// The owned-chain index is a derived view; re-check against the log
	// before signing.
	if ch.CurrentOwner() != u.PublicHex() {
		attempt.Err = "no longer current owner"
		return c.recordAttempt(attempt)
	}

	rec, err := u.CreateTransferRecord(chainID, target.PublicHex(), ch.Latest().ID(), tick)
	if err != nil {
		attempt.Err = err.Error()
		return c.recordAttempt(attempt)
	}
	attempt.RecordID = rec.ID()
	attempt.Record = rec
	return c.recordAttempt(attempt)
}

// recordAttempt appends to the bounded ring. Caller holds the lock.
func (c *Controller) recordAttempt(a Attempt) Attempt {
	if len(c.history) < c.historyCap {
		c.history = append(c.history, a)
	} else {
		c.history[c.next] = a
		c.next = (c.next + 1) % c.historyCap
	}
	c.total++
	return a
}

// History returns a copy of the retained attempts, oldest first.
func (c *Controller) History() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Attempt, 0, len(c.history))
	if len(c.history) < c.historyCap {
		out = append(out, c.history...)
		return out
	}
	out = append(out, c.history[c.next:]...)
	out = append(out, c.history[:c.next]...)
	return out
}

// TotalAttempts returns the lifetime attempt count, ring overflow
// included.
func (c *Controller) TotalAttempts() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
