// Copyright 2025 Certen Protocol
//
// Validator - adjudicates records and chains against cryptographic,
// structural and policy rules
//
// The validator composes four layers of checks:
// - signature: the detached ECDSA signature against the creator key
// - integrity: the walk from a tip to the root, plus chain logic
// - legality: blacklist, ownership transition, position, fork policy
// - security: legality + double-spend detection + integrity, with fork
//   warnings routed into the security ledger
//
// The signature, integrity and legality checks memoize their results in
// the TTL cache under stable keys; double-spend detection, the timing
// checks and the security composition are computed on every call.
// Checks return typed results; nothing panics across this boundary.

package validator

import (
	"crypto/ecdsa"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/saintthor/chainsim/pkg/chain"
	"github.com/saintthor/chainsim/pkg/keys"
	"github.com/saintthor/chainsim/pkg/record"
	"github.com/saintthor/chainsim/pkg/security"
)

// SecurityState is the validator's read-only view of the security
// ledger.
type SecurityState interface {
	IsBlacklisted(userPub string) bool
	IsForkApproved(prevID, recordID string) bool
}

// Validator adjudicates records and whole chains.
type Validator struct {
	cache *Cache

	// Parsed public keys, keyed by hex encoding. Creators sign many
	// records; parsing once per creator is the cheap half of
	// verification.
	keyMu   sync.RWMutex
	pubKeys map[string]*ecdsa.PublicKey

	logger *log.Logger
}

// Config holds validator configuration.
type Config struct {
	CacheTTL     time.Duration
	ReapInterval time.Duration
	Logger       *log.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		CacheTTL:     DefaultCacheTTL,
		ReapInterval: DefaultReapInterval,
		Logger:       log.New(log.Writer(), "[Validator] ", log.LstdFlags),
	}
}

// New creates a validator with its cache reaper running.
func New(cfg *Config) *Validator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Validator] ", log.LstdFlags)
	}
	return &Validator{
		cache:   NewCache(cfg.CacheTTL, cfg.ReapInterval, cfg.Logger),
		pubKeys: make(map[string]*ecdsa.PublicKey),
		logger:  cfg.Logger,
	}
}

// Close stops the cache reaper and drops all memoized results.
func (v *Validator) Close() {
	v.cache.Close()
}

// ClearCache drops all memoized results.
func (v *Validator) ClearCache() {
	v.cache.Clear()
}

// CacheHealthy reports whether the cache reaper is still running.
func (v *Validator) CacheHealthy() bool {
	return v.cache.Healthy()
}

// ====== Signature verification ======

// VerifySignature checks a record's detached signature against its
// creator. System-created records are signature-valid when and only
// when they are well-formed roots.
func (v *Validator) VerifySignature(rec *record.Record) Result {
	if rec == nil {
		return fail(CodeBlockNull, "record is nil")
	}
	key := "sig:" + rec.ID()
	if cached, ok := v.cache.Get(key); ok {
		return cached
	}
	result := v.verifySignature(rec)
	v.cache.Put(key, result)
	return result
}

func (v *Validator) verifySignature(rec *record.Record) Result {
	if rec.ID() == "" {
		return fail(CodeBlockIDMissing, "record has no id")
	}
	if rec.Creator() == "" {
		return fail(CodeCreatorMissing, "record %s has no creator", rec.ID())
	}

	if rec.Creator() == record.SystemCreator {
		if rec.Kind() != record.KindRoot {
			return fail(CodeInvalidSystemBlock, "system-created %s record %s: only roots may be system-created", rec.Kind(), rec.ID())
		}
		if !rec.IsSystemRoot() {
			return fail(CodeInvalidRootBlockData, "system root %s is malformed", rec.ID())
		}
		return valid()
	}

	if !rec.Signed() {
		return fail(CodeSignatureMissing, "record %s is unsigned", rec.ID())
	}
	pub, err := v.creatorKey(rec.Creator())
	if err != nil {
		return fail(CodeVerificationError, "record %s: %v", rec.ID(), err)
	}
	idBytes, err := rec.IDBytes()
	if err != nil {
		return fail(CodeBlockIDMissing, "record %s: %v", rec.ID(), err)
	}
	if err := keys.VerifyWithKey(pub, idBytes, rec.Signature()); err != nil {
		return fail(CodeSignatureInvalid, "record %s: %v", rec.ID(), err)
	}
	return valid()
}

// creatorKey parses and caches the creator's public key.
func (v *Validator) creatorKey(creatorHex string) (*ecdsa.PublicKey, error) {
	v.keyMu.RLock()
	pub, ok := v.pubKeys[creatorHex]
	v.keyMu.RUnlock()
	if ok {
		return pub, nil
	}
	pub, err := keys.ParsePublicKeyHex(creatorHex)
	if err != nil {
		return nil, fmt.Errorf("parse creator key: %w", err)
	}
	v.keyMu.Lock()
	v.pubKeys[creatorHex] = pub
	v.keyMu.Unlock()
	return pub, nil
}

// ====== Chain integrity ======

// VerifyChainIntegrity walks from the given record (or the latest) back
// to the root, verifying each record once, then validates the chain's
// ownership logic from the root forward.
func (v *Validator) VerifyChainIntegrity(c *chain.Chain, from *record.Record) Result {
	if c == nil {
		return fail(CodeChainNull, "chain is nil")
	}
	tip := from
	if tip == nil {
		tip = c.Latest()
	}
	key := "integrity:" + c.ID() + ":" + tip.ID()
	if cached, ok := v.cache.Get(key); ok {
		return cached
	}
	result := v.verifyChainIntegrity(c, tip)
	v.cache.Put(key, result)
	return result
}

func (v *Validator) verifyChainIntegrity(c *chain.Chain, tip *record.Record) Result {
	// Walk backwards, visiting each record exactly once.
	visited := make(map[string]struct{})
	path := make([]*record.Record, 0, c.Len())
	cur := tip
	for {
		if _, seen := visited[cur.ID()]; seen {
			return fail(CodeCircularReference, "chain %s: record %s visited twice", c.ID(), cur.ID())
		}
		visited[cur.ID()] = struct{}{}
		path = append(path, cur)

		if sig := v.VerifySignature(cur); !sig.Valid {
			return fail(CodeSignatureVerifyFailed, "chain %s: record %s: %s", c.ID(), cur.ID(), sig.Message)
		}
		if err := cur.VerifyBasic(); err != nil {
			return fail(CodeBasicValidationFailed, "chain %s: record %s: %v", c.ID(), cur.ID(), err)
		}

		if cur.PrevID() == "" {
			break
		}
		prev, ok := c.Get(cur.PrevID())
		if !ok {
			return fail(CodePreviousBlockNotFound, "chain %s: record %s references missing %s", c.ID(), cur.ID(), cur.PrevID())
		}
		cur = prev
	}

	// Chain logic, root first.
	root := path[len(path)-1]
	if root.Kind() != record.KindRoot {
		return fail(CodeLogicalValidationFailed, "chain %s: walk terminates at %s record %s, not a root", c.ID(), root.Kind(), root.ID())
	}
	expectedOwner := ""
	for i := len(path) - 2; i >= 0; i-- {
		rec := path[i]
		switch p := rec.Payload().(type) {
		case *record.OwnershipPayload:
			if expectedOwner != "" {
				return fail(CodeLogicalValidationFailed, "chain %s: ownership re-applied at %s", c.ID(), rec.ID())
			}
			expectedOwner = p.Owner
		case *record.TransferPayload:
			if expectedOwner == "" {
				return fail(CodeLogicalValidationFailed, "chain %s: transfer %s before ownership", c.ID(), rec.ID())
			}
			if rec.Creator() != expectedOwner {
				return fail(CodeLogicalValidationFailed, "chain %s: transfer %s created by %s, owner is %s",
					c.ID(), rec.ID(), rec.Creator(), expectedOwner)
			}
			expectedOwner = p.NextOwner
		case *record.RootPayload:
			return fail(CodeLogicalValidationFailed, "chain %s: second root %s", c.ID(), rec.ID())
		default:
			return fail(CodeLogicalValidationFailed, "chain %s: %s record %s in log", c.ID(), rec.Kind(), rec.ID())
		}
	}
	return valid()
}

// ====== Legality ======

// ValidateLegality checks policy rules for appending a record: creator
// not blacklisted, ownership transition legal, position free, fork
// policy satisfied. The first failing rule short-circuits.
func (v *Validator) ValidateLegality(rec *record.Record, c *chain.Chain, state SecurityState) Result {
	if rec == nil {
		return fail(CodeBlockNull, "record is nil")
	}
	if c == nil {
		return fail(CodeChainNull, "chain is nil")
	}
	key := "legality:" + rec.ID() + ":" + c.ID()
	if cached, ok := v.cache.Get(key); ok {
		return cached
	}
	result := v.validateLegality(rec, c, state)
	v.cache.Put(key, result)
	return result
}

func (v *Validator) validateLegality(rec *record.Record, c *chain.Chain, state SecurityState) Result {
	// 1. Blacklist. The system creator is exempt.
	if rec.Creator() != record.SystemCreator && state != nil && state.IsBlacklisted(rec.Creator()) {
		return fail(CodeCreatorBlacklisted, "creator %s is blacklisted", rec.Creator())
	}

	// 2. Ownership transition.
	switch p := rec.Payload().(type) {
	case *record.RootPayload:
		return fail(CodeLegalityValidationError, "root records are minted with the chain, not appended")
	case *record.RejectionPayload:
		return fail(CodeLegalityValidationError, "rejection records never enter a chain log")
	case *record.OwnershipPayload:
		if c.State() != chain.StateRoot {
			return fail(CodeOwnershipViolation, "ownership cannot be re-applied to chain %s", c.ID())
		}
	case *record.TransferPayload:
		if p.ChainID != c.ID() {
			return fail(CodeLegalityValidationError, "transfer %s targets chain %s, validated against %s", rec.ID(), p.ChainID, c.ID())
		}
		owner := c.CurrentOwner()
		if owner == "" {
			return fail(CodeOwnershipViolation, "chain %s has no owner yet", c.ID())
		}
		if rec.Creator() != owner {
			return fail(CodeOwnershipViolation, "transfer %s created by %s, current owner is %s", rec.ID(), rec.Creator(), owner)
		}
	}

	// 3. Position.
	if _, present := c.Get(rec.ID()); present {
		return fail(CodePositionConflict, "record %s is already in chain %s", rec.ID(), c.ID())
	}
	if rec.PrevID() == "" {
		return fail(CodeMissingPreviousBlockID, "record %s has no previous-record id", rec.ID())
	}
	if _, ok := c.Get(rec.PrevID()); !ok {
		return fail(CodePreviousBlockNotFound, "record %s references %s, not in chain %s", rec.ID(), rec.PrevID(), c.ID())
	}

	// 4. Fork policy.
	switch fc := c.DetectFork(rec); fc.Kind {
	case chain.NotFork:
		return valid()
	case chain.DoubleSpend:
		return fail(CodeDoubleSpendDetected, "record %s double-spends chain %s", rec.ID(), c.ID())
	case chain.PositionConflict:
		if state != nil && state.IsForkApproved(rec.PrevID(), rec.ID()) {
			return valid()
		}
		return fail(CodeUnapprovedFork, "record %s forks chain %s at %s without approval", rec.ID(), c.ID(), rec.PrevID())
	default:
		return fail(CodeUnknownForkType, "record %s: fork kind %s", rec.ID(), fc.Kind)
	}
}

// ====== Double spend ======

// DetectDoubleSpend is a non-destructive check for a transfer by a
// creator who has already transferred the same chain. A different next
// owner is a double spend; the same next owner on a distinct record is a
// duplicate transfer, surfaced with its own attack type so callers can
// decide policy.
func (v *Validator) DetectDoubleSpend(rec *record.Record, c *chain.Chain) DoubleSpendReport {
	report := DoubleSpendReport{Severity: "high"}
	if rec == nil || c == nil {
		return report
	}
	transfer, ok := rec.Payload().(*record.TransferPayload)
	if !ok {
		return report
	}
	var conflicting []string
	attackType := AttackDuplicateTransfer
	for _, existing := range c.Transfers() {
		if existing.ID() == rec.ID() || existing.Creator() != rec.Creator() {
			continue
		}
		ep := existing.Payload().(*record.TransferPayload)
		conflicting = append(conflicting, existing.ID())
		if ep.NextOwner != transfer.NextOwner {
			attackType = AttackDoubleSpend
		}
	}
	if len(conflicting) == 0 {
		return report
	}
	report.IsDoubleSpend = true
	report.Attacker = rec.Creator()
	report.ConflictingRecords = conflicting
	report.AttackType = attackType
	return report
}

// ====== Security composition ======

// ValidateSecurity composes double-spend detection, legality and chain
// integrity. A detected double spend generates a fork warning and hands
// it to the security ledger, which blacklists the attacker.
func (v *Validator) ValidateSecurity(rec *record.Record, c *chain.Chain, ledger *security.Ledger, tick uint64) Result {
	if rec == nil {
		return fail(CodeBlockNull, "record is nil")
	}
	if c == nil {
		return fail(CodeChainNull, "chain is nil")
	}
	if ledger == nil {
		return fail(CodeSecurityValidationError, "security ledger is nil")
	}

	if report := v.DetectDoubleSpend(rec, c); report.IsDoubleSpend && report.AttackType == AttackDoubleSpend {
		warning := ledger.GenerateForkWarning(security.ForkDetails{
			Reason:         security.ReasonDoubleSpend,
			ChainID:        c.ID(),
			RecordID:       rec.ID(),
			PrevID:         rec.PrevID(),
			Attacker:       report.Attacker,
			ConflictingIDs: report.ConflictingRecords,
			Tick:           tick,
		})
		if _, err := ledger.ProcessHighPrioritySecurityMessage(warning, tick); err != nil {
			return fail(CodeSecurityValidationError, "record %s: process fork warning: %v", rec.ID(), err)
		}
		return fail(CodeDoubleSpendDetected, "record %s double-spends chain %s by %s", rec.ID(), c.ID(), report.Attacker)
	}

	if legality := v.ValidateLegality(rec, c, ledger); !legality.Valid {
		if legality.Code == CodeCreatorBlacklisted || legality.Code == CodeOwnershipViolation {
			ledger.AppendEvent(security.Event{
				Type:    security.EventForkWarning,
				Tick:    tick,
				Subject: rec.ID(),
				Reason:  string(legality.Code),
				Details: map[string]string{"chain_id": c.ID(), "creator": rec.Creator()},
			})
		}
		return legality
	}

	if integrity := v.VerifyChainIntegrity(c, nil); !integrity.Valid {
		return integrity
	}
	return valid()
}
