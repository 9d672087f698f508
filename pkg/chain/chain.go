// Copyright 2025 Certen Protocol
//
// Chain Log - append-only, single-path log of signed records
//
// One chain per unit of value. The log holds exactly one root record, at
// most one ownership record and an ordered run of transfer records, each
// linked to its predecessor by id. Forks are detected and rejected, never
// merged. Ownership follows a strict state machine:
//
//	Root --ownership--> Owned --transfer--> Transferred --transfer--> Transferred

package chain

import (
	"encoding/json"
	"fmt"

	"github.com/saintthor/chainsim/pkg/keys"
	"github.com/saintthor/chainsim/pkg/record"
)

// State is the position of a chain in its ownership state machine.
type State string

const (
	StateRoot        State = "root"
	StateOwned       State = "owned"
	StateTransferred State = "transferred"
)

// ForkKind classifies the outcome of a fork check.
type ForkKind string

const (
	NotFork          ForkKind = "not_fork"
	PositionConflict ForkKind = "position_conflict"
	DoubleSpend      ForkKind = "double_spend"
)

// ForkCheck is the non-mutating result of DetectFork.
type ForkCheck struct {
	Kind        ForkKind
	Attacker    string           // creator of the candidate, set for DoubleSpend
	Conflicting []*record.Record // existing records the candidate collides with
}

// Chain is the append-only log for a single unit of value. The chain id
// is the id of its root record. Mutation happens only through Append and
// CreateOwnership; all history accessors return immutable views.
type Chain struct {
	id     string
	serial uint64
	value  uint64

	root      *record.Record
	ownership *record.Record
	transfers []*record.Record

	byID   map[string]*record.Record
	byPrev map[string]*record.Record
}

// NewFromRoot mints a chain from a definition hash and serial number.
// The root record is system-created and carries the well-known system
// signature. Value is the face value the definition assigns to the
// serial; it never changes afterwards.
func NewFromRoot(definitionHash string, serial, value, tick uint64) (*Chain, error) {
	root, err := record.NewSystemRoot(definitionHash, serial, tick)
	if err != nil {
		return nil, fmt.Errorf("mint root for serial %d: %w", serial, err)
	}
	c := &Chain{
		id:     root.ID(),
		serial: serial,
		value:  value,
		root:   root,
		byID:   map[string]*record.Record{root.ID(): root},
		byPrev: make(map[string]*record.Record),
	}
	return c, nil
}

// ID returns the chain id (the root record id).
func (c *Chain) ID() string { return c.id }

// Serial returns the serial number from the root payload.
func (c *Chain) Serial() uint64 { return c.serial }

// Value returns the constant face value of the chain.
func (c *Chain) Value() uint64 { return c.value }

// Root returns the root record.
func (c *Chain) Root() *record.Record { return c.root }

// Ownership returns the ownership record, nil before initial assignment.
func (c *Chain) Ownership() *record.Record { return c.ownership }

// Transfers returns the ordered transfer records.
func (c *Chain) Transfers() []*record.Record {
	out := make([]*record.Record, len(c.transfers))
	copy(out, c.transfers)
	return out
}

// Len returns the number of records in the log.
func (c *Chain) Len() int {
	n := 1 + len(c.transfers)
	if c.ownership != nil {
		n++
	}
	return n
}

// State returns the chain's position in the ownership state machine.
func (c *Chain) State() State {
	switch {
	case c.ownership == nil:
		return StateRoot
	case len(c.transfers) == 0:
		return StateOwned
	default:
		return StateTransferred
	}
}

// Latest returns the tail of the log.
func (c *Chain) Latest() *record.Record {
	if n := len(c.transfers); n > 0 {
		return c.transfers[n-1]
	}
	if c.ownership != nil {
		return c.ownership
	}
	return c.root
}

// CurrentOwner returns the hex public key of the current owner, or the
// empty string before an ownership record exists. The log itself is the
// source of truth; user indexes are derived views.
func (c *Chain) CurrentOwner() string {
	if n := len(c.transfers); n > 0 {
		return c.transfers[n-1].Payload().(*record.TransferPayload).NextOwner
	}
	if c.ownership != nil {
		return c.ownership.Payload().(*record.OwnershipPayload).Owner
	}
	return ""
}

// Get returns the record with the given id, if present.
func (c *Chain) Get(id string) (*record.Record, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// ByPrev returns the record extending the given predecessor id, if any.
func (c *Chain) ByPrev(prevID string) (*record.Record, bool) {
	r, ok := c.byPrev[prevID]
	return r, ok
}

// CreateOwnership produces, appends and returns the ownership record for
// the initial owner. Only valid while the log holds exactly the root.
func (c *Chain) CreateOwnership(owner *keys.KeyPair, tick uint64) (*record.Record, error) {
	if c.ownership != nil {
		return nil, ErrOwnershipExists
	}
	if len(c.transfers) > 0 {
		return nil, ErrOwnershipTooLate
	}
	rec, err := record.New(&record.OwnershipPayload{Owner: owner.PublicHex()}, c.root.ID(), owner.PublicHex(), tick)
	if err != nil {
		return nil, err
	}
	if err := rec.SignWith(owner); err != nil {
		return nil, err
	}
	if err := c.Append(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Append validates the record's position and ownership transition, then
// appends it. Appending the same record twice returns ErrPositionConflict
// with the log unchanged. The append is atomic: on any failure the log is
// exactly as it was.
func (c *Chain) Append(rec *record.Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	if _, ok := c.byID[rec.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrPositionConflict, rec.ID())
	}
	if _, ok := c.byPrev[rec.PrevID()]; ok {
		return fmt.Errorf("%w: prev %s", ErrPositionConflict, rec.PrevID())
	}
	if rec.PrevID() != c.Latest().ID() {
		return fmt.Errorf("%w: prev %s, tail %s", ErrWrongPosition, rec.PrevID(), c.Latest().ID())
	}

	switch p := rec.Payload().(type) {
	case *record.OwnershipPayload:
		if c.ownership != nil {
			return ErrOwnershipExists
		}
		c.ownership = rec
	case *record.TransferPayload:
		if c.ownership == nil {
			return ErrOwnershipTooLate
		}
		if p.ChainID != c.id {
			return fmt.Errorf("%w: payload chain %s", ErrWrongChain, p.ChainID)
		}
		if p.PrevID != rec.PrevID() {
			return fmt.Errorf("%w: payload prev %s, record prev %s", ErrWrongPosition, p.PrevID, rec.PrevID())
		}
		if rec.Creator() != c.CurrentOwner() {
			return fmt.Errorf("%w: creator %s, owner %s", ErrOwnershipViolation, rec.Creator(), c.CurrentOwner())
		}
		c.transfers = append(c.transfers, rec)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedPayload, rec.Kind())
	}

	c.byID[rec.ID()] = rec
	c.byPrev[rec.PrevID()] = rec
	return nil
}

// DetectFork classifies a candidate record against the log without
// mutating state. A transfer by a creator who already transferred this
// chain is a double spend (different next owner) or a duplicate (same
// next owner, surfaced by the validator); any other prev-id collision is
// a position conflict.
func (c *Chain) DetectFork(candidate *record.Record) ForkCheck {
	if candidate == nil {
		return ForkCheck{Kind: NotFork}
	}
	if transfer, ok := candidate.Payload().(*record.TransferPayload); ok {
		var conflicting []*record.Record
		for _, existing := range c.transfers {
			if existing.ID() == candidate.ID() {
				continue
			}
			ep := existing.Payload().(*record.TransferPayload)
			if existing.Creator() == candidate.Creator() && ep.NextOwner != transfer.NextOwner {
				conflicting = append(conflicting, existing)
			}
		}
		if len(conflicting) > 0 {
			return ForkCheck{Kind: DoubleSpend, Attacker: candidate.Creator(), Conflicting: conflicting}
		}
	}
	if sibling, ok := c.byPrev[candidate.PrevID()]; ok && sibling.ID() != candidate.ID() {
		return ForkCheck{Kind: PositionConflict, Conflicting: []*record.Record{sibling}}
	}
	return ForkCheck{Kind: NotFork}
}

// WalkToRoot returns the records from latest back to the root, following
// prev-id links. The walk visits each record exactly once.
func (c *Chain) WalkToRoot() []*record.Record {
	out := make([]*record.Record, 0, c.Len())
	for cur := c.Latest(); cur != nil; {
		out = append(out, cur)
		if cur.PrevID() == "" {
			break
		}
		cur = c.byID[cur.PrevID()]
	}
	return out
}

// chainJSON is the persisted form. Records appear in insertion order so
// round-trips preserve every id and signature verbatim.
type chainJSON struct {
	ID      string           `json:"id"`
	Serial  uint64           `json:"serial"`
	Value   uint64           `json:"value"`
	Records []*record.Record `json:"records"`
}

// Serialize returns the canonical JSON dump of the log.
func (c *Chain) Serialize() ([]byte, error) {
	records := make([]*record.Record, 0, c.Len())
	records = append(records, c.root)
	if c.ownership != nil {
		records = append(records, c.ownership)
	}
	records = append(records, c.transfers...)
	return json.Marshal(chainJSON{ID: c.id, Serial: c.serial, Value: c.value, Records: records})
}

// Deserialize restores a chain from its serialized form, revalidating
// every invariant by replaying the log. Dumps that break single-path,
// ordering or ownership rules are rejected.
func Deserialize(data []byte) (*Chain, error) {
	var raw chainJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLog, err)
	}
	if len(raw.Records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrCorruptLog)
	}
	root := raw.Records[0]
	if !root.IsSystemRoot() {
		return nil, fmt.Errorf("%w: head is not a system root", ErrCorruptLog)
	}
	if root.ID() != raw.ID {
		return nil, fmt.Errorf("%w: chain id %s does not match root %s", ErrCorruptLog, raw.ID, root.ID())
	}
	c := &Chain{
		id:     root.ID(),
		serial: raw.Serial,
		value:  raw.Value,
		root:   root,
		byID:   map[string]*record.Record{root.ID(): root},
		byPrev: make(map[string]*record.Record),
	}
	for _, rec := range raw.Records[1:] {
		if err := c.Append(rec); err != nil {
			return nil, fmt.Errorf("%w: replay %s: %v", ErrCorruptLog, rec.ID(), err)
		}
	}
	return c, nil
}
