// Copyright 2025 Certen Protocol
//
// Reception timing - broadcast-time estimation, arrival-delay rejection
// and confirmation-window adjudication

package validator

import (
	"math"

	"github.com/saintthor/chainsim/pkg/record"
)

// DefaultBroadcastDelay is the fallback broadcast time when network
// parameters are missing.
const DefaultBroadcastDelay = 9

// NetworkParams describes the simulated network shape for timing checks.
type NetworkParams struct {
	NodeCount      int
	AvgConnections int
	MaxDelay       uint64
}

// Warning is the slice of a fork warning the confirmation check needs:
// when it was raised and what it references.
type Warning struct {
	Tick     uint64
	RecordID string
	ChainID  string
}

// BroadcastTime estimates the ticks needed to reach the whole network
// from one origin: ceil(log(nodeCount) / log(max(2, avgConnections)))
// hops, each costing up to maxDelay ticks, never less than one tick.
// Missing parameters fall back to maxDelay (default 9).
func BroadcastTime(p NetworkParams) uint64 {
	if p.NodeCount <= 0 || p.AvgConnections <= 0 {
		if p.MaxDelay >= 1 {
			return p.MaxDelay
		}
		return DefaultBroadcastDelay
	}
	base := p.AvgConnections
	if base < 2 {
		base = 2
	}
	// The 1e-9 trims float noise so exact powers (log2(8) = 3) do not
	// round up an extra hop.
	hops := math.Ceil(math.Log(float64(p.NodeCount))/math.Log(float64(base)) - 1e-9)
	perHop := p.MaxDelay
	if perHop < 1 {
		perHop = 1
	}
	bt := uint64(hops) * perHop
	if bt < 1 {
		return 1
	}
	return bt
}

// ValidateReceptionTime rejects records that arrived later than twice
// the broadcast time after their creation tick.
func (v *Validator) ValidateReceptionTime(rec *record.Record, receiveTick uint64, params NetworkParams) Result {
	if rec == nil {
		return fail(CodeBlockNull, "record is nil")
	}
	var delay uint64
	if receiveTick > rec.Tick() {
		delay = receiveTick - rec.Tick()
	}
	limit := 2 * BroadcastTime(params)
	if delay > limit {
		r := fail(CodeTimeValidationFailed, "record %s arrived %d ticks after creation, limit %d", rec.ID(), delay, limit)
		r.ShouldReject = true
		return r
	}
	return valid()
}

// ValidateReceptionConfirmation adjudicates the confirmation window for
// a received record. The wait is four broadcast times from the receive
// tick. Before the window closes the result is ConfirmationPending with
// the remaining wait; afterwards any conflicting record or referencing
// warning whose tick falls inside the inclusive window invalidates the
// record, otherwise it is confirmed.
func (v *Validator) ValidateReceptionConfirmation(
	rec *record.Record,
	receiveTick, nowTick uint64,
	params NetworkParams,
	conflicts []*record.Record,
	warnings []Warning,
) Result {
	if rec == nil {
		return fail(CodeBlockNull, "record is nil")
	}
	wait := 4 * BroadcastTime(params)
	waitEnd := receiveTick + wait
	if nowTick < waitEnd {
		return pending(waitEnd - nowTick)
	}

	for _, c := range conflicts {
		if c == nil || c.ID() == rec.ID() {
			continue
		}
		if c.Tick() >= receiveTick && c.Tick() <= waitEnd {
			return fail(CodeConflictDetected, "conflicting record %s at tick %d inside confirmation window [%d,%d]",
				c.ID(), c.Tick(), receiveTick, waitEnd)
		}
	}

	chainID := chainIDOf(rec)
	for _, w := range warnings {
		if w.Tick < receiveTick || w.Tick > waitEnd {
			continue
		}
		if w.RecordID == rec.ID() || (w.ChainID != "" && w.ChainID == chainID) {
			return fail(CodeWarningDetected, "fork warning at tick %d references record %s", w.Tick, rec.ID())
		}
	}
	return confirmed()
}

// chainIDOf extracts the chain a record belongs to: a transfer names it,
// a root is it, an ownership extends it directly.
func chainIDOf(rec *record.Record) string {
	switch p := rec.Payload().(type) {
	case *record.TransferPayload:
		return p.ChainID
	case *record.RootPayload:
		return rec.ID()
	case *record.OwnershipPayload:
		return rec.PrevID()
	default:
		return ""
	}
}
