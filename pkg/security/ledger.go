// Copyright 2025 Certen Protocol
//
// Security Ledger - blacklist, audit events and fork-warning processing
//
// The ledger owns the whole security state: the blacklist set, the
// append-only event log and the approved-fork set. Validators read it
// through the narrow SecurityState surface; mutation happens only through
// the typed write methods here so every change is auditable. Consumers
// can subscribe to the event stream through an event feed.

package security

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"

	"github.com/saintthor/chainsim/pkg/network"
)

// Ledger holds the process-lifetime security state.
type Ledger struct {
	mu sync.RWMutex

	blacklist map[string]blacklistEntry
	events    []Event
	approved  map[string]struct{} // prevID + "|" + recordID

	feed event.Feed

	logger *log.Logger
}

// LedgerConfig holds ledger configuration.
type LedgerConfig struct {
	Logger *log.Logger
}

// NewLedger creates an empty security ledger.
func NewLedger(cfg *LedgerConfig) *Ledger {
	if cfg == nil {
		cfg = &LedgerConfig{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[SecurityLedger] ", log.LstdFlags)
	}
	return &Ledger{
		blacklist: make(map[string]blacklistEntry),
		approved:  make(map[string]struct{}),
		logger:    cfg.Logger,
	}
}

// ====== Blacklist ======

// AddToBlacklist inserts a creator into the blacklist and appends a
// blacklisted event. No-op when already present.
func (l *Ledger) AddToBlacklist(userPub string, reason BlacklistReason, tick uint64) {
	l.mu.Lock()
	if _, ok := l.blacklist[userPub]; ok {
		l.mu.Unlock()
		return
	}
	l.blacklist[userPub] = blacklistEntry{Reason: reason, Tick: tick, Time: time.Now()}
	ev := l.appendEventLocked(Event{
		Type:    EventBlacklisted,
		Tick:    tick,
		Subject: userPub,
		Reason:  string(reason),
	})
	l.mu.Unlock()

	l.logger.Printf("blacklisted %s (%s) at tick %d", shortKey(userPub), reason, tick)
	l.feed.Send(ev)
}

// RemoveFromBlacklist removes a creator and appends an event. No-op when
// absent.
func (l *Ledger) RemoveFromBlacklist(userPub string, tick uint64) {
	l.mu.Lock()
	if _, ok := l.blacklist[userPub]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.blacklist, userPub)
	ev := l.appendEventLocked(Event{
		Type:    EventUnblacklisted,
		Tick:    tick,
		Subject: userPub,
	})
	l.mu.Unlock()

	l.logger.Printf("removed %s from blacklist at tick %d", shortKey(userPub), tick)
	l.feed.Send(ev)
}

// IsBlacklisted reports whether the creator is blacklisted.
func (l *Ledger) IsBlacklisted(userPub string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.blacklist[userPub]
	return ok
}

// BlacklistSize returns the number of blacklisted creators.
func (l *Ledger) BlacklistSize() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blacklist)
}

// Blacklist returns a copy of the blacklisted creator set.
func (l *Ledger) Blacklist() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.blacklist))
	for pub := range l.blacklist {
		out = append(out, pub)
	}
	return out
}

// ====== Approved forks ======

// ApproveFork records a (prev-id, record-id) pair as an accepted
// position conflict. Nothing in the simulation approves forks on its
// own; this is an explicit admin call.
func (l *Ledger) ApproveFork(prevID, recordID string, tick uint64) {
	l.mu.Lock()
	l.approved[forkKey(prevID, recordID)] = struct{}{}
	ev := l.appendEventLocked(Event{
		Type:    EventForkApproved,
		Tick:    tick,
		Subject: recordID,
		Details: map[string]string{"prev_id": prevID},
	})
	l.mu.Unlock()
	l.feed.Send(ev)
}

// IsForkApproved reports whether the pair was explicitly approved.
func (l *Ledger) IsForkApproved(prevID, recordID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.approved[forkKey(prevID, recordID)]
	return ok
}

func forkKey(prevID, recordID string) string { return prevID + "|" + recordID }

// ====== Events ======

// appendEventLocked stamps and stores an event. Caller holds the write
// lock; the caller sends on the feed after unlocking.
func (l *Ledger) appendEventLocked(ev Event) Event {
	ev.ID = uuid.New().String()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	l.events = append(l.events, ev)
	return ev
}

// AppendEvent records an arbitrary audit entry.
func (l *Ledger) AppendEvent(ev Event) {
	l.mu.Lock()
	stamped := l.appendEventLocked(ev)
	l.mu.Unlock()
	l.feed.Send(stamped)
}

// Events returns a copy of the ordered event log.
func (l *Ledger) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// EventCount returns the number of recorded events.
func (l *Ledger) EventCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// SubscribeEvents registers a channel for future events.
func (l *Ledger) SubscribeEvents(ch chan<- Event) event.Subscription {
	return l.feed.Subscribe(ch)
}

// ====== Fork warnings ======

// GenerateForkWarning builds a FORK_WARNING message for the detected
// fork. Severity and recommended action are keyed by reason: a double
// spend is critical and calls for blacklisting, a position conflict
// calls for investigation, an unauthorized transfer for blacklisting.
func (l *Ledger) GenerateForkWarning(details ForkDetails) *network.Message {
	warning := ForkWarning{
		Timestamp:   details.Tick,
		ForkDetails: details,
	}
	switch details.Reason {
	case ReasonDoubleSpend:
		warning.Severity = SeverityCritical
		warning.RecommendedAction = ActionBlacklistUser
	case ReasonPositionConflict:
		warning.Severity = SeverityHigh
		warning.RecommendedAction = ActionInvestigateFork
	case ReasonUnauthorizedTransfer:
		warning.Severity = SeverityHigh
		warning.RecommendedAction = ActionBlacklistUser
	default:
		warning.Severity = SeverityMedium
		warning.RecommendedAction = ActionMonitor
	}
	return network.NewMessage(network.MsgForkWarning, warning, details.Tick, "")
}

// ProcessHighPrioritySecurityMessage applies a high-priority security
// message to the ledger. A fork warning for a double spend blacklists
// the attacker with reason DoubleSpendAttack and appends an audit event;
// other reasons are logged without automatic blacklisting.
func (l *Ledger) ProcessHighPrioritySecurityMessage(msg *network.Message, tick uint64) ([]Action, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	if msg.Type != network.MsgForkWarning {
		return nil, fmt.Errorf("%w: %s", ErrNotSecurityMessage, msg.Type)
	}
	warning, ok := msg.Data.(ForkWarning)
	if !ok {
		if wp, okp := msg.Data.(*ForkWarning); okp {
			warning = *wp
		} else {
			return nil, ErrMalformedWarning
		}
	}

	details := warning.ForkDetails
	l.AppendEvent(Event{
		Type:    EventForkWarning,
		Tick:    tick,
		Subject: details.RecordID,
		Reason:  string(details.Reason),
		Details: map[string]string{
			"chain_id": details.ChainID,
			"attacker": details.Attacker,
			"severity": string(warning.Severity),
		},
	})

	if details.Reason == ReasonDoubleSpend && details.Attacker != "" {
		l.AddToBlacklist(details.Attacker, ReasonDoubleSpendAttack, tick)
		return []Action{
			{Kind: ActionTakenBlacklist, Subject: details.Attacker},
		}, nil
	}

	l.logger.Printf("fork warning (%s) on chain %s record %s, no automatic action",
		details.Reason, shortKey(details.ChainID), shortKey(details.RecordID))
	return []Action{{Kind: ActionTakenLogged, Subject: details.RecordID}}, nil
}

// shortKey trims long hex identities for log lines.
func shortKey(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12] + "..."
}
