// Copyright 2025 Certen Protocol
//
// Security Ledger types - events, fork warnings, blacklist entries

package security

import (
	"time"
)

// ForkReason classifies why a fork warning was raised.
type ForkReason string

const (
	ReasonDoubleSpend          ForkReason = "DOUBLE_SPEND"
	ReasonPositionConflict     ForkReason = "POSITION_CONFLICT"
	ReasonUnauthorizedTransfer ForkReason = "UNAUTHORIZED_TRANSFER"
)

// Severity grades a security finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// RecommendedAction tells message consumers how to react to a warning.
type RecommendedAction string

const (
	ActionBlacklistUser   RecommendedAction = "blacklist_user"
	ActionInvestigateFork RecommendedAction = "investigate_fork"
	ActionMonitor         RecommendedAction = "monitor"
)

// BlacklistReason records why a creator was blacklisted.
type BlacklistReason string

const (
	ReasonDoubleSpendAttack BlacklistReason = "DoubleSpendAttack"
	ReasonUnauthorized      BlacklistReason = "UnauthorizedTransfer"
	ReasonManual            BlacklistReason = "Manual"
)

// EventType classifies ledger events.
type EventType string

const (
	EventBlacklisted   EventType = "blacklisted"
	EventUnblacklisted EventType = "unblacklisted"
	EventForkWarning   EventType = "fork_warning"
	EventForkApproved  EventType = "fork_approved"
)

// Event is one append-only audit entry.
type Event struct {
	ID      string            `json:"id"`
	Type    EventType         `json:"type"`
	Tick    uint64            `json:"tick"`
	Time    time.Time         `json:"time"`
	Subject string            `json:"subject,omitempty"` // creator public key, record id, ...
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ForkDetails carries the specifics of a detected fork.
type ForkDetails struct {
	Reason         ForkReason `json:"reason"`
	ChainID        string     `json:"chain_id"`
	RecordID       string     `json:"record_id"`
	PrevID         string     `json:"prev_id,omitempty"`
	Attacker       string     `json:"attacker,omitempty"`
	ConflictingIDs []string   `json:"conflicting_ids,omitempty"`
	Tick           uint64     `json:"tick"`
}

// ForkWarning is the payload of a FORK_WARNING message.
type ForkWarning struct {
	Severity          Severity          `json:"severity"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	Timestamp         uint64            `json:"timestamp"` // tick
	ForkDetails       ForkDetails       `json:"fork_details"`
}

// ActionKind classifies actions taken while processing a security
// message.
type ActionKind string

const (
	ActionTakenBlacklist ActionKind = "blacklisted_attacker"
	ActionTakenLogged    ActionKind = "logged"
)

// Action reports one step taken by the ledger while processing a
// high-priority security message.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Subject string     `json:"subject,omitempty"`
}

// blacklistEntry is the stored state for one blacklisted creator.
type blacklistEntry struct {
	Reason BlacklistReason
	Tick   uint64
	Time   time.Time
}
