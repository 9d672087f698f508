// Copyright 2025 Certen Protocol
//
// Package archive provides sentinel errors for archive operations.

package archive

import "errors"

// Sentinel errors for archive operations
var (
	// ErrChainNotArchived is returned when a chain id has no snapshot
	ErrChainNotArchived = errors.New("chain is not archived")

	// ErrIndexNotFound is returned when no owner index was persisted
	ErrIndexNotFound = errors.New("owner index not found")
)
