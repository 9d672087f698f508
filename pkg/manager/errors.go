// Copyright 2025 Certen Protocol
//
// Chain manager errors

package manager

import "errors"

// Common errors for chain management
var (
	ErrChainNotFound = errors.New("chain not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrNotOwner      = errors.New("user is not the current owner")
)
