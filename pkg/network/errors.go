// Copyright 2025 Certen Protocol
//
// Network package errors

package network

import "errors"

// Common errors for the simulated transport
var (
	ErrUnknownNode = errors.New("node is not registered with the router")
)
