// Copyright 2025 Certen Protocol
//
// Security package errors

package security

import "errors"

// Common errors for security message processing
var (
	ErrNotSecurityMessage = errors.New("message is not a security message")
	ErrMalformedWarning   = errors.New("fork warning payload is malformed")
)
