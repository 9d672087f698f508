// Copyright 2025 Certen Protocol
//
// Key package errors

package keys

import "errors"

// Common errors for key handling and verification
var (
	ErrKeyInvalid       = errors.New("key is malformed")
	ErrSignatureInvalid = errors.New("signature does not verify")
)
