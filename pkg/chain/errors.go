// Copyright 2025 Certen Protocol
//
// Chain package errors

package chain

import "errors"

// Common errors for chain log operations
var (
	ErrNilRecord           = errors.New("record cannot be nil")
	ErrMalformedDefinition = errors.New("definition is malformed")
	ErrInvalidRange        = errors.New("definition range is invalid")
	ErrRootExists          = errors.New("chain already has a root record")
	ErrOwnershipExists     = errors.New("chain already has an ownership record")
	ErrOwnershipTooLate    = errors.New("ownership is only valid directly after the root")
	ErrRecordPresent       = errors.New("record is already present in the log")
	ErrPositionConflict    = errors.New("another record already extends the same predecessor")
	ErrWrongPosition       = errors.New("record does not extend the current tail")
	ErrOwnershipViolation  = errors.New("transfer creator is not the current owner")
	ErrWrongChain          = errors.New("transfer references a different chain")
	ErrUnexpectedPayload   = errors.New("payload kind is not appendable")
	ErrCorruptLog          = errors.New("serialized chain log violates invariants")
)
