// Copyright 2025 Certen Protocol
//
// Validator results - typed outcomes for every public check
//
// Every public validator method returns a Result carrying an outcome
// code and a diagnostic message; no error escapes as a panic or a bare
// error value. The first failing precondition short-circuits the check.

package validator

import "fmt"

// Code identifies a validation outcome.
type Code string

// Success and progress codes.
const (
	CodeValid               Code = "Valid"
	CodeConfirmed           Code = "Confirmed"
	CodeConfirmationPending Code = "ConfirmationPending"
)

// Input error codes.
const (
	CodeBlockNull Code = "BlockNull"
	CodeChainNull Code = "ChainNull"
)

// Structural error codes.
const (
	CodeBlockIDMissing          Code = "BlockIdMissing"
	CodeSignatureMissing        Code = "SignatureMissing"
	CodeCreatorMissing          Code = "CreatorMissing"
	CodeMissingPreviousBlockID  Code = "MissingPreviousBlockId"
	CodePreviousBlockNotFound   Code = "PreviousBlockNotFound"
	CodeCircularReference       Code = "CircularReference"
	CodeInvalidSystemBlock      Code = "InvalidSystemBlock"
	CodeInvalidRootBlockData    Code = "InvalidRootBlockData"
	CodeSignatureInvalid        Code = "SignatureInvalid"
	CodeSignatureVerifyFailed   Code = "SignatureVerificationFailed"
	CodeBasicValidationFailed   Code = "BasicValidationFailed"
	CodeLogicalValidationFailed Code = "LogicalValidationFailed"
)

// Policy error codes.
const (
	CodeCreatorBlacklisted  Code = "CreatorBlacklisted"
	CodeOwnershipViolation  Code = "OwnershipViolation"
	CodePositionConflict    Code = "PositionConflict"
	CodeDoubleSpendDetected Code = "DoubleSpendDetected"
	CodeUnapprovedFork      Code = "UnapprovedFork"
	CodeUnknownForkType     Code = "UnknownForkType"
)

// Temporal error codes.
const (
	CodeTimeValidationFailed Code = "TimeValidationFailed"
	CodeConflictDetected     Code = "ConflictDetected"
	CodeWarningDetected      Code = "WarningDetected"
)

// Runtime error codes.
const (
	CodeVerificationError        Code = "VerificationError"
	CodeIntegrityVerifyError     Code = "IntegrityVerificationError"
	CodeLegalityValidationError  Code = "LegalityValidationError"
	CodeSecurityValidationError  Code = "SecurityValidationError"
)

// Result is the typed outcome of a validator check.
type Result struct {
	Valid   bool   `json:"valid"`
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`

	// ShouldReject is set by reception-time validation when the record
	// arrived too late to be trusted.
	ShouldReject bool `json:"should_reject,omitempty"`

	// RemainingTicks is set while a confirmation is still pending.
	RemainingTicks uint64 `json:"remaining_ticks,omitempty"`
}

func valid() Result {
	return Result{Valid: true, Code: CodeValid}
}

func confirmed() Result {
	return Result{Valid: true, Code: CodeConfirmed}
}

func pending(remaining uint64) Result {
	return Result{
		Valid:          false,
		Code:           CodeConfirmationPending,
		Message:        fmt.Sprintf("confirmation pending, %d ticks remaining", remaining),
		RemainingTicks: remaining,
	}
}

func fail(code Code, format string, args ...interface{}) Result {
	return Result{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Pending reports whether the result is the non-failure progress state.
func (r Result) Pending() bool { return r.Code == CodeConfirmationPending }

// AttackType classifies a detected double spend.
type AttackType string

const (
	AttackDoubleSpend       AttackType = "DoubleSpend"
	AttackDuplicateTransfer AttackType = "DuplicateTransfer"
)

// DoubleSpendReport is the non-destructive outcome of double-spend
// detection.
type DoubleSpendReport struct {
	IsDoubleSpend      bool
	Attacker           string
	ConflictingRecords []string // record ids already in the log
	AttackType         AttackType
	Severity           string
}
