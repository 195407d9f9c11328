package tanda

import (
	"errors"
	"fmt"
)

// ErrorCode categorises engine errors.
type ErrorCode string

const (
	// CodeNotFound: the ledger or a local collection has no such entity.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeValidation: input rejected before reaching the ledger.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeTransient: network, timeout or insufficient funds. Retried, never fatal.
	CodeTransient ErrorCode = "TRANSIENT"

	// CodeConflict: another transition owns the record right now.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeInvariant: state that correct flows never produce.
	CodeInvariant ErrorCode = "INVARIANT"
)

// Error is the structured error returned across package boundaries.
type Error struct {
	Code    ErrorCode
	Message string
	TandaID string
	Wallet  string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TandaID != "" {
		msg += fmt.Sprintf(" (tanda=%s", e.TandaID)
		if e.Wallet != "" {
			msg += fmt.Sprintf(", wallet=%s", e.Wallet)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error.
func NewValidationError(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// NewNotFoundError creates a not-found error for a tanda.
func NewNotFoundError(tandaID string) *Error {
	return &Error{Code: CodeNotFound, Message: "tanda not found", TandaID: tandaID}
}

// NewTransientError wraps a retryable failure.
func NewTransientError(op string, err error) *Error {
	return &Error{Code: CodeTransient, Message: op, Err: err}
}

// HasCode reports whether err wraps an *Error with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsNotFound returns true for CodeNotFound errors.
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

// IsTransient returns true for CodeTransient errors.
func IsTransient(err error) bool { return HasCode(err, CodeTransient) }

// IsConflict returns true for CodeConflict errors.
func IsConflict(err error) bool { return HasCode(err, CodeConflict) }

// IsValidation returns true for CodeValidation errors.
func IsValidation(err error) bool { return HasCode(err, CodeValidation) }
