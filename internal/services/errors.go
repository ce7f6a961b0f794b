package services

import (
	"errors"
	"fmt"
)

// Business-rule failures. These are rejected before any mutation and are
// mapped to specific HTTP statuses at the handler boundary so front-ends can
// render actionable guidance.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountInactive     = errors.New("account not active")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrHoldNotFound        = errors.New("hold not found")
	ErrHoldAlreadyResolved = errors.New("hold already resolved")
	ErrBelowMinimumAmount  = errors.New("amount below configured minimum")
	ErrAmountOutOfRange    = errors.New("amount outside allowed range")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrMissingReference    = errors.New("payment reference is required")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyFinalized    = errors.New("transaction already finalized")
)

// InvariantViolationError marks an engine bug, not bad input: entries that do
// not net to zero, or a guarded balance going negative. The enclosing atomic
// unit is always aborted and the error is logged with full transaction
// context before being surfaced as a generic failure.
type InvariantViolationError struct {
	TransactionID string
	Detail        string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violated for transaction %s: %s", e.TransactionID, e.Detail)
}

// IsInvariantViolation distinguishes engine bugs from user-facing errors.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolationError
	return errors.As(err, &iv)
}
