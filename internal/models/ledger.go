package models

import (
	"time"
)

// EntryDirection marks which side of the books a ledger entry sits on.
type EntryDirection string

const (
	Debit  EntryDirection = "DEBIT"
	Credit EntryDirection = "CREDIT"
)

// Entry is one immutable leg of a transaction against one account. Amount is
// always a non-negative magnitude in paisa; the direction carries the sign.
// For every transaction the sum of CREDIT amounts equals the sum of DEBIT
// amounts, and an account's balance is always the net of its committed
// entries.
type Entry struct {
	ID            int64          `json:"id" db:"id"`
	TransactionID string         `json:"transaction_id" db:"transaction_id"`
	AccountID     string         `json:"account_id" db:"account_id"`
	Amount        int64          `json:"amount" db:"amount"`
	Direction     EntryDirection `json:"direction" db:"direction"`
	Balance       int64          `json:"balance" db:"balance"` // account balance after this entry
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}
