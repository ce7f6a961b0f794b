package models

import (
	"time"
)

// AccountKind identifies what a balance bucket is for.
type AccountKind string

const (
	AccountUserWallet       AccountKind = "USER_WALLET"
	AccountInfluencerWallet AccountKind = "INFLUENCER_WALLET"
	AccountRevenue          AccountKind = "REVENUE"
	AccountEscrow           AccountKind = "ESCROW"
	AccountGatewayLiability AccountKind = "PAYMENT_GATEWAY_LIABILITY"
)

// SystemAccountKinds are singletons created at bootstrap; they carry no owner.
var SystemAccountKinds = []AccountKind{
	AccountRevenue,
	AccountEscrow,
	AccountGatewayLiability,
}

// IsWallet reports whether the kind is a user-owned wallet.
func (k AccountKind) IsWallet() bool {
	return k == AccountUserWallet || k == AccountInfluencerWallet
}

// Account is one balance-holding bucket. Balance is paisa (minor units) and
// is only ever mutated together with committed ledger entries. Version is
// bumped on every balance write for optimistic locking and is also the
// per-account sequence used to order balance notifications.
type Account struct {
	ID        string      `json:"id" db:"id"`
	UserID    *int        `json:"user_id,omitempty" db:"user_id"` // nil for system accounts
	Kind      AccountKind `json:"kind" db:"kind"`
	Currency  string      `json:"currency" db:"currency"`
	Balance   int64       `json:"balance" db:"balance"`
	Version   int64       `json:"version" db:"version"`
	Active    bool        `json:"active" db:"active"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}
