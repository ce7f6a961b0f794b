package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type TransactionType string

const (
	TxTopUp       TransactionType = "TOP_UP"
	TxWithdrawal  TransactionType = "WITHDRAWAL"
	TxChatPayment TransactionType = "CHAT_PAYMENT"
	TxCallPayment TransactionType = "CALL_PAYMENT"
	TxHoldFunds   TransactionType = "HOLD_FUNDS"
	TxSettleFunds TransactionType = "SETTLE_FUNDS"
	TxRefund      TransactionType = "REFUND"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusHeld      TransactionStatus = "HELD"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Transaction is one logical monetary event. Amount is the subject amount in
// paisa; the split breakdown lives in the typed metadata. Once the status is
// terminal the row is immutable; status transitions are the only permitted
// mutation before that.
type Transaction struct {
	ID             int               `json:"id" db:"id"`
	TransactionID  string            `json:"transaction_id" db:"transaction_id"`
	IdempotencyKey string            `json:"idempotency_key" db:"idempotency_key"`
	Type           TransactionType   `json:"type" db:"type"`
	Status         TransactionStatus `json:"status" db:"status"`
	Amount         int64             `json:"amount" db:"amount"`
	Currency       string            `json:"currency" db:"currency"`
	UserID         int               `json:"user_id" db:"user_id"`
	ReferenceID    string            `json:"reference_id,omitempty" db:"reference_id"`
	Metadata       json.RawMessage   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// TransactionMetadata is the tagged union of per-type metadata payloads.
// Each transaction type carries exactly one of the structs below, so the
// fields that exist for a call settlement vs. a TOP_UP are known at compile
// time while the audit log still serializes them uniformly as JSONB.
type TransactionMetadata interface {
	TransactionType() TransactionType
}

// TransferMetadata covers direct payer->payee charges (chat and call
// payments billed without a prior hold). Type carries the concrete charge
// type since both share this shape.
type TransferMetadata struct {
	Type        TransactionType `json:"-"`
	PayerID     int             `json:"payer_id"`
	PayeeID     int             `json:"payee_id"`
	ReferenceID string          `json:"reference_id,omitempty"` // message id or call id
	PayeeShare  int64           `json:"payee_share"`
	PlatformFee int64           `json:"platform_fee"`
}

func (m TransferMetadata) TransactionType() TransactionType { return m.Type }

// HoldMetadata describes the estimate behind a funds hold.
type HoldMetadata struct {
	CallID           string `json:"call_id"`
	CallKind         string `json:"call_kind,omitempty"`
	EstimatedSeconds int    `json:"estimated_seconds,omitempty"`
}

func (m HoldMetadata) TransactionType() TransactionType { return TxHoldFunds }

// SettlementMetadata records how a hold was resolved, including the overrun
// policy outcome when the actual cost exceeded the held estimate.
type SettlementMetadata struct {
	CallID          string `json:"call_id"`
	PayeeID         int    `json:"payee_id"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	HeldAmount      int64  `json:"held_amount"`
	ChargedAmount   int64  `json:"charged_amount"`
	PayeeShare      int64  `json:"payee_share"`
	PlatformFee     int64  `json:"platform_fee"`
	RefundedAmount  int64  `json:"refunded_amount,omitempty"`
	OverrunAmount   int64  `json:"overrun_amount,omitempty"`
	CappedToHold    bool   `json:"capped_to_hold,omitempty"`
}

func (m SettlementMetadata) TransactionType() TransactionType { return TxSettleFunds }

// RefundMetadata explains why held funds went back to the payer.
type RefundMetadata struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

func (m RefundMetadata) TransactionType() TransactionType { return TxRefund }

// TopUpMetadata ties a wallet credit to the external payment that funded it.
type TopUpMetadata struct {
	PaymentReference string `json:"payment_reference"`
	Gateway          string `json:"gateway,omitempty"`
}

func (m TopUpMetadata) TransactionType() TransactionType { return TxTopUp }

// WithdrawalMetadata carries the payout instructions the external payout
// collaborator executes asynchronously.
type WithdrawalMetadata struct {
	PayoutMethod  string `json:"payout_method" validate:"required,oneof=BANK UPI"`
	BankCode      string `json:"bank_code,omitempty" validate:"omitempty,max=11"`
	AccountNumber string `json:"account_number,omitempty" validate:"omitempty,max=20"`
	AccountName   string `json:"account_name,omitempty" validate:"omitempty,max=140"`
	UPIHandle     string `json:"upi_handle,omitempty" validate:"omitempty,max=80"`
}

func (m WithdrawalMetadata) TransactionType() TransactionType { return TxWithdrawal }

// EncodeMetadata serializes a typed metadata payload for the JSONB column.
func EncodeMetadata(m TransactionMetadata) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode transaction metadata: %w", err)
	}
	return data, nil
}
