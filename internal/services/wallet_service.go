package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/talkpay/backend/internal/models"
)

// WalletService is the HTTP surface over the ledger engine for end users and
// the (mocked) payment-gateway collaborator.
type WalletService struct {
	db        *sql.DB
	engine    *LedgerService
	payouts   *PayoutService
	intents   *TopUpIntentService
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, engine *LedgerService, payouts *PayoutService, intents *TopUpIntentService) *WalletService {
	return &WalletService{
		db:        db,
		engine:    engine,
		payouts:   payouts,
		intents:   intents,
		validator: NewValidationHelper(),
	}
}

// TopUpConfirmation is the payload the payment gateway posts once an
// external charge succeeds. The reference doubles as the idempotency key.
type TopUpConfirmation struct {
	PaymentReference string `json:"paymentReference" validate:"required,max=64"`
	UserID           int    `json:"userId" validate:"omitempty,gt=0"`
	Amount           int64  `json:"amount" validate:"omitempty,gt=0"`
}

// WithdrawalRequest carries the amount and payout instructions.
type WithdrawalRequest struct {
	Amount int64                     `json:"amount" validate:"required,gt=0"`
	Payout models.WithdrawalMetadata `json:"payout" validate:"required"`
}

// GetBalance returns the cached wallet balance
// @Summary Get wallet balance
// @Description Read the current wallet balance for the authenticated user
// @Tags wallet
// @Produce json
// @Success 200 {object} object{balance=int64,currency=string}
// @Failure 404 {object} ErrorResponse
// @Router /wallet/balance [get]
func (s *WalletService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.engine.GetBalance(userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"balance":  balance,
		"currency": s.engine.billing.cfg.Currency,
	})
}

// ConfirmTopUp handles the payment-gateway success webhook
// @Summary Confirm an external top-up
// @Description Credit a wallet after the payment gateway confirms a charge; idempotent on paymentReference
// @Tags wallet
// @Accept json
// @Produce json
// @Param confirmation body TopUpConfirmation true "Gateway confirmation"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Router /wallet/topup/confirm [post]
func (s *WalletService) ConfirmTopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpConfirmation
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	userID, amount := req.UserID, req.Amount
	if s.intents != nil {
		if intent, err := s.intents.Resolve(r.Context(), req.PaymentReference); err == nil {
			userID, amount = intent.UserID, intent.Amount
		}
	}
	if userID == 0 || amount <= 0 {
		SendErrorResponse(w, "Unknown payment reference and no user/amount supplied", http.StatusBadRequest, nil)
		return
	}

	txn, err := s.engine.TopUp(userID, amount, req.PaymentReference)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": txn,
	})
}

// RequestWithdrawal debits the wallet and queues an asynchronous payout
// @Summary Request a withdrawal
// @Description Debit the wallet and queue the payout for the external partner
// @Tags wallet
// @Accept json
// @Produce json
// @Param withdrawal body WithdrawalRequest true "Withdrawal request"
// @Success 202 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Router /wallet/withdraw [post]
func (s *WalletService) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req WithdrawalRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := s.engine.Withdraw(userID, req.Amount, req.Payout)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	if s.payouts != nil {
		if err := s.payouts.Enqueue(r.Context(), txn.TransactionID); err != nil {
			// The withdrawal is committed; the payout worker also sweeps
			// PENDING withdrawals, so a failed enqueue only delays it.
			log.Printf("[WALLET] Failed to enqueue payout for %s: %v", txn.TransactionID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": txn,
	})
}

// ListTransactions returns the user's transaction history
// @Summary List wallet transactions
// @Description Transaction history for the authenticated user with optional type/status filters
// @Tags wallet
// @Produce json
// @Param type query string false "Filter by transaction type"
// @Param status query string false "Filter by status"
// @Param limit query int false "Max rows (default 50, max 200)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /wallet/transactions [get]
func (s *WalletService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	transactions, err := s.fetchTransactions(userID, r.URL.Query().Get("type"), r.URL.Query().Get("status"), limit)
	if err != nil {
		log.Printf("[WALLET] Failed to fetch transactions for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

func (s *WalletService) fetchTransactions(userID int, txType, status string, limit int) ([]models.Transaction, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}
	argIndex := 2

	if txType != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, txType)
		argIndex++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}

	query := `
		SELECT transaction_id, idempotency_key, type, status, amount, currency, user_id, COALESCE(reference_id, ''), metadata, created_at, updated_at
		FROM transactions
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at DESC` + fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var txn models.Transaction
		err := rows.Scan(
			&txn.TransactionID, &txn.IdempotencyKey, &txn.Type, &txn.Status, &txn.Amount,
			&txn.Currency, &txn.UserID, &txn.ReferenceID, &txn.Metadata, &txn.CreatedAt, &txn.UpdatedAt)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	return transactions, rows.Err()
}

// authenticatedUserID pulls the user id the auth middleware stored on the
// request context.
func authenticatedUserID(r *http.Request) (int, bool) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// decodeJSONBody applies the shared body limits and strict decoding rules.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// writeLedgerError maps engine errors to HTTP statuses. Business-rule
// failures stay specific so front-ends can render guidance; invariant
// violations surface as a generic failure.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient funds", http.StatusPaymentRequired, nil)
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrHoldNotFound), errors.Is(err, ErrTransactionNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrHoldAlreadyResolved), errors.Is(err, ErrAlreadyFinalized):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, ErrBelowMinimumAmount), errors.Is(err, ErrAmountOutOfRange),
		errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrMissingReference),
		errors.Is(err, ErrAccountInactive):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		if IsInvariantViolation(err) {
			log.Printf("[LEDGER] Invariant violation surfaced: %v", err)
		}
		SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
	}
}
