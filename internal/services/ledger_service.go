package services

import (
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/talkpay/backend/internal/audit"
	"github.com/talkpay/backend/internal/models"
)

// LedgerService is the double-entry engine behind every monetary movement on
// the platform. Each public operation is one atomic unit: the transaction
// row, its entries and the affected account balances commit together or not
// at all. Affected accounts are row-locked in sorted id order so concurrent
// operations touching overlapping accounts cannot deadlock.
type LedgerService struct {
	db       *sql.DB
	billing  *BillingPolicy
	notifier *BalanceNotifier
	audit    *audit.Logger
}

func NewLedgerService(db *sql.DB, billing *BillingPolicy, notifier *BalanceNotifier) *LedgerService {
	return &LedgerService{
		db:       db,
		billing:  billing,
		notifier: notifier,
		audit:    audit.NewLogger(),
	}
}

// entrySpec is one planned leg of a transaction. userID is set for wallet
// accounts so committed balances can be pushed to the owner afterwards.
type entrySpec struct {
	account   *models.Account
	userID    int
	direction models.EntryDirection
	amount    int64
}

// walletChange captures a committed wallet balance for post-commit
// notification. Version is the account's new optimistic-lock version and
// doubles as the notification sequence number.
type walletChange struct {
	userID   int
	balance  int64
	currency string
	version  int64
}

// ChargeTransfer bills a payer and splits the gross between the payee and
// the platform revenue account: three entries, one transaction, one unit.
// Idempotent on (type, referenceID): a retried charge for the same message
// or call returns the original transaction untouched.
func (s *LedgerService) ChargeTransfer(payerUserID, payeeUserID int, grossAmount int64, txType models.TransactionType, referenceID string) (*models.Transaction, error) {
	if grossAmount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	idempotencyKey := ""
	if referenceID != "" {
		idempotencyKey = fmt.Sprintf("%s:%s", txType, referenceID)
		if existing, err := s.transactionByIdempotencyKey(tx, idempotencyKey); err == nil {
			log.Printf("[LEDGER] Duplicate %s charge for %s, returning original transaction %s", txType, referenceID, existing.TransactionID)
			return existing, nil
		} else if err != ErrTransactionNotFound {
			return nil, err
		}
	}

	payerID, err := s.walletAccountID(tx, payerUserID)
	if err != nil {
		return nil, err
	}
	payeeID, err := s.walletAccountID(tx, payeeUserID)
	if err != nil {
		return nil, err
	}
	revenueID, err := s.systemAccountID(tx, models.AccountRevenue)
	if err != nil {
		return nil, err
	}

	accounts, err := s.lockAccounts(tx, payerID, payeeID, revenueID)
	if err != nil {
		return nil, err
	}
	payer, payee, revenue := accounts[payerID], accounts[payeeID], accounts[revenueID]

	if payer.Balance < grossAmount {
		return nil, ErrInsufficientFunds
	}

	payeeShare, platformFee := s.billing.Split(grossAmount)

	txn := s.newTransaction(txType, models.StatusCompleted, grossAmount, payer.Currency, payerUserID, referenceID)
	if idempotencyKey != "" {
		// The unique key column backstops the pre-check under concurrent retries.
		txn.IdempotencyKey = idempotencyKey
	}
	meta := models.TransferMetadata{
		Type:        txType,
		PayerID:     payerUserID,
		PayeeID:     payeeUserID,
		ReferenceID: referenceID,
		PayeeShare:  payeeShare,
		PlatformFee: platformFee,
	}
	if err := s.insertTransaction(tx, txn, meta); err != nil {
		return nil, err
	}

	changes, err := s.postEntries(tx, txn.TransactionID, []entrySpec{
		{account: payer, userID: payerUserID, direction: models.Debit, amount: grossAmount},
		{account: payee, userID: payeeUserID, direction: models.Credit, amount: payeeShare},
		{account: revenue, direction: models.Credit, amount: platformFee},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LEDGER] Failed to commit charge %s: %v", txn.TransactionID, err)
		return nil, err
	}

	s.audit.LogTransaction(txn.TransactionID, string(txType), payerUserID, grossAmount, string(models.StatusCompleted))
	s.notifyWallets(changes)
	return txn, nil
}

// HoldFunds escrows amount from the user's wallet against referenceID (a
// call id). The debit is real immediately; the counterparty credit lands in
// the ESCROW system account so the books stay balanced while the hold is
// open. A retry for an open hold returns the existing transaction.
func (s *LedgerService) HoldFunds(userID int, amount int64, referenceID string, kind string, estimatedSeconds int) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if existing, err := s.holdTransaction(tx, referenceID, false); err == nil {
		if existing.Status == models.StatusHeld {
			return existing, nil
		}
		return nil, ErrHoldAlreadyResolved
	} else if err != ErrHoldNotFound {
		return nil, err
	}

	walletID, err := s.walletAccountID(tx, userID)
	if err != nil {
		return nil, err
	}
	escrowID, err := s.systemAccountID(tx, models.AccountEscrow)
	if err != nil {
		return nil, err
	}

	accounts, err := s.lockAccounts(tx, walletID, escrowID)
	if err != nil {
		return nil, err
	}
	wallet, escrow := accounts[walletID], accounts[escrowID]

	if wallet.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	txn := s.newTransaction(models.TxHoldFunds, models.StatusHeld, amount, wallet.Currency, userID, referenceID)
	meta := models.HoldMetadata{CallID: referenceID, CallKind: kind, EstimatedSeconds: estimatedSeconds}
	if err := s.insertTransaction(tx, txn, meta); err != nil {
		return nil, err
	}

	changes, err := s.postEntries(tx, txn.TransactionID, []entrySpec{
		{account: wallet, userID: userID, direction: models.Debit, amount: amount},
		{account: escrow, direction: models.Credit, amount: amount},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LEDGER] Failed to commit hold %s: %v", txn.TransactionID, err)
		return nil, err
	}

	s.audit.LogTransaction(txn.TransactionID, string(models.TxHoldFunds), userID, amount, string(models.StatusHeld))
	s.notifyWallets(changes)
	return txn, nil
}

// SettleHold resolves an open hold into a payee credit plus platform fee
// based on actualAmount. Unused held funds go back to the payer in the same
// unit. When actualAmount exceeds the hold, the delta is charged from the
// payer's wallet if the wallet still covers it; otherwise the settlement is
// capped at the held amount and the payee absorbs the shortfall.
func (s *LedgerService) SettleHold(referenceID string, actualAmount int64, payeeUserID int) (*models.Transaction, error) {
	if actualAmount < 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	hold, err := s.holdTransaction(tx, referenceID, true)
	if err != nil {
		return nil, err
	}
	if hold.Status != models.StatusHeld {
		return nil, ErrHoldAlreadyResolved
	}
	payerUserID, held := hold.UserID, hold.Amount

	payerID, err := s.walletAccountID(tx, payerUserID)
	if err != nil {
		return nil, err
	}
	payeeID, err := s.walletAccountID(tx, payeeUserID)
	if err != nil {
		return nil, err
	}
	escrowID, err := s.systemAccountID(tx, models.AccountEscrow)
	if err != nil {
		return nil, err
	}
	revenueID, err := s.systemAccountID(tx, models.AccountRevenue)
	if err != nil {
		return nil, err
	}

	accounts, err := s.lockAccounts(tx, payerID, payeeID, escrowID, revenueID)
	if err != nil {
		return nil, err
	}
	payer, payee := accounts[payerID], accounts[payeeID]
	escrow, revenue := accounts[escrowID], accounts[revenueID]

	charge, overrun, capped := actualAmount, int64(0), false
	if actualAmount > held {
		delta := actualAmount - held
		if payer.Balance >= delta {
			overrun = delta
		} else {
			charge, capped = held, true
			log.Printf("[LEDGER] Settlement for %s capped at held amount %d (actual %d, payer balance %d)",
				referenceID, held, actualAmount, payer.Balance)
		}
	}
	refund := int64(0)
	if charge < held {
		refund = held - charge
	}

	payeeShare, platformFee := s.billing.Split(charge)

	txn := s.newTransaction(models.TxSettleFunds, models.StatusCompleted, charge, hold.Currency, payerUserID, referenceID)
	meta := models.SettlementMetadata{
		CallID:         referenceID,
		PayeeID:        payeeUserID,
		HeldAmount:     held,
		ChargedAmount:  charge,
		PayeeShare:     payeeShare,
		PlatformFee:    platformFee,
		RefundedAmount: refund,
		OverrunAmount:  overrun,
		CappedToHold:   capped,
	}
	if err := s.insertTransaction(tx, txn, meta); err != nil {
		return nil, err
	}

	changes, err := s.postEntries(tx, txn.TransactionID, []entrySpec{
		{account: escrow, direction: models.Debit, amount: held},
		{account: payer, userID: payerUserID, direction: models.Debit, amount: overrun},
		{account: payee, userID: payeeUserID, direction: models.Credit, amount: payeeShare},
		{account: revenue, direction: models.Credit, amount: platformFee},
		{account: payer, userID: payerUserID, direction: models.Credit, amount: refund},
	})
	if err != nil {
		return nil, err
	}

	if err := s.finalizeTransaction(tx, hold.ID, models.StatusHeld, models.StatusCompleted); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LEDGER] Failed to commit settlement %s: %v", txn.TransactionID, err)
		return nil, err
	}

	s.audit.LogHoldResolution(referenceID, txn.TransactionID, "SETTLED", charge)
	s.notifyWallets(changes)
	return txn, nil
}

// RefundHold returns the full held amount to the payer and cancels the hold.
func (s *LedgerService) RefundHold(referenceID, reason string) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	hold, err := s.holdTransaction(tx, referenceID, true)
	if err != nil {
		return nil, err
	}
	if hold.Status != models.StatusHeld {
		return nil, ErrHoldAlreadyResolved
	}

	walletID, err := s.walletAccountID(tx, hold.UserID)
	if err != nil {
		return nil, err
	}
	escrowID, err := s.systemAccountID(tx, models.AccountEscrow)
	if err != nil {
		return nil, err
	}

	accounts, err := s.lockAccounts(tx, walletID, escrowID)
	if err != nil {
		return nil, err
	}
	wallet, escrow := accounts[walletID], accounts[escrowID]

	txn := s.newTransaction(models.TxRefund, models.StatusCompleted, hold.Amount, hold.Currency, hold.UserID, referenceID)
	if err := s.insertTransaction(tx, txn, models.RefundMetadata{CallID: referenceID, Reason: reason}); err != nil {
		return nil, err
	}

	changes, err := s.postEntries(tx, txn.TransactionID, []entrySpec{
		{account: escrow, direction: models.Debit, amount: hold.Amount},
		{account: wallet, userID: hold.UserID, direction: models.Credit, amount: hold.Amount},
	})
	if err != nil {
		return nil, err
	}

	if err := s.finalizeTransaction(tx, hold.ID, models.StatusHeld, models.StatusCancelled); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LEDGER] Failed to commit refund %s: %v", txn.TransactionID, err)
		return nil, err
	}

	s.audit.LogHoldResolution(referenceID, txn.TransactionID, "REFUNDED", hold.Amount)
	s.notifyWallets(changes)
	return txn, nil
}

// TopUp credits a wallet against money confirmed by the external payment
// gateway. The liability account is debited so the books balance against
// money that entered from outside the ledger. Idempotent on
// paymentReference: a replay returns the original transaction untouched.
func (s *LedgerService) TopUp(userID int, amount int64, paymentReference string) (*models.Transaction, error) {
	if paymentReference == "" {
		return nil, ErrMissingReference
	}
	if amount < s.billing.cfg.MinTopUp {
		return nil, ErrBelowMinimumAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if existing, err := s.transactionByIdempotencyKey(tx, paymentReference); err == nil {
		log.Printf("[LEDGER] Duplicate payment reference %s, returning original transaction %s", paymentReference, existing.TransactionID)
		return existing, nil
	} else if err != ErrTransactionNotFound {
		return nil, err
	}

	walletID, err := s.walletAccountID(tx, userID)
	if err != nil {
		return nil, err
	}
	gatewayID, err := s.systemAccountID(tx, models.AccountGatewayLiability)
	if err != nil {
		return nil, err
	}

	accounts, err := s.lockAccounts(tx, walletID, gatewayID)
	if err != nil {
		return nil, err
	}
	wallet, gateway := accounts[walletID], accounts[gatewayID]

	txn := s.newTransaction(models.TxTopUp, models.StatusCompleted, amount, wallet.Currency, userID, "")
	txn.IdempotencyKey = paymentReference
	if err := s.insertTransaction(tx, txn, models.TopUpMetadata{PaymentReference: paymentReference}); err != nil {
		return nil, err
	}

	changes, err := s.postEntries(tx, txn.TransactionID, []entrySpec{
		{account: gateway, direction: models.Debit, amount: amount},
		{account: wallet, userID: userID, direction: models.Credit, amount: amount},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LEDGER] Failed to commit top-up %s: %v", txn.TransactionID, err)
		return nil, err
	}

	s.audit.LogTransaction(txn.TransactionID, string(models.TxTopUp), userID, amount, string(models.StatusCompleted))
	s.notifyWallets(changes)
	return txn, nil
}

// Withdraw moves wallet funds to the payment-gateway liability account and
// records a PENDING transaction carrying payout instructions. The external
// payout collaborator executes the payout asynchronously and reports back
// through ResolveWithdrawal.
func (s *LedgerService) Withdraw(userID int, amount int64, payout models.WithdrawalMetadata) (*models.Transaction, error) {
	if amount < s.billing.cfg.MinWithdrawal || amount > s.billing.cfg.MaxWithdrawal {
		return nil, ErrAmountOutOfRange
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	walletID, err := s.walletAccountID(tx, userID)
	if err != nil {
		return nil, err
	}
	gatewayID, err := s.systemAccountID(tx, models.AccountGatewayLiability)
	if err != nil {
		return nil, err
	}

	accounts, err := s.lockAccounts(tx, walletID, gatewayID)
	if err != nil {
		return nil, err
	}
	wallet, gateway := accounts[walletID], accounts[gatewayID]

	if wallet.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	txn := s.newTransaction(models.TxWithdrawal, models.StatusPending, amount, wallet.Currency, userID, "")
	if err := s.insertTransaction(tx, txn, payout); err != nil {
		return nil, err
	}

	changes, err := s.postEntries(tx, txn.TransactionID, []entrySpec{
		{account: wallet, userID: userID, direction: models.Debit, amount: amount},
		{account: gateway, direction: models.Credit, amount: amount},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LEDGER] Failed to commit withdrawal %s: %v", txn.TransactionID, err)
		return nil, err
	}

	s.audit.LogTransaction(txn.TransactionID, string(models.TxWithdrawal), userID, amount, string(models.StatusPending))
	s.notifyWallets(changes)
	return txn, nil
}

// ResolveWithdrawal finalizes a PENDING withdrawal once the payout partner
// reports the outcome. A failed payout is reversed with a REFUND transaction
// in the same unit as the status change.
func (s *LedgerService) ResolveWithdrawal(transactionID string, succeeded bool) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	wd, err := s.pendingWithdrawal(tx, transactionID)
	if err != nil {
		return nil, err
	}

	if succeeded {
		if err := s.finalizeTransaction(tx, wd.ID, models.StatusPending, models.StatusCompleted); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		s.audit.LogTransaction(wd.TransactionID, string(models.TxWithdrawal), wd.UserID, wd.Amount, string(models.StatusCompleted))
		wd.Status = models.StatusCompleted
		return wd, nil
	}

	walletID, err := s.walletAccountID(tx, wd.UserID)
	if err != nil {
		return nil, err
	}
	gatewayID, err := s.systemAccountID(tx, models.AccountGatewayLiability)
	if err != nil {
		return nil, err
	}
	accounts, err := s.lockAccounts(tx, walletID, gatewayID)
	if err != nil {
		return nil, err
	}
	wallet, gateway := accounts[walletID], accounts[gatewayID]

	refund := s.newTransaction(models.TxRefund, models.StatusCompleted, wd.Amount, wd.Currency, wd.UserID, wd.TransactionID)
	if err := s.insertTransaction(tx, refund, models.RefundMetadata{Reason: "payout failed"}); err != nil {
		return nil, err
	}
	changes, err := s.postEntries(tx, refund.TransactionID, []entrySpec{
		{account: gateway, direction: models.Debit, amount: wd.Amount},
		{account: wallet, userID: wd.UserID, direction: models.Credit, amount: wd.Amount},
	})
	if err != nil {
		return nil, err
	}
	if err := s.finalizeTransaction(tx, wd.ID, models.StatusPending, models.StatusFailed); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransaction(wd.TransactionID, string(models.TxWithdrawal), wd.UserID, wd.Amount, string(models.StatusFailed))
	s.notifyWallets(changes)
	return refund, nil
}

// GetBalance reads the cached wallet balance. Balances are never recomputed
// from entry history on the request path; that is a reconciliation job.
func (s *LedgerService) GetBalance(userID int) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`
		SELECT balance FROM accounts
		WHERE user_id = $1 AND kind IN ('USER_WALLET', 'INFLUENCER_WALLET') AND active
		LIMIT 1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Internal helpers. Everything below runs inside the caller's *sql.Tx.

func (s *LedgerService) newTransaction(txType models.TransactionType, status models.TransactionStatus, amount int64, currency string, userID int, referenceID string) *models.Transaction {
	now := time.Now()
	return &models.Transaction{
		TransactionID:  uuid.New().String(),
		IdempotencyKey: uuid.New().String(),
		Type:           txType,
		Status:         status,
		Amount:         amount,
		Currency:       currency,
		UserID:         userID,
		ReferenceID:    referenceID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *LedgerService) walletAccountID(tx *sql.Tx, userID int) (string, error) {
	var id string
	err := tx.QueryRow(`
		SELECT id FROM accounts
		WHERE user_id = $1 AND kind IN ('USER_WALLET', 'INFLUENCER_WALLET') AND active
		LIMIT 1`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrAccountNotFound
	}
	return id, err
}

func (s *LedgerService) systemAccountID(tx *sql.Tx, kind models.AccountKind) (string, error) {
	var id string
	err := tx.QueryRow(`
		SELECT id FROM accounts
		WHERE kind = $1 AND user_id IS NULL
		LIMIT 1`, kind).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrAccountNotFound
	}
	return id, err
}

// lockAccounts takes FOR UPDATE row locks in sorted id order so two
// operations touching overlapping account sets cannot deadlock.
func (s *LedgerService) lockAccounts(tx *sql.Tx, ids ...string) (map[string]*models.Account, error) {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	accounts := make(map[string]*models.Account, len(sorted))
	for _, id := range sorted {
		if _, ok := accounts[id]; ok {
			continue
		}
		var account models.Account
		err := tx.QueryRow(`
			SELECT id, kind, currency, balance, version, active
			FROM accounts
			WHERE id = $1
			FOR UPDATE`, id).Scan(
			&account.ID, &account.Kind, &account.Currency, &account.Balance, &account.Version, &account.Active)
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, err
		}
		if !account.Active {
			return nil, ErrAccountInactive
		}
		accounts[id] = &account
	}
	return accounts, nil
}

func (s *LedgerService) insertTransaction(tx *sql.Tx, txn *models.Transaction, meta models.TransactionMetadata) error {
	metadata, err := models.EncodeMetadata(meta)
	if err != nil {
		return err
	}
	txn.Metadata = metadata

	var referenceID any
	if txn.ReferenceID != "" {
		referenceID = txn.ReferenceID
	}

	_, err = tx.Exec(`
		INSERT INTO transactions
		(transaction_id, idempotency_key, type, status, amount, currency, user_id, reference_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		txn.TransactionID, txn.IdempotencyKey, txn.Type, txn.Status, txn.Amount,
		txn.Currency, txn.UserID, referenceID, []byte(txn.Metadata), txn.CreatedAt)
	return err
}

// postEntries writes the entry rows and balance updates for one transaction
// and verifies the conservation invariant first: total debits must equal
// total credits, and no guarded wallet balance may go negative. Violations
// abort the unit; they indicate an engine bug, never bad input.
func (s *LedgerService) postEntries(tx *sql.Tx, transactionID string, specs []entrySpec) ([]walletChange, error) {
	var debits, credits int64
	for _, spec := range specs {
		if spec.amount < 0 {
			return nil, s.invariant(transactionID, fmt.Sprintf("negative entry amount %d for account %s", spec.amount, spec.account.ID))
		}
		if spec.direction == models.Debit {
			debits += spec.amount
		} else {
			credits += spec.amount
		}
	}
	if debits != credits {
		return nil, s.invariant(transactionID, fmt.Sprintf("entries do not net to zero: debits %d, credits %d", debits, credits))
	}

	var changes []walletChange
	for _, spec := range specs {
		if spec.amount == 0 {
			continue
		}
		newBalance := spec.account.Balance + spec.amount
		if spec.direction == models.Debit {
			newBalance = spec.account.Balance - spec.amount
		}
		if spec.account.Kind.IsWallet() && newBalance < 0 {
			return nil, s.invariant(transactionID, fmt.Sprintf("wallet %s would go negative (%d)", spec.account.ID, newBalance))
		}

		if err := s.createEntry(tx, transactionID, spec.account.ID, spec.amount, spec.direction, newBalance); err != nil {
			return nil, err
		}
		if err := s.updateAccountBalance(tx, spec.account.ID, newBalance, spec.account.Version); err != nil {
			return nil, err
		}

		spec.account.Version++
		spec.account.Balance = newBalance
		if spec.userID != 0 {
			changes = append(changes, walletChange{
				userID:   spec.userID,
				balance:  newBalance,
				currency: spec.account.Currency,
				version:  spec.account.Version,
			})
		}
	}
	return changes, nil
}

func (s *LedgerService) invariant(transactionID, detail string) error {
	s.audit.LogInvariantViolation(transactionID, detail)
	return &InvariantViolationError{TransactionID: transactionID, Detail: detail}
}

func (s *LedgerService) createEntry(tx *sql.Tx, transactionID, accountID string, amount int64, direction models.EntryDirection, balance int64) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (transaction_id, account_id, amount, direction, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		transactionID, accountID, amount, direction, balance, time.Now())
	return err
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, accountID string, newBalance int64, version int64) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}
	return nil
}

// finalizeTransaction performs the only mutation a transaction row permits:
// a status transition guarded by the expected current status.
func (s *LedgerService) finalizeTransaction(tx *sql.Tx, id int, from, to models.TransactionStatus) error {
	result, err := tx.Exec(`
		UPDATE transactions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		to, time.Now(), id, from)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

// holdTransaction fetches the hold for a reference id, optionally taking a
// row lock so concurrent settle/refund attempts serialize on the hold row.
func (s *LedgerService) holdTransaction(tx *sql.Tx, referenceID string, forUpdate bool) (*models.Transaction, error) {
	query := `
		SELECT id, transaction_id, idempotency_key, type, status, amount, currency, user_id, COALESCE(reference_id, ''), created_at, updated_at
		FROM transactions
		WHERE reference_id = $1 AND type = 'HOLD_FUNDS'
		ORDER BY id DESC
		LIMIT 1`
	if forUpdate {
		query += `
		FOR UPDATE`
	}

	var txn models.Transaction
	err := tx.QueryRow(query, referenceID).Scan(
		&txn.ID, &txn.TransactionID, &txn.IdempotencyKey, &txn.Type, &txn.Status,
		&txn.Amount, &txn.Currency, &txn.UserID, &txn.ReferenceID, &txn.CreatedAt, &txn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *LedgerService) transactionByIdempotencyKey(tx *sql.Tx, key string) (*models.Transaction, error) {
	var txn models.Transaction
	err := tx.QueryRow(`
		SELECT id, transaction_id, idempotency_key, type, status, amount, currency, user_id, COALESCE(reference_id, ''), created_at, updated_at
		FROM transactions
		WHERE idempotency_key = $1`, key).Scan(
		&txn.ID, &txn.TransactionID, &txn.IdempotencyKey, &txn.Type, &txn.Status,
		&txn.Amount, &txn.Currency, &txn.UserID, &txn.ReferenceID, &txn.CreatedAt, &txn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *LedgerService) pendingWithdrawal(tx *sql.Tx, transactionID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := tx.QueryRow(`
		SELECT id, transaction_id, idempotency_key, type, status, amount, currency, user_id, created_at, updated_at
		FROM transactions
		WHERE transaction_id = $1 AND type = 'WITHDRAWAL'
		FOR UPDATE`, transactionID).Scan(
		&txn.ID, &txn.TransactionID, &txn.IdempotencyKey, &txn.Type, &txn.Status,
		&txn.Amount, &txn.Currency, &txn.UserID, &txn.CreatedAt, &txn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	if txn.Status != models.StatusPending {
		return nil, ErrAlreadyFinalized
	}
	return &txn, nil
}

func (s *LedgerService) notifyWallets(changes []walletChange) {
	if s.notifier == nil {
		return
	}
	for _, change := range changes {
		s.notifier.Push(BalanceUpdate{
			UserID:   change.userID,
			Balance:  change.balance,
			Currency: change.currency,
			Seq:      change.version,
		})
	}
}
