package services

import (
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/talkpay/backend/internal/models"
)

// AccountService owns account lifecycle: wallet creation at registration,
// system-account bootstrap, and deactivation. Balance mutation is never done
// here; only the ledger engine writes balances, together with entries.
type AccountService struct {
	db       *sql.DB
	currency string
}

func NewAccountService(db *sql.DB, currency string) *AccountService {
	return &AccountService{db: db, currency: currency}
}

// EnsureSystemAccounts creates the singleton REVENUE, ESCROW and
// PAYMENT_GATEWAY_LIABILITY accounts at bootstrap. Safe to run on every
// startup; a partial unique index on (kind) for system accounts guarantees
// the singletons even under concurrent boots.
func (s *AccountService) EnsureSystemAccounts() error {
	for _, kind := range models.SystemAccountKinds {
		_, err := s.db.Exec(`
			INSERT INTO accounts (id, user_id, kind, currency, balance, version, active, created_at, updated_at)
			VALUES ($1, NULL, $2, $3, 0, 0, TRUE, $4, $4)
			ON CONFLICT DO NOTHING`,
			uuid.New().String(), kind, s.currency, time.Now())
		if err != nil {
			return err
		}
	}
	log.Println("[ACCOUNTS] System accounts ensured")
	return nil
}

// CreateWalletAccount opens the wallet for a newly registered user inside
// the caller's transaction, so user row and wallet commit together. Each
// user holds at most one wallet account.
func (s *AccountService) CreateWalletAccount(tx *sql.Tx, userID int, role string) (string, error) {
	kind := models.AccountUserWallet
	if role == models.RoleInfluencer {
		kind = models.AccountInfluencerWallet
	}

	id := uuid.New().String()
	_, err := tx.Exec(`
		INSERT INTO accounts (id, user_id, kind, currency, balance, version, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, TRUE, $5, $5)`,
		id, userID, kind, s.currency, time.Now())
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeactivateAccount closes an account without deleting it; the entry history
// stays intact for audit.
func (s *AccountService) DeactivateAccount(accountID string) error {
	result, err := s.db.Exec(`
		UPDATE accounts SET active = FALSE, updated_at = $1 WHERE id = $2 AND active`,
		time.Now(), accountID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// WalletAccount loads a user's wallet without locking it (read paths only).
func (s *AccountService) WalletAccount(userID int) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRow(`
		SELECT id, user_id, kind, currency, balance, version, active, created_at, updated_at
		FROM accounts
		WHERE user_id = $1 AND kind IN ('USER_WALLET', 'INFLUENCER_WALLET')
		LIMIT 1`, userID).Scan(
		&account.ID, &account.UserID, &account.Kind, &account.Currency,
		&account.Balance, &account.Version, &account.Active, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}
