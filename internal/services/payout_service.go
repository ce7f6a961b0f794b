package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/talkpay/backend/internal/models"
)

const payoutQueueKey = "payout_queue"

const (
	payoutSweepInterval = time.Minute
	payoutSweepAge      = 5 * time.Minute
	payoutSweepBatch    = 100
)

// PayoutService turns committed withdrawals into pacs.008 credit transfers
// for the settlement partner and feeds the partner's pacs.002 status reports
// back into the ledger. Withdrawals stay PENDING until a status report
// arrives; a rejected payout reverses the wallet debit.
type PayoutService struct {
	db        *sql.DB
	redis     *redis.Client
	engine    *LedgerService
	validator *ValidationHelper
}

func NewPayoutService(db *sql.DB, redisClient *redis.Client, engine *LedgerService) *PayoutService {
	return &PayoutService{
		db:        db,
		redis:     redisClient,
		engine:    engine,
		validator: NewValidationHelper(),
	}
}

// Enqueue queues a withdrawal for dispatch by the worker.
func (s *PayoutService) Enqueue(ctx context.Context, transactionID string) error {
	return s.redis.RPush(ctx, payoutQueueKey, transactionID).Err()
}

// Run consumes the payout queue until ctx is cancelled. Dispatch failures
// are logged and the item is dropped; the withdrawal stays PENDING and the
// periodic sweep picks it back up, so a dropped item or a failed enqueue
// only delays the payout.
func (s *PayoutService) Run(ctx context.Context) {
	log.Println("[PAYOUT] Worker started")
	ticker := time.NewTicker(payoutSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[PAYOUT] Worker stopped")
			return
		case <-ticker.C:
			s.SweepStalled(ctx)
		default:
		}

		result, err := s.redis.BLPop(ctx, 5*time.Second, payoutQueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Println("[PAYOUT] Worker stopped")
				return
			}
			log.Printf("[PAYOUT] Queue read failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		transactionID := result[1]
		if err := s.Dispatch(ctx, transactionID); err != nil {
			log.Printf("[PAYOUT] Dispatch failed for %s: %v", transactionID, err)
		}
	}
}

// SweepStalled re-dispatches PENDING withdrawals that have not progressed
// within payoutSweepAge. This is the recovery path for enqueue failures and
// queue items lost to a dispatch error.
func (s *PayoutService) SweepStalled(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id FROM transactions
		WHERE type = 'WITHDRAWAL' AND status = 'PENDING' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, time.Now().Add(-payoutSweepAge), payoutSweepBatch)
	if err != nil {
		log.Printf("[PAYOUT] Sweep query failed: %v", err)
		return
	}

	var stalled []string
	for rows.Next() {
		var transactionID string
		if err := rows.Scan(&transactionID); err != nil {
			rows.Close()
			log.Printf("[PAYOUT] Sweep scan failed: %v", err)
			return
		}
		stalled = append(stalled, transactionID)
	}
	rows.Close()

	if len(stalled) > 0 {
		log.Printf("[PAYOUT] Sweeping %d stalled withdrawal(s)", len(stalled))
	}
	for _, transactionID := range stalled {
		if err := s.Dispatch(ctx, transactionID); err != nil {
			log.Printf("[PAYOUT] Sweep dispatch failed for %s: %v", transactionID, err)
		}
	}
}

// Dispatch builds the pacs.008 message for one pending withdrawal and hands
// it to the settlement partner.
func (s *PayoutService) Dispatch(ctx context.Context, transactionID string) error {
	txn, meta, err := s.loadWithdrawal(ctx, transactionID)
	if err != nil {
		return err
	}
	if txn.Status != models.StatusPending {
		log.Printf("[PAYOUT] Skipping %s in status %s", transactionID, txn.Status)
		return nil
	}

	doc, err := s.BuildPacs008(txn, meta)
	if err != nil {
		return fmt.Errorf("failed to build pacs.008: %w", err)
	}
	xmlData, err := toXML(doc)
	if err != nil {
		return err
	}

	// TODO: replace the log with the partner's SFTP drop once credentials land.
	log.Printf("[PAYOUT] Sending pacs.008 for %s:\n%s", transactionID, xmlData)
	return nil
}

// PayoutStatusReport is the partner's callback payload, mirroring a pacs.002
// transaction status. ACSC marks the payout settled; RJCT reverses it.
type PayoutStatusReport struct {
	TransactionID string `json:"transactionId" validate:"required,max=64"`
	Status        string `json:"status" validate:"required,oneof=ACSC RJCT"`
	Reason        string `json:"reason" validate:"omitempty,max=128"`
}

// HandlePayoutStatus ingests the settlement partner's status report
// @Summary Report payout status
// @Description Finalize or reverse a pending withdrawal from the settlement partner's pacs.002 status
// @Tags payouts
// @Accept json
// @Produce json
// @Param report body PayoutStatusReport true "Status report"
// @Success 200 {object} object{status=string,messageType=string}
// @Failure 409 {object} ErrorResponse
// @Router /payouts/status [post]
func (s *PayoutService) HandlePayoutStatus(w http.ResponseWriter, r *http.Request) {
	var req PayoutStatusReport
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	succeeded := req.Status == "ACSC"
	txn, err := s.engine.ResolveWithdrawal(req.TransactionID, succeeded)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if !succeeded {
		log.Printf("[PAYOUT] Withdrawal %s rejected by partner: %s", req.TransactionID, req.Reason)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      string(txn.Status),
		"messageType": "pacs.002.001.08",
	})
}

// BuildPacs008 renders a withdrawal as a FIToFICustomerCreditTransfer. The
// wire format carries major currency units, so amounts convert from paisa.
func (s *PayoutService) BuildPacs008(txn *models.Transaction, meta *models.WithdrawalMetadata) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgID := uuid.New().String()
	now := time.Now()
	amount := float64(txn.Amount) / 100

	creditorName := meta.AccountName
	memberID := meta.BankCode
	if meta.PayoutMethod == "UPI" {
		creditorName = meta.UPIHandle
		memberID = "UPI"
	}
	if creditorName == "" || memberID == "" {
		return nil, fmt.Errorf("incomplete payout instructions for %s", txn.TransactionID)
	}

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(txn.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(txn.TransactionID)}[0],
					EndToEndId: common.Max35Text(txn.TransactionID),
					TxId:       &[]common.Max35Text{common.Max35Text(txn.TransactionID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(txn.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("TALKPAYX")}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("TalkPay Platform")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(memberID),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(creditorName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// BuildPacs002 renders the ledger-side acknowledgement of a status report.
func (s *PayoutService) BuildPacs002(txn *models.Transaction, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(uuid.New().String()),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(txn.TransactionID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(txn.TransactionID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(txn.TransactionID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}
	return doc, nil
}

func (s *PayoutService) loadWithdrawal(ctx context.Context, transactionID string) (*models.Transaction, *models.WithdrawalMetadata, error) {
	var txn models.Transaction
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, type, status, amount, currency, user_id, metadata
		FROM transactions
		WHERE transaction_id = $1 AND type = 'WITHDRAWAL'`, transactionID).Scan(
		&txn.TransactionID, &txn.Type, &txn.Status, &txn.Amount, &txn.Currency, &txn.UserID, &txn.Metadata)
	if err == sql.ErrNoRows {
		return nil, nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var meta models.WithdrawalMetadata
	if err := json.Unmarshal(txn.Metadata, &meta); err != nil {
		return nil, nil, fmt.Errorf("corrupt payout metadata for %s: %w", transactionID, err)
	}
	return &txn, &meta, nil
}

func toXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
