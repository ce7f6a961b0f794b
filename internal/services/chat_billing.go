package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/talkpay/backend/internal/models"
)

// ChatBillingService charges per-message fees on behalf of the chat
// collaborator. The chat service calls it once per delivered message; the
// message id is the reference, so retries after a network failure never
// double charge.
type ChatBillingService struct {
	db        *sql.DB
	engine    *LedgerService
	validator *ValidationHelper
}

func NewChatBillingService(db *sql.DB, engine *LedgerService) *ChatBillingService {
	return &ChatBillingService{
		db:        db,
		engine:    engine,
		validator: NewValidationHelper(),
	}
}

// MessageChargeRequest identifies one delivered message to bill.
type MessageChargeRequest struct {
	MessageID  string `json:"messageId" validate:"required,max=64"`
	SenderID   int    `json:"senderId" validate:"required,gt=0"`
	ReceiverID int    `json:"receiverId" validate:"required,gt=0"`
}

// ChargeMessage bills the sender for one chat message
// @Summary Charge for a chat message
// @Description Debit the sender's wallet for a delivered message and split the proceeds between the receiving influencer and the platform
// @Tags chat
// @Accept json
// @Produce json
// @Param charge body MessageChargeRequest true "Message to bill"
// @Success 200 {object} models.Transaction
// @Failure 402 {object} ErrorResponse
// @Router /chat/charge [post]
func (s *ChatBillingService) ChargeMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageChargeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.SenderID == req.ReceiverID {
		SendErrorResponse(w, "Sender and receiver must differ", http.StatusBadRequest, nil)
		return
	}

	role, err := s.userRole(req.SenderID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Sender not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[CHAT] Failed to load sender %d: %v", req.SenderID, err)
		SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
		return
	}

	// Influencers chat for free; only user-to-influencer traffic is billed.
	if role == models.RoleInfluencer {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"charged": false,
			"amount":  int64(0),
		})
		return
	}

	txn, err := s.engine.ChargeTransfer(req.SenderID, req.ReceiverID, s.engine.billing.MessageCost(), models.TxChatPayment, req.MessageID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"charged":     true,
		"amount":      txn.Amount,
		"transaction": txn,
	})
}

func (s *ChatBillingService) userRole(userID int) (string, error) {
	var role string
	err := s.db.QueryRow(`SELECT role FROM users WHERE id = $1 AND active`, userID).Scan(&role)
	return role, err
}
