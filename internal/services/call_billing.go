package services

import (
	"encoding/json"
	"net/http"
)

// CallBillingService drives the hold/settle/refund lifecycle on behalf of
// the call collaborator. The call id is the reference for the whole
// lifecycle, so every endpoint is safe to retry.
type CallBillingService struct {
	engine    *LedgerService
	validator *ValidationHelper
}

func NewCallBillingService(engine *LedgerService) *CallBillingService {
	return &CallBillingService{
		engine:    engine,
		validator: NewValidationHelper(),
	}
}

// CallStartRequest reserves funds when a call is accepted.
type CallStartRequest struct {
	CallID           string `json:"callId" validate:"required,max=64"`
	CallerID         int    `json:"callerId" validate:"required,gt=0"`
	Kind             string `json:"kind" validate:"required,oneof=VOICE VIDEO"`
	EstimatedSeconds int    `json:"estimatedSeconds" validate:"required,gt=0"`
}

// CallEndRequest settles a finished call against its hold.
type CallEndRequest struct {
	CallID          string `json:"callId" validate:"required,max=64"`
	CalleeID        int    `json:"calleeId" validate:"required,gt=0"`
	Kind            string `json:"kind" validate:"required,oneof=VOICE VIDEO"`
	DurationSeconds int    `json:"durationSeconds" validate:"gte=0"`
}

// CallCancelRequest releases a hold for a call that never connected.
type CallCancelRequest struct {
	CallID string `json:"callId" validate:"required,max=64"`
	Reason string `json:"reason" validate:"omitempty,max=128"`
}

// StartCall places a hold covering the estimated call cost
// @Summary Start call billing
// @Description Reserve the estimated call cost from the caller's wallet before the call connects
// @Tags calls
// @Accept json
// @Produce json
// @Param call body CallStartRequest true "Call to reserve funds for"
// @Success 200 {object} models.Transaction
// @Failure 402 {object} ErrorResponse
// @Router /calls/start [post]
func (s *CallBillingService) StartCall(w http.ResponseWriter, r *http.Request) {
	var req CallStartRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	kind := CallKind(req.Kind)
	amount := s.engine.billing.CallCost(req.EstimatedSeconds, kind)
	txn, err := s.engine.HoldFunds(req.CallerID, amount, req.CallID, req.Kind, req.EstimatedSeconds)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"heldAmount":  txn.Amount,
		"transaction": txn,
	})
}

// EndCall settles the hold from the actual call duration
// @Summary End call billing
// @Description Settle a finished call: charge the caller for the actual duration, pay out the influencer share, refund any unused hold
// @Tags calls
// @Accept json
// @Produce json
// @Param call body CallEndRequest true "Finished call"
// @Success 200 {object} models.Transaction
// @Failure 409 {object} ErrorResponse
// @Router /calls/end [post]
func (s *CallBillingService) EndCall(w http.ResponseWriter, r *http.Request) {
	var req CallEndRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	actual := s.engine.billing.CallCost(req.DurationSeconds, CallKind(req.Kind))
	txn, err := s.engine.SettleHold(req.CallID, actual, req.CalleeID)
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

// CancelCall refunds the hold for a call that never happened
// @Summary Cancel call billing
// @Description Release a hold in full when a call fails to connect or is declined
// @Tags calls
// @Accept json
// @Produce json
// @Param call body CallCancelRequest true "Call to cancel"
// @Success 200 {object} models.Transaction
// @Failure 409 {object} ErrorResponse
// @Router /calls/cancel [post]
func (s *CallBillingService) CancelCall(w http.ResponseWriter, r *http.Request) {
	var req CallCancelRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "call cancelled"
	}
	txn, err := s.engine.RefundHold(req.CallID, reason)
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
