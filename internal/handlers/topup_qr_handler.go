package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/talkpay/backend/internal/services"
)

type TopUpQRHandler struct {
	intents   *services.TopUpIntentService
	validator *services.ValidationHelper
	minTopUp  int64
}

func NewTopUpQRHandler(intents *services.TopUpIntentService, minTopUp int64) *TopUpQRHandler {
	return &TopUpQRHandler{
		intents:   intents,
		validator: services.NewValidationHelper(),
		minTopUp:  minTopUp,
	}
}

// CreateIntent creates a top-up intent and its QR code
// @Summary Create a top-up intent
// @Description Register the amount the user wants to add and return a QR code the payment app can scan
// @Tags topup
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64} true "Top-up amount in minor units"
// @Success 200 {object} object{reference=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/topup/intent [post]
func (h *TopUpQRHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	userID, err := strconv.Atoi(raw)
	if err != nil || userID <= 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Amount < h.minTopUp {
		services.SendErrorResponse(w, "Amount below minimum top-up", http.StatusBadRequest, nil)
		return
	}

	intent, qrImage, err := h.intents.Create(r.Context(), userID, req.Amount)
	if err != nil {
		log.Printf("[TOPUP] Failed to create intent for user %d: %v", userID, err)
		services.SendErrorResponse(w, "Failed to create top-up intent", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":   true,
		"reference": intent.Reference,
		"amount":    intent.Amount,
		"currency":  intent.Currency,
		"qrImage":   qrImage,
	})
}
