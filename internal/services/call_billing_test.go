package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/talkpay/backend/internal/models"
)

func newTestCallBilling(t *testing.T) (*CallBillingService, sqlmock.Sqlmock, func()) {
	engine, mock, cleanup := newTestEngine(t)
	return NewCallBillingService(engine), mock, cleanup
}

func TestCallBillingService_StartCall(t *testing.T) {
	t.Run("holds the estimated cost", func(t *testing.T) {
		service, mock, cleanup := newTestCallBilling(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, transaction_id, idempotency_key").
			WithArgs("call-7").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w1"))
		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs("ESCROW").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sys-escrow"))

		expectLock(mock, "sys-escrow", models.AccountEscrow, 0, 1)
		expectLock(mock, "w1", models.AccountUserWallet, 5000, 1)

		// 210s video estimate rounds up to 4 minutes at 500/min.
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "HOLD_FUNDS", "HELD", int64(2000),
				"INR", 1, "call-7", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		expectEntry(mock, "w1", 2000, models.Debit, 3000)
		expectBalanceUpdate(mock, "w1", 3000, 1)
		expectEntry(mock, "sys-escrow", 2000, models.Credit, 2000)
		expectBalanceUpdate(mock, "sys-escrow", 2000, 1)

		mock.ExpectCommit()

		body, _ := json.Marshal(CallStartRequest{CallID: "call-7", CallerID: 1, Kind: "VIDEO", EstimatedSeconds: 210})
		r := httptest.NewRequest("POST", "/calls/start", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.StartCall(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, float64(2000), response["heldAmount"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("caller without funds cannot start", func(t *testing.T) {
		service, mock, cleanup := newTestCallBilling(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, transaction_id, idempotency_key").
			WithArgs("call-8").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w1"))
		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs("ESCROW").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sys-escrow"))

		expectLock(mock, "sys-escrow", models.AccountEscrow, 0, 1)
		expectLock(mock, "w1", models.AccountUserWallet, 100, 1)

		mock.ExpectRollback()

		body, _ := json.Marshal(CallStartRequest{CallID: "call-8", CallerID: 1, Kind: "VOICE", EstimatedSeconds: 60})
		r := httptest.NewRequest("POST", "/calls/start", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.StartCall(w, r)

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown call kinds", func(t *testing.T) {
		service, _, cleanup := newTestCallBilling(t)
		defer cleanup()

		body, _ := json.Marshal(CallStartRequest{CallID: "call-9", CallerID: 1, Kind: "TELEPATHY", EstimatedSeconds: 60})
		r := httptest.NewRequest("POST", "/calls/start", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.StartCall(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCallBillingService_EndCall(t *testing.T) {
	t.Run("ending an already settled call conflicts", func(t *testing.T) {
		service, mock, cleanup := newTestCallBilling(t)
		defer cleanup()

		mock.ExpectBegin()

		now := time.Now()
		mock.ExpectQuery("SELECT id, transaction_id, idempotency_key").
			WithArgs("call-7").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "transaction_id", "idempotency_key", "type", "status",
				"amount", "currency", "user_id", "reference_id", "created_at", "updated_at"}).
				AddRow(7, "txn-hold", "idem-7", "HOLD_FUNDS", "COMPLETED", 2000, "INR", 1, "call-7", now, now))

		mock.ExpectRollback()

		body, _ := json.Marshal(CallEndRequest{CallID: "call-7", CalleeID: 2, Kind: "VIDEO", DurationSeconds: 190})
		r := httptest.NewRequest("POST", "/calls/end", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.EndCall(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ending an unknown call is not found", func(t *testing.T) {
		service, mock, cleanup := newTestCallBilling(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, transaction_id, idempotency_key").
			WithArgs("call-x").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		body, _ := json.Marshal(CallEndRequest{CallID: "call-x", CalleeID: 2, Kind: "VOICE", DurationSeconds: 30})
		r := httptest.NewRequest("POST", "/calls/end", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.EndCall(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCallBillingService_CancelCall(t *testing.T) {
	t.Run("cancelling a resolved hold conflicts", func(t *testing.T) {
		service, mock, cleanup := newTestCallBilling(t)
		defer cleanup()

		mock.ExpectBegin()

		now := time.Now()
		mock.ExpectQuery("SELECT id, transaction_id, idempotency_key").
			WithArgs("call-9").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "transaction_id", "idempotency_key", "type", "status",
				"amount", "currency", "user_id", "reference_id", "created_at", "updated_at"}).
				AddRow(9, "txn-hold-9", "idem-9", "HOLD_FUNDS", "CANCELLED", 1500, "INR", 1, "call-9", now, now))

		mock.ExpectRollback()

		body, _ := json.Marshal(CallCancelRequest{CallID: "call-9", Reason: "declined"})
		r := httptest.NewRequest("POST", "/calls/cancel", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CancelCall(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
