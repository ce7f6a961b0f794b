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

func newTestChatBilling(t *testing.T) (*ChatBillingService, sqlmock.Sqlmock, func()) {
	engine, mock, cleanup := newTestEngine(t)
	return NewChatBillingService(engine.db, engine), mock, cleanup
}

func TestChatBillingService_ChargeMessage(t *testing.T) {
	t.Run("user-to-influencer message is billed and split", func(t *testing.T) {
		service, mock, cleanup := newTestChatBilling(t)
		defer cleanup()

		mock.ExpectQuery("SELECT role FROM users").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("user"))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, transaction_id, idempotency_key").
			WithArgs("CHAT_PAYMENT:msg-42").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w1"))
		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w2"))
		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs("REVENUE").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sys-revenue"))

		expectLock(mock, "sys-revenue", models.AccountRevenue, 0, 1)
		expectLock(mock, "w1", models.AccountUserWallet, 5000, 1)
		expectLock(mock, "w2", models.AccountInfluencerWallet, 0, 1)

		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "CHAT_PAYMENT", "COMPLETED", int64(100),
				"INR", 1, "msg-42", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		expectEntry(mock, "w1", 100, models.Debit, 4900)
		expectBalanceUpdate(mock, "w1", 4900, 1)
		expectEntry(mock, "w2", 90, models.Credit, 90)
		expectBalanceUpdate(mock, "w2", 90, 1)
		expectEntry(mock, "sys-revenue", 10, models.Credit, 10)
		expectBalanceUpdate(mock, "sys-revenue", 10, 1)

		mock.ExpectCommit()

		body, _ := json.Marshal(MessageChargeRequest{MessageID: "msg-42", SenderID: 1, ReceiverID: 2})
		r := httptest.NewRequest("POST", "/chat/charge", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.ChargeMessage(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, true, response["charged"])
		assert.Equal(t, float64(100), response["amount"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retried delivery for the same message charges once", func(t *testing.T) {
		service, mock, cleanup := newTestChatBilling(t)
		defer cleanup()

		mock.ExpectQuery("SELECT role FROM users").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("user"))

		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, transaction_id, idempotency_key").
			WithArgs("CHAT_PAYMENT:msg-42").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "transaction_id", "idempotency_key", "type", "status",
				"amount", "currency", "user_id", "reference_id", "created_at", "updated_at"}).
				AddRow(5, "txn-first", "CHAT_PAYMENT:msg-42", "CHAT_PAYMENT", "COMPLETED", 100, "INR", 1, "msg-42", now, now))
		mock.ExpectRollback()

		body, _ := json.Marshal(MessageChargeRequest{MessageID: "msg-42", SenderID: 1, ReceiverID: 2})
		r := httptest.NewRequest("POST", "/chat/charge", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.ChargeMessage(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Charged     bool               `json:"charged"`
			Transaction models.Transaction `json:"transaction"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.True(t, response.Charged)
		assert.Equal(t, "txn-first", response.Transaction.TransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("influencer sender chats for free", func(t *testing.T) {
		service, mock, cleanup := newTestChatBilling(t)
		defer cleanup()

		mock.ExpectQuery("SELECT role FROM users").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("influencer"))

		body, _ := json.Marshal(MessageChargeRequest{MessageID: "msg-43", SenderID: 2, ReceiverID: 1})
		r := httptest.NewRequest("POST", "/chat/charge", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.ChargeMessage(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, false, response["charged"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("broke sender gets payment required", func(t *testing.T) {
		service, mock, cleanup := newTestChatBilling(t)
		defer cleanup()

		mock.ExpectQuery("SELECT role FROM users").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("user"))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, transaction_id, idempotency_key").
			WithArgs("CHAT_PAYMENT:msg-44").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w1"))
		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w2"))
		mock.ExpectQuery("SELECT id FROM accounts").
			WithArgs("REVENUE").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sys-revenue"))

		expectLock(mock, "sys-revenue", models.AccountRevenue, 0, 1)
		expectLock(mock, "w1", models.AccountUserWallet, 50, 1)
		expectLock(mock, "w2", models.AccountInfluencerWallet, 0, 1)

		mock.ExpectRollback()

		body, _ := json.Marshal(MessageChargeRequest{MessageID: "msg-44", SenderID: 1, ReceiverID: 2})
		r := httptest.NewRequest("POST", "/chat/charge", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.ChargeMessage(w, r)

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self-messaging is rejected", func(t *testing.T) {
		service, _, cleanup := newTestChatBilling(t)
		defer cleanup()

		body, _ := json.Marshal(MessageChargeRequest{MessageID: "msg-45", SenderID: 1, ReceiverID: 1})
		r := httptest.NewRequest("POST", "/chat/charge", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.ChargeMessage(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
