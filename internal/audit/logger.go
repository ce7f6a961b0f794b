package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is one line of the structured audit trail. Every monetary movement
// and every invariant failure produces exactly one event.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	UserID        int       `json:"user_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransaction(transactionID string, txType string, userID int, amount int64, status string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     txType,
		TransactionID: transactionID,
		UserID:        userID,
		Amount:        amount,
		Status:        status,
	})
}

func (a *Logger) LogHoldResolution(referenceID, transactionID, outcome string, amount int64) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "HOLD_RESOLUTION",
		TransactionID: transactionID,
		Amount:        amount,
		Status:        outcome,
		Details:       map[string]string{"reference_id": referenceID},
	})
}

func (a *Logger) LogInvariantViolation(transactionID, detail string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "INVARIANT_VIOLATION",
		TransactionID: transactionID,
		Status:        "FATAL",
		Details:       map[string]string{"detail": detail},
	})
}

func (a *Logger) LogError(transactionID string, userID int, err error) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		UserID:        userID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
