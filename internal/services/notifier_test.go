package services

import (
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestBalanceNotifier_SubscribeAndPush(t *testing.T) {
	n := NewBalanceNotifier(nil)

	ch, cancel := n.Subscribe(1)
	defer cancel()

	n.Push(BalanceUpdate{UserID: 1, Balance: 5000, Currency: "INR", Seq: 1})
	n.Push(BalanceUpdate{UserID: 1, Balance: 4000, Currency: "INR", Seq: 2})

	first := <-ch
	second := <-ch
	assert.Equal(t, int64(5000), first.Balance)
	assert.Equal(t, int64(4000), second.Balance)

	// Updates for other users never cross streams.
	n.Push(BalanceUpdate{UserID: 2, Balance: 999, Currency: "INR", Seq: 1})
	select {
	case update := <-ch:
		t.Fatalf("unexpected update for user %d", update.UserID)
	default:
	}
}

func TestBalanceNotifier_DropsStaleUpdates(t *testing.T) {
	n := NewBalanceNotifier(nil)

	ch, cancel := n.Subscribe(1)
	defer cancel()

	n.Push(BalanceUpdate{UserID: 1, Balance: 4000, Currency: "INR", Seq: 5})
	// A racing caller delivers an older commit late; it must not regress the
	// balance the subscriber sees.
	n.Push(BalanceUpdate{UserID: 1, Balance: 5000, Currency: "INR", Seq: 4})
	n.Push(BalanceUpdate{UserID: 1, Balance: 3000, Currency: "INR", Seq: 6})

	first := <-ch
	second := <-ch
	assert.Equal(t, int64(4000), first.Balance)
	assert.Equal(t, int64(3000), second.Balance)
	select {
	case <-ch:
		t.Fatal("stale update should have been dropped")
	default:
	}
}

func TestBalanceNotifier_CancelUnsubscribes(t *testing.T) {
	n := NewBalanceNotifier(nil)

	ch, cancel := n.Subscribe(1)
	cancel()

	// Channel closes on cancel and later pushes are not delivered.
	_, open := <-ch
	assert.False(t, open)

	n.Push(BalanceUpdate{UserID: 1, Balance: 100, Currency: "INR", Seq: 1})
}

func TestBalanceNotifier_PublishesToRedis(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	n := NewBalanceNotifier(redisClient)

	update := BalanceUpdate{UserID: 7, Balance: 1200, Currency: "INR", Seq: 3}
	payload, err := json.Marshal(update)
	assert.NoError(t, err)

	mock.ExpectPublish("balance:7", payload).SetVal(1)

	n.Push(update)

	assert.NoError(t, mock.ExpectationsWereMet())
}
