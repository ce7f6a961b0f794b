package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/go-redis/redis/v8"
)

// BalanceUpdate is pushed to live subscribers after a ledger commit. Seq is
// the wallet account version at commit time, so consumers can discard
// anything older than what they already rendered.
type BalanceUpdate struct {
	UserID   int    `json:"user_id"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
	Seq      int64  `json:"seq"`
}

// BalanceNotifier fans committed balances out to whoever is listening: an
// in-process subscriber registry plus a per-user Redis channel for the
// realtime collaborator. Delivery is best effort; a notification failure
// never touches the ledger transaction that produced it, which has already
// committed by the time Push runs.
type BalanceNotifier struct {
	redis *redis.Client // nil when Redis is unavailable

	mu      sync.Mutex
	subs    map[int][]chan BalanceUpdate
	lastSeq map[int]int64
}

func NewBalanceNotifier(redisClient *redis.Client) *BalanceNotifier {
	return &BalanceNotifier{
		redis:   redisClient,
		subs:    make(map[int][]chan BalanceUpdate),
		lastSeq: make(map[int]int64),
	}
}

// Subscribe registers a live listener for one user's balance stream. The
// returned cancel func must be called when the consumer goes away.
func (n *BalanceNotifier) Subscribe(userID int) (<-chan BalanceUpdate, func()) {
	ch := make(chan BalanceUpdate, 16)

	n.mu.Lock()
	n.subs[userID] = append(n.subs[userID], ch)
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		chans := n.subs[userID]
		for i, c := range chans {
			if c == ch {
				n.subs[userID] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
		if len(n.subs[userID]) == 0 {
			delete(n.subs, userID)
		}
	}
	return ch, cancel
}

// Push delivers a balance update. Stale updates (seq not newer than the last
// delivered one for that user) are dropped, which keeps per-user delivery in
// commit order even when callers race. Errors are logged and swallowed.
func (n *BalanceNotifier) Push(update BalanceUpdate) {
	n.mu.Lock()
	if update.Seq <= n.lastSeq[update.UserID] {
		n.mu.Unlock()
		log.Printf("[NOTIFY] Dropping stale balance update for user %d (seq %d)", update.UserID, update.Seq)
		return
	}
	n.lastSeq[update.UserID] = update.Seq

	for _, ch := range n.subs[update.UserID] {
		select {
		case ch <- update:
		default:
			log.Printf("[NOTIFY] Subscriber channel full for user %d, dropping update", update.UserID)
		}
	}
	n.mu.Unlock()

	if n.redis == nil {
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal balance update for user %d: %v", update.UserID, err)
		return
	}
	channel := fmt.Sprintf("balance:%d", update.UserID)
	if err := n.redis.Publish(context.Background(), channel, payload).Err(); err != nil {
		log.Printf("[NOTIFY] Redis publish failed for user %d: %v", update.UserID, err)
	}
}
