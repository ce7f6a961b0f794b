package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// TopUpIntent is a short-lived record of a user's intent to add funds. The
// reference is what the payment gateway echoes back in its confirmation
// webhook, tying the external charge to the user and amount agreed upfront.
type TopUpIntent struct {
	Reference string `json:"reference"`
	UserID    int    `json:"userId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	CreatedAt int64  `json:"createdAt"`
}

// TopUpIntentService stores pending top-up intents in Redis and renders them
// as payable QR codes. Intents expire on their own; the ledger-side
// idempotency key is what guarantees at-most-once crediting.
type TopUpIntentService struct {
	redis    *redis.Client
	currency string
	ttl      time.Duration
}

func NewTopUpIntentService(redisClient *redis.Client, currency string) *TopUpIntentService {
	return &TopUpIntentService{
		redis:    redisClient,
		currency: currency,
		ttl:      15 * time.Minute,
	}
}

// Create registers a new intent and returns it together with a base64 PNG QR
// code encoding the payment reference for the gateway's scanner flow.
func (s *TopUpIntentService) Create(ctx context.Context, userID int, amount int64) (*TopUpIntent, string, error) {
	if amount <= 0 {
		return nil, "", ErrInvalidAmount
	}

	intent := &TopUpIntent{
		Reference: s.generateReference(),
		UserID:    userID,
		Amount:    amount,
		Currency:  s.currency,
		CreatedAt: time.Now().Unix(),
	}

	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, "", err
	}

	key := intentKey(intent.Reference)
	if err := s.redis.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return nil, "", err
	}

	qr, err := qrcode.New(intent.Reference, qrcode.Medium)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, "", err
	}

	return intent, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Resolve looks up an intent by its payment reference. The intent is left in
// place until it expires; the gateway may retry its webhook and the ledger's
// idempotency key already prevents double credits.
func (s *TopUpIntentService) Resolve(ctx context.Context, reference string) (*TopUpIntent, error) {
	data, err := s.redis.Get(ctx, intentKey(reference)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("unknown or expired top-up reference")
	}
	if err != nil {
		return nil, err
	}

	var intent TopUpIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (s *TopUpIntentService) generateReference() string {
	b := make([]byte, 16)
	rand.Read(b)
	return "topup_" + base64.RawURLEncoding.EncodeToString(b)
}

func intentKey(reference string) string {
	return fmt.Sprintf("topup:intent:%s", reference)
}
