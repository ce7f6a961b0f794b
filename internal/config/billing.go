package config

import (
	"os"
	"strconv"
)

// BillingConfig holds every tunable the billing policy and ledger engine
// need. All amounts are paisa (minor units).
type BillingConfig struct {
	Currency           string
	MessagePrice       int64
	VoiceRatePerMinute int64
	VideoRatePerMinute int64
	PayeeShareBps      int64 // influencer share in basis points of gross
	MinTopUp           int64
	MinWithdrawal      int64
	MaxWithdrawal      int64
}

func LoadBillingConfig() *BillingConfig {
	return &BillingConfig{
		Currency:           getEnv("BILLING_CURRENCY", "INR"),
		MessagePrice:       getEnvAsInt64("BILLING_MESSAGE_PRICE", 100),
		VoiceRatePerMinute: getEnvAsInt64("BILLING_VOICE_RATE_PER_MIN", 300),
		VideoRatePerMinute: getEnvAsInt64("BILLING_VIDEO_RATE_PER_MIN", 500),
		PayeeShareBps:      getEnvAsInt64("BILLING_PAYEE_SHARE_BPS", 9000),
		MinTopUp:           getEnvAsInt64("BILLING_MIN_TOPUP", 1000),
		MinWithdrawal:      getEnvAsInt64("BILLING_MIN_WITHDRAWAL", 10000),
		MaxWithdrawal:      getEnvAsInt64("BILLING_MAX_WITHDRAWAL", 10000000),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}
