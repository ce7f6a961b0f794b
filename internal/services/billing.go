package services

import (
	"github.com/talkpay/backend/internal/config"
)

// CallKind selects the per-minute rate.
type CallKind string

const (
	CallVoice CallKind = "VOICE"
	CallVideo CallKind = "VIDEO"
)

// BillingPolicy is pure calculation, no I/O. All amounts are paisa.
type BillingPolicy struct {
	cfg *config.BillingConfig
}

func NewBillingPolicy(cfg *config.BillingConfig) *BillingPolicy {
	return &BillingPolicy{cfg: cfg}
}

// MessageCost is the fixed price of one paid chat message.
func (p *BillingPolicy) MessageCost() int64 {
	return p.cfg.MessagePrice
}

// RatePerMinute returns the per-minute price for a call kind. Unknown kinds
// bill at the video rate so a bad kind can never under-charge.
func (p *BillingPolicy) RatePerMinute(kind CallKind) int64 {
	if kind == CallVoice {
		return p.cfg.VoiceRatePerMinute
	}
	return p.cfg.VideoRatePerMinute
}

// CallCost bills whole minutes; partial minutes always round up. The
// platform never under-charges for time already consumed.
func (p *BillingPolicy) CallCost(durationSeconds int, kind CallKind) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	minutes := int64((durationSeconds + 59) / 60)
	return minutes * p.RatePerMinute(kind)
}

// Split divides a gross charge into the payee share and the platform fee.
// The share is floored so the two parts always sum exactly to gross; any
// rounding remainder goes to the platform.
func (p *BillingPolicy) Split(gross int64) (payeeShare, platformFee int64) {
	if gross <= 0 {
		return 0, 0
	}
	payeeShare = gross * p.cfg.PayeeShareBps / 10000
	platformFee = gross - payeeShare
	return payeeShare, platformFee
}
