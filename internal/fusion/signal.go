package fusion

import (
	"time"

	"binance-signal-engine/internal/analyzer"
)

// Signal statuses as persisted in the store.
const (
	StatusActive    = "active"
	StatusHitTP     = "hit_tp"
	StatusHitSL     = "hit_sl"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Signal is a fused, tradable verdict for one (symbol, interval) bar close.
type Signal struct {
	ID               int64                       `json:"id,omitempty"`
	TraceID          string                      `json:"trace_id"`
	Symbol           string                      `json:"symbol"`
	Interval         string                      `json:"interval"`
	Direction        analyzer.Direction          `json:"direction"`
	EntryPrice       float64                     `json:"entry_price"`
	StopLoss         float64                     `json:"stop_loss"`
	TakeProfit       float64                     `json:"take_profit"`
	TakeProfit2      float64                     `json:"take_profit_2"`
	TakeProfit3      float64                     `json:"take_profit_3"`
	Confidence       float64                     `json:"confidence"`
	FusionReason     string                      `json:"fusion_reason"`
	WyckoffPhase     analyzer.WyckoffPhase       `json:"wyckoff_phase,omitempty"`
	ElliottWaveCount string                      `json:"elliott_wave_count,omitempty"`
	Indicators       *analyzer.IndicatorSnapshot `json:"indicators,omitempty"`
	Confirmations    []string                    `json:"confirmations,omitempty"`
	Rationale        string                      `json:"rationale"`
	ATR              float64                     `json:"atr"`
	RiskReward       float64                     `json:"risk_reward"`
	Status           string                      `json:"status"`
	CreatedAt        time.Time                   `json:"created_at"`
}

// RiskRewardRatio recomputes reward/risk from the stored levels.
func (s *Signal) RiskRewardRatio() float64 {
	risk := s.EntryPrice - s.StopLoss
	if risk < 0 {
		risk = -risk
	}
	if risk == 0 {
		return 0
	}

	reward := s.TakeProfit - s.EntryPrice
	if reward < 0 {
		reward = -reward
	}
	return reward / risk
}
