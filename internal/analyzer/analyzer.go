package analyzer

import "binance-signal-engine/internal/candle"

// Direction of a proposed trade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the opposing trade direction.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return ""
	}
}

// WyckoffPhase labels the market regime detected over the recent window.
type WyckoffPhase string

const (
	PhaseAccumulation WyckoffPhase = "accumulation"
	PhaseMarkup       WyckoffPhase = "markup"
	PhaseDistribution WyckoffPhase = "distribution"
	PhaseMarkdown     WyckoffPhase = "markdown"
	PhaseUnknown      WyckoffPhase = "unknown"
)

// MACDSnapshot carries the MACD values behind a momentum verdict.
type MACDSnapshot struct {
	Line          float64 `json:"line"`
	Signal        float64 `json:"signal"`
	Histogram     float64 `json:"histogram"`
	PrevHistogram float64 `json:"prev_histogram"`
}

// WaveData carries the price levels of a recognized impulse so the target
// calculator can project wave 5 and place the invalidation stop.
type WaveData struct {
	Wave1Start float64 `json:"wave_1_start"`
	Wave1End   float64 `json:"wave_1_end"`
	Wave4Low   float64 `json:"wave_4_low"`
	Wave4High  float64 `json:"wave_4_high"`
}

// Wave1Length returns the absolute length of wave 1.
func (w *WaveData) Wave1Length() float64 {
	length := w.Wave1End - w.Wave1Start
	if length < 0 {
		return -length
	}
	return length
}

// Result is one analyzer's advisory verdict on a window of closed bars.
// Direction is empty when no setup is present. Confidence is 0..1.
// The remaining fields are analyzer-specific context carried through to
// fusion, persistence, and notification.
type Result struct {
	Analyzer   string
	Direction  Direction
	Confidence float64
	Rationale  []string

	Phase     WyckoffPhase  // wyckoff
	RSI       float64       // rsi
	RSITrend  string        // rsi: rising, falling, unknown
	MACD      *MACDSnapshot // macd
	Waves     *WaveData     // elliott, impulse patterns only
	WaveCount string        // elliott
}

// HasSignal reports whether the analyzer proposed a direction.
func (r *Result) HasSignal() bool {
	return r != nil && (r.Direction == DirectionLong || r.Direction == DirectionShort)
}

// Analyzer inspects a window of closed bars, oldest first, and reports
// whether a tradable setup is present.
type Analyzer interface {
	// Name returns the analyzer name used in logs and fused rationale
	Name() string

	// Analyze evaluates the window and returns a verdict. A result with an
	// empty Direction means no setup; it still carries context values such
	// as the current phase or RSI reading.
	Analyze(candles []candle.Candle) (*Result, error)
}
