package analyzer

import (
	"fmt"
	"math"

	"binance-signal-engine/internal/candle"
)

const (
	wyckoffMinCandles  = 50
	wyckoffPhaseWindow = 30
	reversalMinScore   = 0.5
)

// WyckoffAnalyzer detects accumulation/distribution phases and the spring
// (failed breakdown) and upthrust (failed breakout) reversal patterns.
// A LONG setup requires a spring inside accumulation; a SHORT setup requires
// an upthrust inside distribution.
type WyckoffAnalyzer struct {
	minCandles int
}

// NewWyckoffAnalyzer creates a Wyckoff analyzer with default parameters
func NewWyckoffAnalyzer() *WyckoffAnalyzer {
	return &WyckoffAnalyzer{minCandles: wyckoffMinCandles}
}

func (a *WyckoffAnalyzer) Name() string {
	return "wyckoff"
}

func (a *WyckoffAnalyzer) Analyze(candles []candle.Candle) (*Result, error) {
	result := &Result{Analyzer: a.Name(), Phase: PhaseUnknown}
	if len(candles) < a.minCandles {
		return result, nil
	}

	result.Phase = detectPhase(candles)

	if spring := detectSpring(candles); spring != nil && result.Phase == PhaseAccumulation {
		result.Direction = DirectionLong
		result.Confidence = spring.confidence
		result.Rationale = []string{
			fmt.Sprintf("Wyckoff spring detected in %s phase", result.Phase),
			fmt.Sprintf("Price tested support at %.2f and recovered", spring.level),
			fmt.Sprintf("Volume characteristics: %s", spring.volumeDesc),
		}
		return result, nil
	}

	if upthrust := detectUpthrust(candles); upthrust != nil && result.Phase == PhaseDistribution {
		result.Direction = DirectionShort
		result.Confidence = upthrust.confidence
		result.Rationale = []string{
			fmt.Sprintf("Wyckoff upthrust detected in %s phase", result.Phase),
			fmt.Sprintf("Price tested resistance at %.2f and failed", upthrust.level),
			fmt.Sprintf("Volume characteristics: %s", upthrust.volumeDesc),
		}
	}

	return result, nil
}

// detectPhase classifies the last 30 bars. A tight range (under 5%) with
// rising volume is accumulation or distribution depending on the trend of
// the half-window mean closes; a wider range is markup or markdown.
func detectPhase(candles []candle.Candle) WyckoffPhase {
	if len(candles) < wyckoffPhaseWindow {
		return PhaseUnknown
	}

	recent := candles[len(candles)-wyckoffPhaseWindow:]

	maxHigh := recent[0].High
	minLow := recent[0].Low
	totalVolume := 0.0
	for _, c := range recent {
		if c.High > maxHigh {
			maxHigh = c.High
		}
		if c.Low < minLow {
			minLow = c.Low
		}
		totalVolume += c.Volume
	}

	rangePercent := (maxHigh - minLow) / minLow * 100

	half := wyckoffPhaseWindow / 2
	firstHalf := 0.0
	secondHalf := 0.0
	for i, c := range recent {
		if i < half {
			firstHalf += c.Close
		} else {
			secondHalf += c.Close
		}
	}
	trend := secondHalf/float64(half) - firstHalf/float64(half)

	lastFive := 0.0
	for _, c := range recent[len(recent)-5:] {
		lastFive += c.Volume
	}
	avgVolume := totalVolume / float64(wyckoffPhaseWindow)
	volumeRatio := 0.0
	if avgVolume > 0 {
		volumeRatio = (lastFive / 5) / avgVolume
	}

	switch {
	case rangePercent < 5 && volumeRatio > 1.2:
		if trend > 0 {
			return PhaseAccumulation
		}
		return PhaseDistribution
	case trend > 0 && rangePercent > 5:
		return PhaseMarkup
	case trend < 0 && rangePercent > 5:
		return PhaseMarkdown
	default:
		return PhaseUnknown
	}
}

// reversalEvent is a detected spring or upthrust candidate.
type reversalEvent struct {
	level       float64 // support (spring) or resistance (upthrust)
	extreme     float64 // spring low or upthrust high
	closePrice  float64
	strength    float64 // recovery or rejection strength within the bar
	volumeRatio float64
	confidence  float64
	barsAgo     int
	volumeDesc  string
}

// detectSpring scans the last five bars for a break below the support
// established by bars [-20:-5] that closed back above it. Confidence blends
// recovery strength, relative volume, and recency; candidates under 0.5 are
// skipped.
func detectSpring(candles []candle.Candle) *reversalEvent {
	if len(candles) < 30 {
		return nil
	}

	window := candles[len(candles)-20 : len(candles)-5]
	support := window[0].Low
	avgVolume := 0.0
	for _, c := range window {
		if c.Low < support {
			support = c.Low
		}
		avgVolume += c.Volume
	}
	avgVolume /= float64(len(window))

	recent := candles[len(candles)-5:]
	for i, c := range recent {
		if c.Low >= support || c.Close <= support {
			continue
		}

		strength := (c.Close - c.Low) / (c.High - c.Low)
		volumeRatio := c.Volume / avgVolume

		recency := 0.1
		if i == len(recent)-1 {
			recency = 0.2
		}

		confidence := math.Min(1.0, strength*0.4+math.Min(volumeRatio/2, 0.4)+recency)
		if confidence < reversalMinScore {
			continue
		}

		desc := "moderate"
		if volumeRatio > 1.5 {
			desc = "strong"
		}

		return &reversalEvent{
			level:       support,
			extreme:     c.Low,
			closePrice:  c.Close,
			strength:    strength,
			volumeRatio: volumeRatio,
			confidence:  confidence,
			barsAgo:     len(recent) - 1 - i,
			volumeDesc:  desc,
		}
	}

	return nil
}

// detectUpthrust is the bearish mirror of detectSpring: a break above the
// resistance of bars [-20:-5] that closed back below it.
func detectUpthrust(candles []candle.Candle) *reversalEvent {
	if len(candles) < 30 {
		return nil
	}

	window := candles[len(candles)-20 : len(candles)-5]
	resistance := window[0].High
	avgVolume := 0.0
	for _, c := range window {
		if c.High > resistance {
			resistance = c.High
		}
		avgVolume += c.Volume
	}
	avgVolume /= float64(len(window))

	recent := candles[len(candles)-5:]
	for i, c := range recent {
		if c.High <= resistance || c.Close >= resistance {
			continue
		}

		strength := (c.High - c.Close) / (c.High - c.Low)
		volumeRatio := c.Volume / avgVolume

		recency := 0.1
		if i == len(recent)-1 {
			recency = 0.2
		}

		confidence := math.Min(1.0, strength*0.4+math.Min(volumeRatio/2, 0.4)+recency)
		if confidence < reversalMinScore {
			continue
		}

		desc := "moderate"
		if volumeRatio > 1.5 {
			desc = "strong"
		}

		return &reversalEvent{
			level:       resistance,
			extreme:     c.High,
			closePrice:  c.Close,
			strength:    strength,
			volumeRatio: volumeRatio,
			confidence:  confidence,
			barsAgo:     len(recent) - 1 - i,
			volumeDesc:  desc,
		}
	}

	return nil
}
