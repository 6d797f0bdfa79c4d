package analyzer

import (
	"fmt"
	"math"

	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/indicators"
)

// RSIAnalyzer flags oversold and overbought momentum.
// RSI below the oversold threshold proposes LONG; above the overbought
// threshold proposes SHORT. Confidence grows with the distance past the
// threshold.
type RSIAnalyzer struct {
	period     int
	oversold   float64
	overbought float64
	minCandles int
}

// NewRSIAnalyzer creates an RSI analyzer with the standard 14/30/70 setup
func NewRSIAnalyzer() *RSIAnalyzer {
	return &RSIAnalyzer{
		period:     14,
		oversold:   30,
		overbought: 70,
		minCandles: 15,
	}
}

func (a *RSIAnalyzer) Name() string {
	return "rsi"
}

func (a *RSIAnalyzer) Analyze(candles []candle.Candle) (*Result, error) {
	result := &Result{Analyzer: a.Name(), RSI: 50, RSITrend: "unknown"}
	if len(candles) < a.minCandles {
		return result, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	series := indicators.CalculateRSISeries(closes, a.period)
	if len(series) == 0 {
		return result, nil
	}

	current := series[len(series)-1]
	result.RSI = current
	if len(series) >= 2 {
		if current > series[len(series)-2] {
			result.RSITrend = "rising"
		} else {
			result.RSITrend = "falling"
		}
	}

	switch {
	case current < a.oversold:
		result.Direction = DirectionLong
		result.Confidence = math.Min(1.0, (a.oversold-current)/a.oversold+0.5)
		result.Rationale = []string{
			fmt.Sprintf("RSI oversold: %.1f < %.0f", current, a.oversold),
			"Expected bounce: RSI likely to revert toward 50",
		}
	case current > a.overbought:
		result.Direction = DirectionShort
		result.Confidence = math.Min(1.0, (current-a.overbought)/(100-a.overbought)+0.5)
		result.Rationale = []string{
			fmt.Sprintf("RSI overbought: %.1f > %.0f", current, a.overbought),
			"Expected pullback: RSI likely to revert toward 50",
		}
	}

	return result, nil
}
