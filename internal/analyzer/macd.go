package analyzer

import (
	"fmt"
	"math"

	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/indicators"
)

// MACDAnalyzer detects momentum shifts as histogram sign flips between the
// last two bars. Confidence blends the histogram magnitude with a bonus when
// the MACD line sits beyond the zero line in the crossover direction.
type MACDAnalyzer struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
	minCandles   int
}

// NewMACDAnalyzer creates a MACD analyzer with the standard 12/26/9 setup
func NewMACDAnalyzer() *MACDAnalyzer {
	return &MACDAnalyzer{
		fastPeriod:   12,
		slowPeriod:   26,
		signalPeriod: 9,
		minCandles:   26 + 9 + 10,
	}
}

func (a *MACDAnalyzer) Name() string {
	return "macd"
}

func (a *MACDAnalyzer) Analyze(candles []candle.Candle) (*Result, error) {
	result := &Result{Analyzer: a.Name()}
	if len(candles) < a.minCandles {
		return result, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	series := indicators.CalculateMACDSeries(closes, a.fastPeriod, a.slowPeriod, a.signalPeriod)
	if series == nil {
		return result, nil
	}

	line, signal, histogram := series.Latest()
	prevHistogram := 0.0
	if n := len(series.Histogram); n > 1 {
		prevHistogram = series.Histogram[n-2]
	}

	result.MACD = &MACDSnapshot{
		Line:          line,
		Signal:        signal,
		Histogram:     histogram,
		PrevHistogram: prevHistogram,
	}

	switch {
	case prevHistogram < 0 && histogram > 0:
		result.Direction = DirectionLong
		result.Confidence = crossoverConfidence(histogram, line > 0)
		result.Rationale = []string{
			"MACD bullish crossover detected",
			fmt.Sprintf("MACD (%.4f) crossed above Signal (%.4f)", line, signal),
			fmt.Sprintf("Histogram positive: %.4f", histogram),
		}
	case prevHistogram > 0 && histogram < 0:
		result.Direction = DirectionShort
		result.Confidence = crossoverConfidence(histogram, line < 0)
		result.Rationale = []string{
			"MACD bearish crossover detected",
			fmt.Sprintf("MACD (%.4f) crossed below Signal (%.4f)", line, signal),
			fmt.Sprintf("Histogram negative: %.4f", histogram),
		}
	}

	return result, nil
}

// crossoverConfidence scores a histogram flip: 0.5 base, up to 0.4 for the
// histogram magnitude, and 0.2 (line beyond zero in the crossover direction)
// or 0.1 otherwise.
func crossoverConfidence(histogram float64, lineConfirms bool) float64 {
	strength := math.Min(math.Abs(histogram)*100, 0.4)

	bonus := 0.1
	if lineConfirms {
		bonus = 0.2
	}

	return math.Min(1.0, 0.5+strength+bonus)
}
