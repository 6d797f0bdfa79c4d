package analyzer

import (
	"math"
	"testing"

	"binance-signal-engine/internal/candle"
)

// zigzagCandles interpolates closes linearly between waypoints and gives
// every bar a 0.2 range around the close, so swing turns become strict
// pivots and straight segments stay pivot-free.
func zigzagCandles(total int, waypoints map[int]float64) []candle.Candle {
	keys := make([]int, 0, len(waypoints))
	for k := range waypoints {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}

	closes := make([]float64, total)
	for seg := 0; seg < len(keys)-1; seg++ {
		from, to := keys[seg], keys[seg+1]
		fromPrice, toPrice := waypoints[from], waypoints[to]
		for i := from; i <= to; i++ {
			frac := float64(i-from) / float64(to-from)
			closes[i] = fromPrice + (toPrice-fromPrice)*frac
		}
	}

	candles := make([]candle.Candle, total)
	for i, close := range closes {
		candles[i] = candle.Candle{
			Open:   close,
			High:   close + 0.1,
			Low:    close - 0.1,
			Close:  close,
			Volume: 100,
		}
	}
	return candles
}

func TestElliottImpulseUpProposesShort(t *testing.T) {
	// Pivots: L100 H110 L105 H120 L113 H125, a rule-passing upward impulse.
	candles := zigzagCandles(60, map[int]float64{
		0: 104, 7: 100, 15: 110, 21: 105, 29: 120, 35: 113, 43: 125, 59: 117,
	})

	a := NewElliottAnalyzer()
	result, err := a.Analyze(candles)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.Direction != DirectionShort {
		t.Fatalf("Expected SHORT after a completed impulse up, got %q", result.Direction)
	}
	if result.WaveCount != "5 waves up" {
		t.Errorf("Expected wave count '5 waves up', got %q", result.WaveCount)
	}

	// Wave 3 is the longest (+0.2) and wave 5 is shorter than wave 3 (+0.15),
	// but wave 3 does not extend past 1.618x wave 1.
	if math.Abs(result.Confidence-0.85) > 1e-9 {
		t.Errorf("Expected confidence 0.85, got %.4f", result.Confidence)
	}

	if result.Waves == nil {
		t.Fatal("Expected wave data on an impulse result")
	}
	if math.Abs(result.Waves.Wave1Start-99.9) > 1e-9 || math.Abs(result.Waves.Wave1End-110.1) > 1e-9 {
		t.Errorf("Expected wave 1 from 99.9 to 110.1, got %.4f to %.4f", result.Waves.Wave1Start, result.Waves.Wave1End)
	}
	if math.Abs(result.Waves.Wave4Low-112.9) > 1e-9 || math.Abs(result.Waves.Wave4High-120.1) > 1e-9 {
		t.Errorf("Expected wave 4 between 112.9 and 120.1, got %.4f and %.4f", result.Waves.Wave4Low, result.Waves.Wave4High)
	}
}

func TestElliottImpulseDownProposesLong(t *testing.T) {
	candles := zigzagCandles(60, map[int]float64{
		0: 146, 7: 150, 15: 140, 21: 145, 29: 130, 35: 137, 43: 125, 59: 133,
	})

	a := NewElliottAnalyzer()
	result, err := a.Analyze(candles)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.Direction != DirectionLong {
		t.Fatalf("Expected LONG after a completed impulse down, got %q", result.Direction)
	}
	if result.WaveCount != "5 waves down" {
		t.Errorf("Expected wave count '5 waves down', got %q", result.WaveCount)
	}
	if math.Abs(result.Confidence-0.85) > 1e-9 {
		t.Errorf("Expected confidence 0.85, got %.4f", result.Confidence)
	}

	if result.Waves == nil {
		t.Fatal("Expected wave data on an impulse result")
	}
	if math.Abs(result.Waves.Wave4Low-129.9) > 1e-9 || math.Abs(result.Waves.Wave4High-137.1) > 1e-9 {
		t.Errorf("Expected wave 4 between 129.9 and 137.1, got %.4f and %.4f", result.Waves.Wave4Low, result.Waves.Wave4High)
	}
}

func TestElliottABCCorrectionProposesResumption(t *testing.T) {
	// Pivots: L100 H120 L110 H118 L108. The trailing H-L-H-L is an ABC
	// correction with wave C equal to wave A (10.2 each).
	candles := zigzagCandles(60, map[int]float64{
		0: 104, 8: 100, 16: 120, 24: 110, 32: 118, 40: 108, 59: 117.5,
	})

	a := NewElliottAnalyzer()
	result, err := a.Analyze(candles)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.Direction != DirectionLong {
		t.Fatalf("Expected LONG after a downward ABC correction, got %q", result.Direction)
	}
	if result.WaveCount != "ABC correction" {
		t.Errorf("Expected wave count 'ABC correction', got %q", result.WaveCount)
	}
	if math.Abs(result.Confidence-0.8) > 1e-9 {
		t.Errorf("Expected confidence 0.8 for a near-equal C:A ratio, got %.4f", result.Confidence)
	}
	if result.Waves != nil {
		t.Error("Expected no wave data on a correction result")
	}
}

func TestElliottNoPatternOnTrend(t *testing.T) {
	candles := zigzagCandles(60, map[int]float64{0: 100, 59: 160})

	a := NewElliottAnalyzer()
	result, err := a.Analyze(candles)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.HasSignal() {
		t.Errorf("Expected no signal on a straight trend, got %s", result.Direction)
	}
	if result.WaveCount != "unknown" {
		t.Errorf("Expected unknown wave count, got %q", result.WaveCount)
	}
}

func TestElliottInsufficientCandles(t *testing.T) {
	candles := zigzagCandles(49, map[int]float64{0: 100, 48: 120})

	a := NewElliottAnalyzer()
	result, err := a.Analyze(candles)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if result.HasSignal() {
		t.Error("Expected no signal below the minimum window")
	}
}

func TestFindPivotsStrictDominance(t *testing.T) {
	candles := zigzagCandles(21, map[int]float64{0: 100, 10: 110, 20: 100})

	pivots := findPivots(candles, 5)
	if len(pivots) != 1 {
		t.Fatalf("Expected exactly one pivot, got %d", len(pivots))
	}
	if pivots[0].kind != pivotHigh || pivots[0].index != 10 {
		t.Errorf("Expected high pivot at index 10, got kind=%d index=%d", pivots[0].kind, pivots[0].index)
	}
	if math.Abs(pivots[0].price-110.1) > 1e-9 {
		t.Errorf("Expected pivot price 110.1, got %.4f", pivots[0].price)
	}

	// An equal high within the window disqualifies both bars.
	candles[8].High = candles[10].High
	if pivots := findPivots(candles, 5); len(pivots) != 0 {
		t.Errorf("Expected no pivots with tied highs, got %d", len(pivots))
	}
}

func TestImpulseRejectsWave4Overlap(t *testing.T) {
	// Wave 4 dips into wave 1 territory (p4 below p1), violating the rules.
	candles := zigzagCandles(60, map[int]float64{
		0: 104, 7: 100, 15: 110, 21: 105, 29: 120, 35: 108, 43: 125, 59: 117,
	})

	a := NewElliottAnalyzer()
	result, err := a.Analyze(candles)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.WaveCount == "5 waves up" {
		t.Error("Expected overlapping wave 4 to invalidate the impulse")
	}
}
