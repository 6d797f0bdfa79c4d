package analyzer

import (
	"math"
	"testing"

	"binance-signal-engine/internal/candle"
)

// springScenario builds 50 bars: a tight range with rising volume and a mild
// upward drift (accumulation), where the latest bar dips below the support
// set by bars [-20:-5] and closes back above it (spring).
func springScenario() []candle.Candle {
	candles := make([]candle.Candle, 50)

	for i := range candles {
		close := 99.8
		if i >= 35 {
			close = 100.2
		}
		candles[i] = candle.Candle{
			Open:   close,
			High:   close + 0.3,
			Low:    close - 0.3,
			Close:  close,
			Volume: 100,
		}
	}

	// Support low inside the lookback window.
	candles[40].Low = 99.0

	// Rising volume over the last five bars.
	for i := 45; i < 50; i++ {
		candles[i].Volume = 200
		candles[i].Low = 99.2
	}

	// The spring bar: breaks below support, closes back above it.
	candles[49].Low = 98.5
	candles[49].High = 99.8
	candles[49].Close = 99.5

	return candles
}

func TestWyckoffSpringInAccumulation(t *testing.T) {
	a := NewWyckoffAnalyzer()

	result, err := a.Analyze(springScenario())
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.Phase != PhaseAccumulation {
		t.Fatalf("Expected accumulation phase, got %s", result.Phase)
	}
	if result.Direction != DirectionLong {
		t.Fatalf("Expected LONG signal, got %q", result.Direction)
	}

	// recovery (99.5-98.5)/(99.8-98.5) * 0.4 + volume min(200/100/2, 0.4) + recency 0.2
	expected := math.Min(1.0, (1.0/1.3)*0.4+0.4+0.2)
	if math.Abs(result.Confidence-expected) > 1e-9 {
		t.Errorf("Expected confidence %.4f, got %.4f", expected, result.Confidence)
	}

	if len(result.Rationale) == 0 {
		t.Error("Expected rationale to be populated")
	}
}

func TestWyckoffSpringOutsideAccumulationIsIgnored(t *testing.T) {
	candles := springScenario()

	// Flat volume kills the accumulation classification (phase unknown);
	// the spring alone must not produce a signal.
	for i := range candles {
		candles[i].Volume = 100
	}

	a := NewWyckoffAnalyzer()
	result, err := a.Analyze(candles)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.Phase != PhaseUnknown {
		t.Fatalf("Expected unknown phase, got %s", result.Phase)
	}
	if result.HasSignal() {
		t.Errorf("Expected no signal, got %s with confidence %.2f", result.Direction, result.Confidence)
	}
}

func TestWyckoffUpthrustInDistribution(t *testing.T) {
	candles := make([]candle.Candle, 50)

	for i := range candles {
		close := 100.2
		if i >= 35 {
			close = 99.8
		}
		candles[i] = candle.Candle{
			Open:   close,
			High:   close + 0.3,
			Low:    close - 0.3,
			Close:  close,
			Volume: 100,
		}
	}

	candles[40].High = 101.0

	for i := 45; i < 50; i++ {
		candles[i].Volume = 200
		candles[i].High = 100.8
	}

	// The upthrust bar: breaks above resistance, closes back below it.
	candles[49].High = 101.5
	candles[49].Low = 100.2
	candles[49].Close = 100.5

	a := NewWyckoffAnalyzer()
	result, err := a.Analyze(candles)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.Phase != PhaseDistribution {
		t.Fatalf("Expected distribution phase, got %s", result.Phase)
	}
	if result.Direction != DirectionShort {
		t.Fatalf("Expected SHORT signal, got %q", result.Direction)
	}

	expected := math.Min(1.0, (1.0/1.3)*0.4+0.4+0.2)
	if math.Abs(result.Confidence-expected) > 1e-9 {
		t.Errorf("Expected confidence %.4f, got %.4f", expected, result.Confidence)
	}
}

func TestWyckoffInsufficientCandles(t *testing.T) {
	candles := springScenario()[:49]

	a := NewWyckoffAnalyzer()
	result, err := a.Analyze(candles)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.Phase != PhaseUnknown {
		t.Errorf("Expected unknown phase, got %s", result.Phase)
	}
	if result.HasSignal() {
		t.Error("Expected no signal below the minimum window")
	}
}

func TestDetectPhaseTrending(t *testing.T) {
	up := make([]candle.Candle, 30)
	down := make([]candle.Candle, 30)
	for i := range up {
		upClose := 100 + float64(i)
		downClose := 130 - float64(i)
		up[i] = candle.Candle{High: upClose + 1, Low: upClose - 1, Close: upClose, Volume: 100}
		down[i] = candle.Candle{High: downClose + 1, Low: downClose - 1, Close: downClose, Volume: 100}
	}

	if phase := detectPhase(up); phase != PhaseMarkup {
		t.Errorf("Expected markup for a broad uptrend, got %s", phase)
	}
	if phase := detectPhase(down); phase != PhaseMarkdown {
		t.Errorf("Expected markdown for a broad downtrend, got %s", phase)
	}
}

func TestDetectSpringSkipsWeakCandidates(t *testing.T) {
	candles := springScenario()

	// Shrink the recovery and the volume so confidence lands below 0.5:
	// close barely above support, volume well below the window average.
	candles[49].Low = 98.5
	candles[49].High = 100.5
	candles[49].Close = 99.05
	candles[49].Volume = 20

	if ev := detectSpring(candles); ev != nil {
		t.Errorf("Expected weak spring to be skipped, got confidence %.2f", ev.confidence)
	}
}
