package analyzer

import (
	"math"
	"testing"

	"binance-signal-engine/internal/candle"
)

func candlesFromCloses(closes []float64) []candle.Candle {
	candles := make([]candle.Candle, len(closes))
	for i, close := range closes {
		candles[i] = candle.Candle{
			Open:   close,
			High:   close + 0.5,
			Low:    close - 0.5,
			Close:  close,
			Volume: 100,
		}
	}
	return candles
}

func TestRSIOversoldProposesLong(t *testing.T) {
	// Fourteen straight losses drive RSI to 0, then a small bounce lifts it
	// to 100*(2/13)/(1+2/13) = 13.33: still oversold, now rising.
	closes := make([]float64, 0, 16)
	for i := 0; i <= 14; i++ {
		closes = append(closes, 100-float64(i))
	}
	closes = append(closes, 88)

	a := NewRSIAnalyzer()
	result, err := a.Analyze(candlesFromCloses(closes))
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.Direction != DirectionLong {
		t.Fatalf("Expected LONG on oversold RSI, got %q", result.Direction)
	}

	expectedRSI := 100 - 100/(1+(2.0/13))
	if math.Abs(result.RSI-expectedRSI) > 1e-6 {
		t.Errorf("Expected RSI %.4f, got %.4f", expectedRSI, result.RSI)
	}
	if result.RSITrend != "rising" {
		t.Errorf("Expected rising RSI trend, got %q", result.RSITrend)
	}

	// (30 - 13.33)/30 + 0.5 exceeds 1.0, so confidence caps.
	if result.Confidence != 1.0 {
		t.Errorf("Expected capped confidence 1.0, got %.4f", result.Confidence)
	}
	if len(result.Rationale) == 0 {
		t.Error("Expected rationale to be populated")
	}
}

func TestRSIOverboughtProposesShort(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	a := NewRSIAnalyzer()
	result, err := a.Analyze(candlesFromCloses(closes))
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.Direction != DirectionShort {
		t.Fatalf("Expected SHORT on overbought RSI, got %q", result.Direction)
	}
	if result.RSI != 100 {
		t.Errorf("Expected RSI 100 on straight gains, got %.4f", result.RSI)
	}
	if result.Confidence != 1.0 {
		t.Errorf("Expected capped confidence 1.0, got %.4f", result.Confidence)
	}
}

func TestRSIModerateConfidenceScaling(t *testing.T) {
	// Engineer RSI = 20 on the seeding average: twelve flat deltas, one loss
	// of 4, one gain of 1. avgGain = 1/14, avgLoss = 4/14, RS = 0.25.
	closes := make([]float64, 0, 15)
	for i := 0; i < 13; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 96, 97)

	a := NewRSIAnalyzer()
	result, err := a.Analyze(candlesFromCloses(closes))
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.Direction != DirectionLong {
		t.Fatalf("Expected LONG at RSI 20, got %q", result.Direction)
	}
	if math.Abs(result.RSI-20) > 1e-6 {
		t.Errorf("Expected RSI 20, got %.4f", result.RSI)
	}

	// (30-20)/30 + 0.5 = 0.8333
	if math.Abs(result.Confidence-(10.0/30+0.5)) > 1e-6 {
		t.Errorf("Expected confidence %.4f, got %.4f", 10.0/30+0.5, result.Confidence)
	}
}

func TestRSINeutralNoSignal(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
		if i%2 == 1 {
			closes[i] = 101
		}
	}

	a := NewRSIAnalyzer()
	result, err := a.Analyze(candlesFromCloses(closes))
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.HasSignal() {
		t.Errorf("Expected no signal at neutral RSI %.2f, got %s", result.RSI, result.Direction)
	}
	if result.RSI <= 30 || result.RSI >= 70 {
		t.Errorf("Expected RSI in the neutral band on alternating equal moves, got %.4f", result.RSI)
	}
}

func TestRSIInsufficientCandles(t *testing.T) {
	closes := []float64{100, 99, 98}

	a := NewRSIAnalyzer()
	result, err := a.Analyze(candlesFromCloses(closes))
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if result.HasSignal() {
		t.Error("Expected no signal below the minimum window")
	}
	if result.RSI != 50 {
		t.Errorf("Expected neutral RSI 50, got %.4f", result.RSI)
	}
	if result.RSITrend != "unknown" {
		t.Errorf("Expected unknown trend, got %q", result.RSITrend)
	}
}
