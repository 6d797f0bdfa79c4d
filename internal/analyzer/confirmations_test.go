package analyzer

import (
	"testing"

	"binance-signal-engine/internal/candle"
)

func containsNote(notes []string, want string) bool {
	for _, n := range notes {
		if n == want {
			return true
		}
	}
	return false
}

func TestConfirmationsLongBelowVWAPWithSurge(t *testing.T) {
	candles := make([]candle.Candle, 40)
	for i := range candles {
		candles[i] = candle.Candle{
			Open:   100,
			High:   100.5,
			Low:    99.5,
			Close:  100,
			Volume: 100,
		}
	}
	candles[39].Volume = 200

	notes, snapshot := Confirmations(candles, DirectionLong, 99.0)

	if !containsNote(notes, "Price below VWAP (potential support)") {
		t.Errorf("Expected VWAP confirmation, got %v", notes)
	}
	if !containsNote(notes, "Volume surge detected") {
		t.Errorf("Expected volume surge confirmation, got %v", notes)
	}
	if snapshot.VWAP != 100 {
		t.Errorf("Expected VWAP 100 on a flat series, got %.4f", snapshot.VWAP)
	}

	// Flat closes: RSI pegs at 100 (no losses), EMAs are equal, MACD
	// histogram is zero. None of those confirm a LONG.
	if len(notes) != 2 {
		t.Errorf("Expected exactly 2 confirmations, got %d: %v", len(notes), notes)
	}
}

func TestConfirmationsShortAboveVWAP(t *testing.T) {
	candles := make([]candle.Candle, 40)
	for i := range candles {
		candles[i] = candle.Candle{
			Open:   100,
			High:   100.5,
			Low:    99.5,
			Close:  100,
			Volume: 100,
		}
	}

	notes, snapshot := Confirmations(candles, DirectionShort, 101.0)

	if !containsNote(notes, "Price above VWAP (potential resistance)") {
		t.Errorf("Expected VWAP confirmation, got %v", notes)
	}
	if snapshot.MACD == nil {
		t.Error("Expected MACD snapshot to be populated")
	}
}

func TestConfirmationsLongInDowntrend(t *testing.T) {
	candles := make([]candle.Candle, 40)
	for i := range candles {
		close := 140 - float64(i)
		candles[i] = candle.Candle{
			Open:   close + 1,
			High:   close + 1,
			Low:    close - 0.5,
			Close:  close,
			Volume: 100,
		}
	}
	currentPrice := candles[39].Close

	notes, snapshot := Confirmations(candles, DirectionLong, currentPrice)

	if !containsNote(notes, "RSI oversold (bullish)") {
		t.Errorf("Expected RSI confirmation in a downtrend, got %v", notes)
	}
	if !containsNote(notes, "Price below VWAP (potential support)") {
		t.Errorf("Expected VWAP confirmation in a downtrend, got %v", notes)
	}
	if snapshot.RSI >= 40 {
		t.Errorf("Expected oversold RSI, got %.2f", snapshot.RSI)
	}

	// EMA9 below EMA21 and a negative histogram do not confirm a LONG.
	if containsNote(notes, "EMA bullish crossover") {
		t.Error("EMA crossover should not confirm against the trend")
	}
	if containsNote(notes, "MACD bullish") {
		t.Error("MACD should not confirm against the trend")
	}
}

func TestConfirmationsRequireThirtyBars(t *testing.T) {
	candles := make([]candle.Candle, 29)
	for i := range candles {
		candles[i] = candle.Candle{High: 101, Low: 99, Close: 100, Volume: 100}
	}

	notes, snapshot := Confirmations(candles, DirectionLong, 100)
	if len(notes) != 0 {
		t.Errorf("Expected no confirmations below 30 bars, got %v", notes)
	}
	if snapshot == nil {
		t.Fatal("Expected a snapshot even below 30 bars")
	}
}
