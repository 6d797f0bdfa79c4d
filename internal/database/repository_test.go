package database

import (
	"testing"

	"binance-signal-engine/internal/candle"
)

func makeCandles(n int) []candle.Candle {
	candles := make([]candle.Candle, n)
	for i := range candles {
		candles[i] = candle.Candle{Symbol: "BTCUSDT", Interval: "15m", OpenTime: int64(i)}
	}
	return candles
}

func TestChunkCandles(t *testing.T) {
	chunks := chunkCandles(makeCandles(250), 100)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[1]) != 100 || len(chunks[2]) != 50 {
		t.Errorf("Expected chunk sizes 100/100/50, got %d/%d/%d",
			len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if chunks[2][49].OpenTime != 249 {
		t.Errorf("Expected last candle open time 249, got %d", chunks[2][49].OpenTime)
	}
}

func TestChunkCandlesExactMultiple(t *testing.T) {
	chunks := chunkCandles(makeCandles(200), 100)
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[1]) != 100 {
		t.Errorf("Expected second chunk of 100, got %d", len(chunks[1]))
	}
}

func TestChunkCandlesEmpty(t *testing.T) {
	if chunks := chunkCandles(nil, 100); chunks != nil {
		t.Errorf("Expected nil for empty input, got %d chunks", len(chunks))
	}
	if chunks := chunkCandles(makeCandles(10), 0); chunks != nil {
		t.Errorf("Expected nil for zero chunk size, got %d chunks", len(chunks))
	}
}

func TestReverseCandles(t *testing.T) {
	candles := makeCandles(5)
	reverseCandles(candles)
	for i, c := range candles {
		want := int64(4 - i)
		if c.OpenTime != want {
			t.Errorf("Expected open time %d at index %d, got %d", want, i, c.OpenTime)
		}
	}

	// Even length and empty inputs must round-trip too.
	pair := makeCandles(2)
	reverseCandles(pair)
	if pair[0].OpenTime != 1 || pair[1].OpenTime != 0 {
		t.Errorf("Expected swapped pair, got %d/%d", pair[0].OpenTime, pair[1].OpenTime)
	}
	reverseCandles(nil)
}
