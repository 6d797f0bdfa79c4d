package binance

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"binance-signal-engine/internal/candle"
)

func TestBuildStreamNames(t *testing.T) {
	streams := BuildStreamNames([]string{"BTCUSDT", "ETHUSDT"}, []string{"15m", "1h"})

	expected := []string{
		"btcusdt@kline_15m",
		"btcusdt@kline_1h",
		"ethusdt@kline_15m",
		"ethusdt@kline_1h",
	}
	if len(streams) != len(expected) {
		t.Fatalf("Expected %d streams, got %d", len(expected), len(streams))
	}
	for i, want := range expected {
		if streams[i] != want {
			t.Errorf("Stream %d: expected %s, got %s", i, want, streams[i])
		}
	}
}

func TestCombinedStreamURL(t *testing.T) {
	url := CombinedStreamURL("wss://fstream.binance.com/", []string{"btcusdt@kline_15m", "ethusdt@kline_1h"})

	want := "wss://fstream.binance.com/stream?streams=btcusdt@kline_15m/ethusdt@kline_1h"
	if url != want {
		t.Errorf("Expected URL %s, got %s", want, url)
	}
}

func newTestClient(handler KlineHandler) *WSClient {
	return NewWSClient(WSConfig{
		BaseURL:   "wss://fstream.binance.com",
		Symbols:   []string{"BTCUSDT"},
		Intervals: []string{"15m"},
	}, handler, zerolog.Nop())
}

func TestHandleMessageClosedKline(t *testing.T) {
	var received []candle.Candle
	client := newTestClient(func(ctx context.Context, c candle.Candle) error {
		received = append(received, c)
		return nil
	})

	frame := `{
		"stream": "btcusdt@kline_15m",
		"data": {
			"e": "kline",
			"E": 1700000900123,
			"s": "BTCUSDT",
			"k": {
				"t": 1700000000000,
				"T": 1700000899999,
				"s": "BTCUSDT",
				"i": "15m",
				"o": "42000.50",
				"c": "42300.00",
				"h": "42500.75",
				"l": "41800.25",
				"v": "1250.333",
				"n": 8500,
				"x": true,
				"q": "52750000.10",
				"V": "625.100",
				"Q": "26375000.05"
			}
		}
	}`

	if err := client.handleMessage(context.Background(), []byte(frame)); err != nil {
		t.Fatalf("handleMessage returned error: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("Expected 1 candle, got %d", len(received))
	}

	c := received[0]
	if c.Symbol != "BTCUSDT" {
		t.Errorf("Expected symbol BTCUSDT, got %s", c.Symbol)
	}
	if c.Interval != "15m" {
		t.Errorf("Expected interval 15m, got %s", c.Interval)
	}
	if c.OpenTime != 1700000000000 {
		t.Errorf("Expected open time 1700000000000, got %d", c.OpenTime)
	}
	if c.Open != 42000.50 {
		t.Errorf("Expected open 42000.50, got %f", c.Open)
	}
	if c.High != 42500.75 {
		t.Errorf("Expected high 42500.75, got %f", c.High)
	}
	if c.Low != 41800.25 {
		t.Errorf("Expected low 41800.25, got %f", c.Low)
	}
	if c.Close != 42300.00 {
		t.Errorf("Expected close 42300.00, got %f", c.Close)
	}
	if c.Volume != 1250.333 {
		t.Errorf("Expected volume 1250.333, got %f", c.Volume)
	}
	if c.TradeCount != 8500 {
		t.Errorf("Expected 8500 trades, got %d", c.TradeCount)
	}
	if !c.IsClosed {
		t.Error("Expected candle to be marked closed")
	}
}

func TestHandleMessageInProgressKline(t *testing.T) {
	var received []candle.Candle
	client := newTestClient(func(ctx context.Context, c candle.Candle) error {
		received = append(received, c)
		return nil
	})

	frame := `{"stream":"btcusdt@kline_15m","data":{"e":"kline","E":1,"s":"BTCUSDT","k":{"t":1700000000000,"T":1700000899999,"s":"BTCUSDT","i":"15m","o":"1","c":"2","h":"3","l":"0.5","v":"10","n":5,"x":false,"q":"20","V":"5","Q":"10"}}}`

	if err := client.handleMessage(context.Background(), []byte(frame)); err != nil {
		t.Fatalf("handleMessage returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("Expected 1 candle, got %d", len(received))
	}
	if received[0].IsClosed {
		t.Error("Expected in-progress candle to not be marked closed")
	}
}

func TestHandleMessageIgnoresNonKlineStreams(t *testing.T) {
	calls := 0
	client := newTestClient(func(ctx context.Context, c candle.Candle) error {
		calls++
		return nil
	})

	frames := []string{
		`{"stream":"btcusdt@markPrice","data":{"e":"markPriceUpdate","p":"42000"}}`,
		`{"result":null,"id":1}`,
		`{"stream":"btcusdt@kline_15m","data":{"e":"somethingElse"}}`,
	}
	for _, frame := range frames {
		if err := client.handleMessage(context.Background(), []byte(frame)); err != nil {
			t.Fatalf("handleMessage returned error for %q: %v", frame, err)
		}
	}

	if calls != 0 {
		t.Errorf("Expected handler to not be called, got %d calls", calls)
	}
}

func TestHandleMessageMalformedJSON(t *testing.T) {
	client := newTestClient(func(ctx context.Context, c candle.Candle) error { return nil })

	if err := client.handleMessage(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("Expected error for malformed frame, got nil")
	}
}

func TestStartRequiresStreams(t *testing.T) {
	client := NewWSClient(WSConfig{BaseURL: "wss://example.com"}, nil, zerolog.Nop())

	if err := client.Start(context.Background()); err == nil {
		t.Fatal("Expected error when starting with no streams, got nil")
	}
}
