package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// klineRow builds a raw kline array the way the exchange serializes it.
func klineRow(openTime int64, open, high, low, close float64) []interface{} {
	return []interface{}{
		float64(openTime),
		fmt.Sprintf("%.2f", open),
		fmt.Sprintf("%.2f", high),
		fmt.Sprintf("%.2f", low),
		fmt.Sprintf("%.2f", close),
		"100.5",
		float64(openTime + 59_999),
		"5000000.25",
		float64(1200),
		"60.25",
		"3000000.10",
		"0",
	}
}

// klineServer serves a fixed ascending series of one-minute klines and
// honors limit/endTime the way the exchange does.
func klineServer(t *testing.T, openTimes []int64, requests *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/klines" {
			t.Errorf("Expected path /fapi/v1/klines, got %s", r.URL.Path)
		}
		*requests = append(*requests, r.URL.RawQuery)

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		endTime := int64(1 << 62)
		if raw := r.URL.Query().Get("endTime"); raw != "" {
			endTime, _ = strconv.ParseInt(raw, 10, 64)
		}

		var rows [][]interface{}
		for _, ot := range openTimes {
			if ot <= endTime {
				rows = append(rows, klineRow(ot, 100, 110, 90, 105))
			}
		}
		if len(rows) > limit {
			rows = rows[len(rows)-limit:]
		}
		json.NewEncoder(w).Encode(rows)
	}))
}

func TestGetKlinesPaginatesBackward(t *testing.T) {
	openTimes := []int64{0, 60_000, 120_000, 180_000, 240_000}
	var requests []string
	server := klineServer(t, openTimes, &requests)
	defer server.Close()

	client := NewRESTClient(RESTConfig{
		BaseURL:              server.URL,
		RateLimitPerMinute:   6000,
		MaxCandlesPerRequest: 2,
	}, zerolog.Nop())

	candles, err := client.GetKlines(context.Background(), "BTCUSDT", "1m", 5, time.Time{})
	if err != nil {
		t.Fatalf("GetKlines returned error: %v", err)
	}

	if len(candles) != 5 {
		t.Fatalf("Expected 5 candles, got %d", len(candles))
	}
	if len(requests) != 3 {
		t.Fatalf("Expected 3 paginated requests, got %d", len(requests))
	}

	// Concatenation must be oldest-first across pages.
	for i, c := range candles {
		want := openTimes[i]
		if c.OpenTime != want {
			t.Errorf("Candle %d: expected open time %d, got %d", i, want, c.OpenTime)
		}
	}

	// Second page must end one millisecond before the oldest candle of the first.
	if !strings.Contains(requests[1], "endTime=179999") {
		t.Errorf("Expected second request endTime=179999, got query %q", requests[1])
	}
}

func TestGetKlinesStopsWhenHistoryExhausted(t *testing.T) {
	openTimes := []int64{0, 60_000, 120_000}
	var requests []string
	server := klineServer(t, openTimes, &requests)
	defer server.Close()

	client := NewRESTClient(RESTConfig{
		BaseURL:              server.URL,
		RateLimitPerMinute:   6000,
		MaxCandlesPerRequest: 10,
	}, zerolog.Nop())

	candles, err := client.GetKlines(context.Background(), "BTCUSDT", "1m", 10, time.Time{})
	if err != nil {
		t.Fatalf("GetKlines returned error: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("Expected 3 candles, got %d", len(candles))
	}
	if len(requests) != 1 {
		t.Errorf("Expected 1 request for a short page, got %d", len(requests))
	}
}

func TestGetKlinesRetriesOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		rows := [][]interface{}{klineRow(0, 100, 110, 90, 105)}
		json.NewEncoder(w).Encode(rows)
	}))
	defer server.Close()

	client := NewRESTClient(RESTConfig{
		BaseURL:              server.URL,
		RateLimitPerMinute:   6000,
		MaxCandlesPerRequest: 1500,
	}, zerolog.Nop())

	candles, err := client.GetKlines(context.Background(), "ETHUSDT", "1h", 1, time.Time{})
	if err != nil {
		t.Fatalf("GetKlines returned error after retry: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("Expected 1 candle, got %d", len(candles))
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestParseKlineArray(t *testing.T) {
	row := klineRow(1_700_000_000_000, 42000.50, 42500.75, 41800.25, 42300.00)
	c, err := parseKlineArray("BTCUSDT", "15m", row)
	if err != nil {
		t.Fatalf("parseKlineArray returned error: %v", err)
	}

	if c.Symbol != "BTCUSDT" {
		t.Errorf("Expected symbol BTCUSDT, got %s", c.Symbol)
	}
	if c.Interval != "15m" {
		t.Errorf("Expected interval 15m, got %s", c.Interval)
	}
	if c.OpenTime != 1_700_000_000_000 {
		t.Errorf("Expected open time 1700000000000, got %d", c.OpenTime)
	}
	if c.CloseTime != 1_700_000_059_999 {
		t.Errorf("Expected close time 1700000059999, got %d", c.CloseTime)
	}
	if c.Open != 42000.50 {
		t.Errorf("Expected open 42000.50, got %f", c.Open)
	}
	if c.Close != 42300.00 {
		t.Errorf("Expected close 42300.00, got %f", c.Close)
	}
	if c.Volume != 100.5 {
		t.Errorf("Expected volume 100.5, got %f", c.Volume)
	}
	if c.QuoteVolume != 5000000.25 {
		t.Errorf("Expected quote volume 5000000.25, got %f", c.QuoteVolume)
	}
	if c.TradeCount != 1200 {
		t.Errorf("Expected 1200 trades, got %d", c.TradeCount)
	}
	if !c.IsClosed {
		t.Error("Expected historical kline to be marked closed")
	}
}

func TestParseKlineArrayMalformed(t *testing.T) {
	_, err := parseKlineArray("BTCUSDT", "1m", []interface{}{float64(0), "1"})
	if err == nil {
		t.Fatal("Expected error for truncated kline array, got nil")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header   string
		expected time.Duration
	}{
		{"30", 30 * time.Second},
		{"1", 1 * time.Second},
		{"", 5 * time.Second},
		{"garbage", 5 * time.Second},
		{"-3", 5 * time.Second},
	}

	for _, tt := range tests {
		got := parseRetryAfter(tt.header)
		if got != tt.expected {
			t.Errorf("parseRetryAfter(%q): expected %v, got %v", tt.header, tt.expected, got)
		}
	}
}

