package backtest

import (
	"bytes"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/internal/analyzer"
	"binance-signal-engine/internal/candle"
)

type stubAnalyzer struct {
	name   string
	result *analyzer.Result
}

func (s *stubAnalyzer) Name() string { return s.name }

func (s *stubAnalyzer) Analyze(candles []candle.Candle) (*analyzer.Result, error) {
	return s.result, nil
}

func longStub(name string, conf float64) *stubAnalyzer {
	return &stubAnalyzer{name: name, result: &analyzer.Result{
		Analyzer:   name,
		Direction:  analyzer.DirectionLong,
		Confidence: conf,
	}}
}

func series(bars int, start, step, wick float64) []candle.Candle {
	interval := int64(15 * 60 * 1000)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	out := make([]candle.Candle, 0, bars)
	price := start
	for i := 0; i < bars; i++ {
		next := price + step
		high := math.Max(price, next) + wick
		low := math.Min(price, next) - wick
		out = append(out, candle.Candle{
			Symbol:    "BTCUSDT",
			Interval:  "15m",
			OpenTime:  base + int64(i)*interval,
			CloseTime: base + int64(i+1)*interval - 1,
			Open:      price,
			High:      high,
			Low:       low,
			Close:     next,
			Volume:    1000,
			IsClosed:  true,
		})
		price = next
	}
	return out
}

func randomWalk(bars int, seed int64) []candle.Candle {
	rng := rand.New(rand.NewSource(seed))
	interval := int64(60 * 60 * 1000)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	out := make([]candle.Candle, 0, bars)
	price := 30000.0
	for i := 0; i < bars; i++ {
		drift := math.Sin(float64(i)/40) * 60
		next := price + drift + (rng.Float64()-0.5)*200
		high := math.Max(price, next) + rng.Float64()*50
		low := math.Min(price, next) - rng.Float64()*50
		out = append(out, candle.Candle{
			Symbol:    "BTCUSDT",
			Interval:  "1h",
			OpenTime:  base + int64(i)*interval,
			CloseTime: base + int64(i+1)*interval - 1,
			Open:      price,
			High:      high,
			Low:       low,
			Close:     next,
			Volume:    500 + rng.Float64()*1000,
			IsClosed:  true,
		})
		price = next
	}
	return out
}

func TestRunRequiresHistory(t *testing.T) {
	e := New(Config{}, zerolog.Nop())

	if _, err := e.Run("BTCUSDT", "15m", series(50, 100, 0.05, 0.1)); err == nil {
		t.Error("Expected error for insufficient history, got nil")
	}
}

func TestRunNoAnalyzersNoTrades(t *testing.T) {
	e := New(Config{}, zerolog.Nop())

	result, err := e.Run("BTCUSDT", "15m", series(200, 100, 0.05, 0.1))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.TotalTrades != 0 {
		t.Errorf("Expected 0 trades without analyzers, got %d", result.TotalTrades)
	}
	if result.FinalBalance != defaultInitialBalance {
		t.Errorf("Expected balance unchanged at %v, got %v", defaultInitialBalance, result.FinalBalance)
	}
	if result.WinRate != 0 {
		t.Errorf("Expected win rate 0, got %v", result.WinRate)
	}
}

func TestRunLongRoundTrips(t *testing.T) {
	e := New(Config{InitialBalance: 10000}, zerolog.Nop())
	e.rsi = longStub("rsi", 0.8)
	e.macd = longStub("macd", 0.8)

	// A steady uptrend: long entries keep reaching their take profits.
	result, err := e.Run("BTCUSDT", "15m", series(400, 100, 0.05, 0.1))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.TotalTrades == 0 {
		t.Fatal("Expected trades from agreeing momentum analyzers, got none")
	}

	sawTakeProfit := false
	for _, trade := range result.Trades {
		if trade.Direction != analyzer.DirectionLong {
			t.Fatalf("Expected only LONG trades, got %s", trade.Direction)
		}
		if trade.ExitReason != ExitTakeProfit {
			continue
		}
		sawTakeProfit = true

		// Commission charged on both notionals.
		gross := (trade.ExitPrice - trade.EntryPrice) * trade.Size
		want := gross - 0.001*trade.Size*(trade.EntryPrice+trade.ExitPrice)
		if math.Abs(trade.PnL-want) > 1e-9 {
			t.Errorf("Expected PnL %v after commissions, got %v", want, trade.PnL)
		}
	}
	if !sawTakeProfit {
		t.Error("Expected at least one take-profit exit in an uptrend")
	}

	// Balance chain is consistent.
	balance := 10000.0
	for _, trade := range result.Trades {
		balance += trade.PnL
		if math.Abs(trade.BalanceAfter-balance) > 1e-6 {
			t.Fatalf("Expected balance %v after trade, got %v", balance, trade.BalanceAfter)
		}
	}
	if math.Abs(result.FinalBalance-balance) > 1e-6 {
		t.Errorf("Expected final balance %v, got %v", balance, result.FinalBalance)
	}
}

func TestRunEndOfDataClose(t *testing.T) {
	e := New(Config{InitialBalance: 10000}, zerolog.Nop())
	e.rsi = longStub("rsi", 0.8)
	e.macd = longStub("macd", 0.8)

	// A flat series: the position opened at the first eligible bar never
	// reaches either level and is closed at the final close.
	result, err := e.Run("BTCUSDT", "15m", series(120, 100, 0, 0.1))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.TotalTrades != 1 {
		t.Fatalf("Expected exactly 1 trade, got %d", result.TotalTrades)
	}

	trade := result.Trades[0]
	if trade.ExitReason != ExitEndOfData {
		t.Fatalf("Expected EOD exit, got %q", trade.ExitReason)
	}
	// The end-of-data close carries no commission.
	want := (trade.ExitPrice - trade.EntryPrice) * trade.Size
	if math.Abs(trade.PnL-want) > 1e-9 {
		t.Errorf("Expected uncommissioned PnL %v, got %v", want, trade.PnL)
	}
}

func TestExitLevel(t *testing.T) {
	long := &Trade{Direction: analyzer.DirectionLong, StopLoss: 95, TakeProfit: 110}
	short := &Trade{Direction: analyzer.DirectionShort, StopLoss: 105, TakeProfit: 90}

	tests := []struct {
		name       string
		trade      *Trade
		high, low  float64
		wantReason string
		wantPrice  float64
	}{
		{"long untouched", long, 105, 100, "", 0},
		{"long take profit", long, 111, 100, ExitTakeProfit, 110},
		{"long stop loss", long, 100, 94, ExitStopLoss, 95},
		{"long spans both, TP wins", long, 112, 94, ExitTakeProfit, 110},
		{"short take profit", short, 100, 89, ExitTakeProfit, 90},
		{"short stop loss", short, 106, 100, ExitStopLoss, 105},
		{"short spans both, TP wins", short, 106, 89, ExitTakeProfit, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, price := exitLevel(tt.trade, candle.Candle{High: tt.high, Low: tt.low})
			if reason != tt.wantReason {
				t.Errorf("Expected reason %q, got %q", tt.wantReason, reason)
			}
			if price != tt.wantPrice {
				t.Errorf("Expected exit price %v, got %v", tt.wantPrice, price)
			}
		})
	}
}

func TestRunDeterministic(t *testing.T) {
	bars := randomWalk(1000, 42)

	cfg := Config{
		EnableWyckoff: true,
		EnableElliott: true,
		EnableRSI:     true,
		EnableMACD:    true,
	}

	first, err := New(cfg, zerolog.Nop()).Run("BTCUSDT", "1h", bars)
	if err != nil {
		t.Fatalf("First run returned error: %v", err)
	}
	second, err := New(cfg, zerolog.Nop()).Run("BTCUSDT", "1h", bars)
	if err != nil {
		t.Fatalf("Second run returned error: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("Expected identical results from identical runs")
	}
}

func TestSummarizeStats(t *testing.T) {
	trades := []Trade{
		{PnL: 100, BalanceAfter: 10100, EntryPrice: 100, Size: 2},
		{PnL: -50, BalanceAfter: 10050, EntryPrice: 100, Size: 2},
		{PnL: 30, BalanceAfter: 10080, EntryPrice: 100, Size: 2},
	}

	r := summarize("BTCUSDT", "15m", 500, trades, 10000, 10080)

	if r.TotalTrades != 3 || r.WinningTrades != 2 || r.LosingTrades != 1 {
		t.Errorf("Expected 3/2/1 trades, got %d/%d/%d", r.TotalTrades, r.WinningTrades, r.LosingTrades)
	}
	if math.Abs(r.WinRate-2.0/3.0) > 1e-9 {
		t.Errorf("Expected win rate 2/3, got %v", r.WinRate)
	}
	if math.Abs(r.TotalPnL-80) > 1e-9 {
		t.Errorf("Expected total PnL 80, got %v", r.TotalPnL)
	}
	if math.Abs(r.TotalPnLPercent-0.8) > 1e-9 {
		t.Errorf("Expected total PnL 0.8%%, got %v", r.TotalPnLPercent)
	}
	if math.Abs(r.AvgWin-65) > 1e-9 {
		t.Errorf("Expected average win 65, got %v", r.AvgWin)
	}
	if math.Abs(r.AvgLoss-(-50)) > 1e-9 {
		t.Errorf("Expected average loss -50, got %v", r.AvgLoss)
	}
	if r.LargestWin != 100 || r.LargestLoss != -50 {
		t.Errorf("Expected largest win/loss 100/-50, got %v/%v", r.LargestWin, r.LargestLoss)
	}

	wantDD := 50.0 / 10100.0 * 100
	if math.Abs(r.MaxDrawdown-wantDD) > 1e-9 {
		t.Errorf("Expected max drawdown %v, got %v", wantDD, r.MaxDrawdown)
	}
}

func TestSummarizeNoTrades(t *testing.T) {
	r := summarize("BTCUSDT", "15m", 500, nil, 10000, 10000)

	if r.TotalTrades != 0 || r.WinRate != 0 || r.TotalPnL != 0 {
		t.Errorf("Expected zeroed stats, got %+v", r)
	}
	if r.FinalBalance != 10000 {
		t.Errorf("Expected final balance 10000, got %v", r.FinalBalance)
	}
}

func TestPrintReport(t *testing.T) {
	r := summarize("BTCUSDT", "15m", 500, []Trade{
		{PnL: 100, BalanceAfter: 10100, EntryPrice: 100, Size: 2},
	}, 10000, 10100)

	var buf bytes.Buffer
	r.Print(&buf)

	out := buf.String()
	for _, want := range []string{
		"BACKTEST RESULTS: BTCUSDT 15m (500 candles)",
		"Total Trades:      1",
		"Win Rate:          100.00%",
		"Final Balance:     $10100.00",
		strings.Repeat("=", 60),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected report to contain %q", want)
		}
	}
}
