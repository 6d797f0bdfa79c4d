package candle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testCandle(symbol, interval string, openTime int64, close float64) Candle {
	return Candle{
		Symbol:   symbol,
		Interval: interval,
		OpenTime: openTime,
		Open:     close - 1,
		High:     close + 1,
		Low:      close - 2,
		Close:    close,
		Volume:   1000,
	}
}

type fakePersister struct {
	mu      sync.Mutex
	singles []Candle
	bulks   [][]Candle
	single  chan Candle
}

func newFakePersister() *fakePersister {
	return &fakePersister{single: make(chan Candle, 16)}
}

func (p *fakePersister) InsertCandle(ctx context.Context, c Candle) error {
	p.mu.Lock()
	p.singles = append(p.singles, c)
	p.mu.Unlock()
	p.single <- c
	return nil
}

func (p *fakePersister) InsertCandles(ctx context.Context, candles []Candle) error {
	p.mu.Lock()
	p.bulks = append(p.bulks, candles)
	p.mu.Unlock()
	return nil
}

func waitForCloses(t *testing.T, ch <-chan Candle, n int) []Candle {
	t.Helper()
	out := make([]Candle, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case c := <-ch:
			out = append(out, c)
		case <-timeout:
			t.Fatalf("timed out waiting for %d close events, got %d", n, len(out))
		}
	}
	return out
}

func assertNoClose(t *testing.T, ch <-chan Candle) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected close event for open_time %d", c.OpenTime)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSameOpenTimeReplacesOpenBar(t *testing.T) {
	agg := NewAggregator(100, nil, zerolog.Nop())
	defer agg.Close(context.Background())

	first := testCandle("BTCUSDT", "15m", 900000, 100)
	update := first
	update.Close = 105
	update.High = 106

	if err := agg.ProcessCandle(context.Background(), first); err != nil {
		t.Fatalf("ProcessCandle: %v", err)
	}
	if err := agg.ProcessCandle(context.Background(), update); err != nil {
		t.Fatalf("ProcessCandle: %v", err)
	}

	got := agg.GetCandles("BTCUSDT", "15m", 0)
	if len(got) != 1 {
		t.Fatalf("expected 1 candle in window, got %d", len(got))
	}
	if got[0].Close != 105 {
		t.Errorf("expected updated close 105, got %f", got[0].Close)
	}
}

func TestCloseFiresOnlyOnAdvance(t *testing.T) {
	agg := NewAggregator(100, nil, zerolog.Nop())
	defer agg.Close(context.Background())

	closes := make(chan Candle, 16)
	agg.OnCandleClose(func(ctx context.Context, c Candle) error {
		closes <- c
		return nil
	})

	bar := testCandle("BTCUSDT", "15m", 900000, 100)
	if err := agg.ProcessCandle(context.Background(), bar); err != nil {
		t.Fatalf("ProcessCandle: %v", err)
	}

	// Even the exchange's final (closed-flagged) update must not fire
	// the close event; only the next bar's arrival does.
	finalUpdate := bar
	finalUpdate.Close = 102
	finalUpdate.IsClosed = true
	if err := agg.ProcessCandle(context.Background(), finalUpdate); err != nil {
		t.Fatalf("ProcessCandle: %v", err)
	}
	assertNoClose(t, closes)

	next := testCandle("BTCUSDT", "15m", 1800000, 103)
	if err := agg.ProcessCandle(context.Background(), next); err != nil {
		t.Fatalf("ProcessCandle: %v", err)
	}

	got := waitForCloses(t, closes, 1)
	if got[0].OpenTime != 900000 {
		t.Errorf("expected close for open_time 900000, got %d", got[0].OpenTime)
	}
	if got[0].Close != 102 {
		t.Errorf("close event should carry the final update, got close %f", got[0].Close)
	}
	if !got[0].IsClosed {
		t.Error("closed bar should be flagged IsClosed")
	}
	assertNoClose(t, closes)
}

func TestWindowTrimming(t *testing.T) {
	agg := NewAggregator(5, nil, zerolog.Nop())
	defer agg.Close(context.Background())

	for i := 0; i < 10; i++ {
		c := testCandle("ETHUSDT", "1h", int64(i)*3600000, float64(100+i))
		if err := agg.ProcessCandle(context.Background(), c); err != nil {
			t.Fatalf("ProcessCandle: %v", err)
		}
	}

	got := agg.GetCandles("ETHUSDT", "1h", 0)
	if len(got) != 5 {
		t.Fatalf("expected window trimmed to 5, got %d", len(got))
	}
	if got[0].OpenTime != 5*3600000 {
		t.Errorf("expected oldest surviving open_time %d, got %d", 5*3600000, got[0].OpenTime)
	}
	if got[4].OpenTime != 9*3600000 {
		t.Errorf("expected newest open_time %d, got %d", 9*3600000, got[4].OpenTime)
	}
}

func TestStaleUpdateDropped(t *testing.T) {
	agg := NewAggregator(100, nil, zerolog.Nop())
	defer agg.Close(context.Background())

	closes := make(chan Candle, 16)
	agg.OnCandleClose(func(ctx context.Context, c Candle) error {
		closes <- c
		return nil
	})

	if err := agg.ProcessCandle(context.Background(), testCandle("BTCUSDT", "15m", 1800000, 100)); err != nil {
		t.Fatalf("ProcessCandle: %v", err)
	}
	if err := agg.ProcessCandle(context.Background(), testCandle("BTCUSDT", "15m", 900000, 95)); err != nil {
		t.Fatalf("ProcessCandle stale: %v", err)
	}

	assertNoClose(t, closes)
	got := agg.GetCandles("BTCUSDT", "15m", 0)
	if len(got) != 1 || got[0].OpenTime != 1800000 {
		t.Errorf("stale update must not change the window, got %+v", got)
	}
}

func TestFanOutFairness(t *testing.T) {
	agg := NewAggregator(100, nil, zerolog.Nop())
	defer agg.Close(context.Background())

	const k = 10
	var mu sync.Mutex
	starts := make([]time.Time, 0, k)
	ends := make([]time.Time, 0, k)
	done := make(chan struct{}, k)

	for i := 0; i < k; i++ {
		agg.OnCandleClose(func(ctx context.Context, c Candle) error {
			start := time.Now()
			mu.Lock()
			starts = append(starts, start)
			mu.Unlock()

			time.Sleep(50 * time.Millisecond)

			mu.Lock()
			ends = append(ends, time.Now())
			mu.Unlock()
			done <- struct{}{}
			return nil
		})
	}

	if err := agg.ProcessCandle(context.Background(), testCandle("BTCUSDT", "15m", 900000, 100)); err != nil {
		t.Fatalf("ProcessCandle: %v", err)
	}
	if err := agg.ProcessCandle(context.Background(), testCandle("BTCUSDT", "15m", 1800000, 101)); err != nil {
		t.Fatalf("ProcessCandle: %v", err)
	}

	timeout := time.After(2 * time.Second)
	for i := 0; i < k; i++ {
		select {
		case <-done:
		case <-timeout:
			t.Fatalf("timed out waiting for listeners, completed %d/%d", i, k)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	var maxStart, minEnd time.Time
	for i := 0; i < k; i++ {
		if starts[i].After(maxStart) {
			maxStart = starts[i]
		}
		if minEnd.IsZero() || ends[i].Before(minEnd) {
			minEnd = ends[i]
		}
	}
	if !maxStart.Before(minEnd) {
		t.Errorf("listeners serialized: last start %v not before first end %v", maxStart, minEnd)
	}
}

func TestListenerFailureDoesNotBlockPeers(t *testing.T) {
	agg := NewAggregator(100, nil, zerolog.Nop())
	defer agg.Close(context.Background())

	peerRan := make(chan struct{}, 1)
	agg.OnCandleClose(func(ctx context.Context, c Candle) error {
		return errors.New("listener exploded")
	})
	agg.OnCandleClose(func(ctx context.Context, c Candle) error {
		panic("listener panicked")
	})
	agg.OnCandleClose(func(ctx context.Context, c Candle) error {
		peerRan <- struct{}{}
		return nil
	})

	agg.ProcessCandle(context.Background(), testCandle("BTCUSDT", "15m", 900000, 100))
	agg.ProcessCandle(context.Background(), testCandle("BTCUSDT", "15m", 1800000, 101))

	select {
	case <-peerRan:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy listener never ran alongside failing peers")
	}
}

func TestPerKeyAnalysesSerialized(t *testing.T) {
	agg := NewAggregator(100, nil, zerolog.Nop())
	defer agg.Close(context.Background())

	var inFlight, maxInFlight int32
	done := make(chan struct{}, 4)
	agg.OnCandleClose(func(ctx context.Context, c Candle) error {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		done <- struct{}{}
		return nil
	})

	// Three rapid advances produce two closes for the same key.
	for i := int64(0); i < 3; i++ {
		agg.ProcessCandle(context.Background(), testCandle("BTCUSDT", "15m", i*900000, 100))
	}

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-timeout:
			t.Fatal("timed out waiting for close analyses")
		}
	}

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("same-key analyses overlapped: max in flight %d, expected 1", got)
	}
}

func TestHistoricalSeedDoesNotFireListeners(t *testing.T) {
	persister := newFakePersister()
	agg := NewAggregator(100, persister, zerolog.Nop())
	defer agg.Close(context.Background())

	closes := make(chan Candle, 16)
	agg.OnCandleClose(func(ctx context.Context, c Candle) error {
		closes <- c
		return nil
	})

	hist := make([]Candle, 0, 10)
	for i := 0; i < 10; i++ {
		hist = append(hist, testCandle("BTCUSDT", "15m", int64(i)*900000, float64(100+i)))
	}

	if err := agg.ProcessHistoricalCandles(context.Background(), "BTCUSDT", "15m", hist); err != nil {
		t.Fatalf("ProcessHistoricalCandles: %v", err)
	}

	assertNoClose(t, closes)

	got := agg.GetCandles("BTCUSDT", "15m", 0)
	if len(got) != 10 {
		t.Fatalf("expected 10 seeded candles, got %d", len(got))
	}
	for _, c := range got {
		if !c.IsClosed {
			t.Fatal("seeded historical candles must be marked closed")
		}
	}

	persister.mu.Lock()
	defer persister.mu.Unlock()
	if len(persister.bulks) != 1 || len(persister.bulks[0]) != 10 {
		t.Errorf("expected one bulk insert of 10 candles, got %+v", persister.bulks)
	}
}

func TestClosedFlagTriggersPersistence(t *testing.T) {
	persister := newFakePersister()
	agg := NewAggregator(100, persister, zerolog.Nop())
	defer agg.Close(context.Background())

	final := testCandle("BTCUSDT", "15m", 900000, 100)
	final.IsClosed = true
	if err := agg.ProcessCandle(context.Background(), final); err != nil {
		t.Fatalf("ProcessCandle: %v", err)
	}

	select {
	case c := <-persister.single:
		if c.OpenTime != 900000 {
			t.Errorf("persisted wrong candle: open_time %d", c.OpenTime)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("closed candle was never persisted")
	}
}

func TestGetCandlesLimit(t *testing.T) {
	agg := NewAggregator(100, nil, zerolog.Nop())
	defer agg.Close(context.Background())

	for i := 0; i < 8; i++ {
		agg.ProcessCandle(context.Background(), testCandle("BTCUSDT", "15m", int64(i)*900000, float64(100+i)))
	}

	got := agg.GetCandles("BTCUSDT", "15m", 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	if got[0].Close != 105 || got[2].Close != 107 {
		t.Errorf("expected the 3 most recent closes 105..107, got %f..%f", got[0].Close, got[2].Close)
	}

	if got := agg.GetCandles("NOPE", "15m", 5); len(got) != 0 {
		t.Errorf("unknown key should return empty snapshot, got %d", len(got))
	}
}

func TestIntervalDuration(t *testing.T) {
	tests := []struct {
		interval string
		expected time.Duration
		wantErr  bool
	}{
		{"1m", time.Minute, false},
		{"15m", 15 * time.Minute, false},
		{"4h", 4 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"7x", 0, true},
	}

	for _, tt := range tests {
		got, err := IntervalDuration(tt.interval)
		if tt.wantErr {
			if err == nil {
				t.Errorf("IntervalDuration(%q) expected error", tt.interval)
			}
			continue
		}
		if err != nil {
			t.Errorf("IntervalDuration(%q) unexpected error: %v", tt.interval, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("IntervalDuration(%q) = %v, expected %v", tt.interval, got, tt.expected)
		}
	}
}

func TestIsAligned(t *testing.T) {
	if !IsAligned(900000, "15m") {
		t.Error("900000 ms should align to 15m")
	}
	if IsAligned(900001, "15m") {
		t.Error("900001 ms should not align to 15m")
	}
}
