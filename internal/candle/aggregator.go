package candle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CloseListener is invoked once per closed bar. Errors are logged and
// never affect sibling listeners.
type CloseListener func(ctx context.Context, c Candle) error

// Persister is the slice of the store the aggregator needs. A nil
// Persister disables persistence (backtests, tests).
type Persister interface {
	InsertCandle(ctx context.Context, c Candle) error
	InsertCandles(ctx context.Context, candles []Candle) error
}

type key struct {
	symbol   string
	interval string
}

// WindowStat describes one (symbol, interval) window for diagnostics.
type WindowStat struct {
	Symbol         string `json:"symbol"`
	Interval       string `json:"interval"`
	Count          int    `json:"count"`
	LatestOpenTime int64  `json:"latest_open_time"`
}

// Aggregator keeps a bounded rolling candle window per (symbol,
// interval), detects bar-close transitions, persists closed bars and
// fans bar-close events out to listeners.
//
// Closure is defined by transition: the previous bar is closed the
// moment an update with a strictly greater open time arrives, whatever
// the exchange's closed flag said. Updates carrying the same open time
// replace the open bar in place; stale (older) updates are dropped.
//
// One mutex guards the windows; close events are handed to a per-key
// dispatcher goroutine so analyses for one key are serialized while
// distinct keys run concurrently. Within one close event all listeners
// are launched together and awaited.
type Aggregator struct {
	mu           sync.Mutex
	windows      map[key][]Candle
	lastOpenTime map[key]int64
	listeners    []CloseListener
	dispatchers  map[key]*dispatcher

	windowSize int
	persister  Persister
	logger     zerolog.Logger

	ctx       context.Context
	abandon   context.CancelFunc
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewAggregator creates an aggregator with the given window size.
func NewAggregator(windowSize int, persister Persister, logger zerolog.Logger) *Aggregator {
	if windowSize <= 0 {
		windowSize = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Aggregator{
		windows:      make(map[key][]Candle),
		lastOpenTime: make(map[key]int64),
		dispatchers:  make(map[key]*dispatcher),
		windowSize:   windowSize,
		persister:    persister,
		logger:       logger.With().Str("component", "aggregator").Logger(),
		ctx:          ctx,
		abandon:      cancel,
		stopCh:       make(chan struct{}),
	}
}

// OnCandleClose registers a bar-close listener.
func (a *Aggregator) OnCandleClose(listener CloseListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, listener)
}

// ProcessCandle applies one live update.
func (a *Aggregator) ProcessCandle(ctx context.Context, c Candle) error {
	if c.Symbol == "" || c.Interval == "" {
		return fmt.Errorf("candle missing symbol or interval")
	}

	k := key{symbol: c.Symbol, interval: c.Interval}

	a.mu.Lock()
	last, seen := a.lastOpenTime[k]

	if seen && c.OpenTime < last {
		a.mu.Unlock()
		a.logger.Debug().
			Str("symbol", c.Symbol).
			Str("interval", c.Interval).
			Int64("open_time", c.OpenTime).
			Int64("last_open_time", last).
			Msg("dropping stale candle update")
		return nil
	}

	var closed *Candle
	if seen && c.OpenTime > last {
		window := a.windows[k]
		if n := len(window); n > 0 && window[n-1].OpenTime == last {
			prev := window[n-1]
			prev.IsClosed = true
			window[n-1] = prev
			closed = &prev
		}
	}

	window := a.windows[k]
	if n := len(window); n > 0 && window[n-1].OpenTime == c.OpenTime {
		window[n-1] = c
	} else {
		window = append(window, c)
		if len(window) > a.windowSize {
			window = window[len(window)-a.windowSize:]
		}
	}
	a.windows[k] = window
	a.lastOpenTime[k] = c.OpenTime

	var d *dispatcher
	if closed != nil {
		d = a.dispatcherLocked(k)
	}
	a.mu.Unlock()

	if closed != nil {
		a.logger.Debug().
			Str("symbol", c.Symbol).
			Str("interval", c.Interval).
			Int64("open_time", closed.OpenTime).
			Msg("candle closed")
		d.enqueue(*closed)
	}

	// The exchange flags the final update of a bar; persist it without
	// blocking the ingress path. Duplicate inserts are benign.
	if c.IsClosed && a.persister != nil {
		go a.persistCandle(c)
	}

	return nil
}

// ProcessHistoricalCandles seeds memory and store without firing
// listeners. Input must be ordered oldest first.
func (a *Aggregator) ProcessHistoricalCandles(ctx context.Context, symbol, interval string, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}

	k := key{symbol: symbol, interval: interval}

	a.mu.Lock()
	window := a.windows[k]
	last := a.lastOpenTime[k]
	for _, c := range candles {
		if len(window) > 0 && c.OpenTime <= last {
			continue
		}
		c.IsClosed = true
		window = append(window, c)
		last = c.OpenTime
	}
	if len(window) > a.windowSize {
		window = window[len(window)-a.windowSize:]
	}
	a.windows[k] = window
	a.lastOpenTime[k] = last
	a.mu.Unlock()

	if a.persister != nil {
		if err := a.persister.InsertCandles(ctx, candles); err != nil {
			return fmt.Errorf("bulk candle insert for %s %s: %w", symbol, interval, err)
		}
	}
	return nil
}

// GetCandles returns a snapshot copy of the most recent bars for the
// key. limit <= 0 returns the whole window.
func (a *Aggregator) GetCandles(symbol, interval string, limit int) []Candle {
	k := key{symbol: symbol, interval: interval}

	a.mu.Lock()
	defer a.mu.Unlock()

	window := a.windows[k]
	if limit <= 0 || limit > len(window) {
		limit = len(window)
	}
	out := make([]Candle, limit)
	copy(out, window[len(window)-limit:])
	return out
}

// Stats reports the state of every tracked window.
func (a *Aggregator) Stats() []WindowStat {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := make([]WindowStat, 0, len(a.windows))
	for k, window := range a.windows {
		s := WindowStat{Symbol: k.symbol, Interval: k.interval, Count: len(window)}
		if len(window) > 0 {
			s.LatestOpenTime = window[len(window)-1].OpenTime
		}
		stats = append(stats, s)
	}
	return stats
}

// Close stops dispatching, waits for in-flight listener batches to
// drain until ctx expires, then abandons them.
func (a *Aggregator) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { close(a.stopCh) })

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.abandon()
		return fmt.Errorf("aggregator drain: %w", ctx.Err())
	}
}

func (a *Aggregator) dispatcherLocked(k key) *dispatcher {
	d, ok := a.dispatchers[k]
	if !ok {
		d = &dispatcher{notify: make(chan struct{}, 1)}
		a.dispatchers[k] = d
		a.wg.Add(1)
		go a.runDispatcher(d)
	}
	return d
}

func (a *Aggregator) runDispatcher(d *dispatcher) {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			// Drain what is already queued, then exit.
			for {
				c, ok := d.next()
				if !ok {
					return
				}
				a.fireListeners(c)
			}
		case <-d.notify:
			for {
				c, ok := d.next()
				if !ok {
					break
				}
				a.fireListeners(c)
			}
		}
	}
}

// fireListeners launches every listener for one closed bar together
// and waits for all of them. A failure or panic in one is logged and
// does not cancel the others.
func (a *Aggregator) fireListeners(c Candle) {
	a.mu.Lock()
	listeners := make([]CloseListener, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()

	if len(listeners) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, fn := range listeners {
		wg.Add(1)
		go func(fn CloseListener) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error().
						Str("symbol", c.Symbol).
						Str("interval", c.Interval).
						Interface("panic", r).
						Msg("candle close listener panicked")
				}
			}()
			if err := fn(a.ctx, c); err != nil {
				a.logger.Error().
					Err(err).
					Str("symbol", c.Symbol).
					Str("interval", c.Interval).
					Msg("candle close listener failed")
			}
		}(fn)
	}
	wg.Wait()
}

func (a *Aggregator) persistCandle(c Candle) {
	ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()

	if err := a.persister.InsertCandle(ctx, c); err != nil {
		a.logger.Warn().
			Err(err).
			Str("symbol", c.Symbol).
			Str("interval", c.Interval).
			Int64("open_time", c.OpenTime).
			Msg("candle persistence failed")
	}
}

// dispatcher serializes close events for one (symbol, interval) key.
type dispatcher struct {
	mu     sync.Mutex
	queue  []Candle
	notify chan struct{}
}

func (d *dispatcher) enqueue(c Candle) {
	d.mu.Lock()
	d.queue = append(d.queue, c)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *dispatcher) next() (Candle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Candle{}, false
	}
	c := d.queue[0]
	d.queue = d.queue[1:]
	return c, true
}
