// Package candle defines the OHLCV bar type and the rolling-window
// aggregator that turns raw exchange updates into bar-close events.
package candle

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar for a (symbol, interval) pair. Times are
// Unix milliseconds; OpenTime is aligned to the interval. A candle is
// mutable only while it is the open (last) bar of its window.
type Candle struct {
	Symbol        string  `json:"symbol"`
	Interval      string  `json:"interval"`
	OpenTime      int64   `json:"open_time"`
	CloseTime     int64   `json:"close_time"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	QuoteVolume   float64 `json:"quote_volume"`
	TradeCount    int64   `json:"trade_count"`
	TakerBuyBase  float64 `json:"taker_buy_base"`
	TakerBuyQuote float64 `json:"taker_buy_quote"`
	IsClosed      bool    `json:"is_closed"`
}

// intervalDurations maps Binance interval names to durations. "1M" is
// approximated as 30 days; it is only used for window math, never for
// bar alignment (the exchange supplies aligned open times).
var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// IntervalDuration returns the duration of one bar of the interval.
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervalDurations[interval]
	if !ok {
		return 0, fmt.Errorf("unknown interval %q", interval)
	}
	return d, nil
}

// IsAligned reports whether openTime sits on an interval boundary.
func IsAligned(openTime int64, interval string) bool {
	d, err := IntervalDuration(interval)
	if err != nil {
		return false
	}
	return openTime%d.Milliseconds() == 0
}

// OpenTimestamp returns the bar's open time as a time.Time.
func (c Candle) OpenTimestamp() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Range returns high minus low.
func (c Candle) Range() float64 {
	return c.High - c.Low
}
