package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// signalStamp records one generated signal for time-window queries.
type signalStamp struct {
	at        time.Time
	symbol    string
	interval  string
	direction string
}

// Tracker accumulates signal statistics since process start: counts by
// symbol/interval/direction, outcome tallies, and timestamps for the
// last-hour and today windows. All methods are safe for concurrent use.
type Tracker struct {
	mu sync.RWMutex

	startTime time.Time

	// symbol -> interval -> direction -> count
	signalCounts      map[string]map[string]map[string]int
	totalsByDirection map[string]int
	stamps            []signalStamp

	hits    int
	stops   int
	pending int
}

// Summary is the top-level statistics snapshot.
type Summary struct {
	UptimeSeconds   int64   `json:"uptime_seconds"`
	UptimeFormatted string  `json:"uptime_formatted"`
	TotalSignals    int     `json:"total_signals"`
	LongSignals     int     `json:"long_signals"`
	ShortSignals    int     `json:"short_signals"`
	SignalsLastHour int     `json:"signals_last_hour"`
	SignalsToday    int     `json:"signals_today"`
	Hits            int     `json:"hits"`
	Stops           int     `json:"stops"`
	Pending         int     `json:"pending"`
	WinRate         float64 `json:"win_rate"`
}

// DetailedStats breaks signal counts down by symbol, interval and direction.
type DetailedStats struct {
	BySymbol    map[string]map[string]map[string]int `json:"by_symbol"`
	ByInterval  map[string]int                       `json:"by_interval"`
	ByDirection map[string]int                       `json:"by_direction"`
}

// NewTracker creates a tracker with the uptime clock starting now.
func NewTracker() *Tracker {
	return &Tracker{
		startTime:         time.Now().UTC(),
		signalCounts:      make(map[string]map[string]map[string]int),
		totalsByDirection: make(map[string]int),
	}
}

// RecordSignal counts one generated signal and marks it pending until an
// outcome is recorded.
func (t *Tracker) RecordSignal(symbol, interval, direction string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.signalCounts[symbol] == nil {
		t.signalCounts[symbol] = make(map[string]map[string]int)
	}
	if t.signalCounts[symbol][interval] == nil {
		t.signalCounts[symbol][interval] = make(map[string]int)
	}
	t.signalCounts[symbol][interval][direction]++
	t.totalsByDirection[direction]++
	t.stamps = append(t.stamps, signalStamp{
		at:        time.Now().UTC(),
		symbol:    symbol,
		interval:  interval,
		direction: direction,
	})
	t.pending++
}

// RecordHit counts a signal that reached its take profit.
func (t *Tracker) RecordHit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hits++
	if t.pending > 0 {
		t.pending--
	}
}

// RecordStop counts a signal that hit its stop loss.
func (t *Tracker) RecordStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	if t.pending > 0 {
		t.pending--
	}
}

// SignalCount returns the count matching the given filters; empty strings
// are wildcards.
func (t *Tracker) SignalCount(symbol, interval, direction string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.signalCount(symbol, interval, direction)
}

func (t *Tracker) signalCount(symbol, interval, direction string) int {
	switch {
	case symbol != "" && interval != "" && direction != "":
		return t.signalCounts[symbol][interval][direction]
	case symbol != "" && interval != "":
		total := 0
		for _, count := range t.signalCounts[symbol][interval] {
			total += count
		}
		return total
	case symbol != "":
		total := 0
		for _, directions := range t.signalCounts[symbol] {
			for _, count := range directions {
				total += count
			}
		}
		return total
	case direction != "":
		return t.totalsByDirection[direction]
	default:
		total := 0
		for _, count := range t.totalsByDirection {
			total += count
		}
		return total
	}
}

// SignalsLastHour returns the number of signals in the trailing hour.
func (t *Tracker) SignalsLastHour() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.signalsSince(time.Now().UTC().Add(-time.Hour))
}

func (t *Tracker) signalsSince(cutoff time.Time) int {
	count := 0
	for _, s := range t.stamps {
		if !s.at.Before(cutoff) {
			count++
		}
	}
	return count
}

// SignalsToday returns the number of signals since UTC midnight.
func (t *Tracker) SignalsToday() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return t.signalsSince(midnight)
}

// WinRate returns hits/(hits+stops), or 0 when nothing has closed yet.
func (t *Tracker) WinRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.winRate()
}

func (t *Tracker) winRate() float64 {
	closed := t.hits + t.stops
	if closed == 0 {
		return 0.0
	}
	return float64(t.hits) / float64(closed)
}

// Summary returns the current statistics snapshot.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now().UTC()
	uptime := now.Sub(t.startTime)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	return Summary{
		UptimeSeconds:   int64(uptime.Seconds()),
		UptimeFormatted: formatUptime(uptime),
		TotalSignals:    t.signalCount("", "", ""),
		LongSignals:     t.signalCount("", "", "LONG"),
		ShortSignals:    t.signalCount("", "", "SHORT"),
		SignalsLastHour: t.signalsSince(now.Add(-time.Hour)),
		SignalsToday:    t.signalsSince(midnight),
		Hits:            t.hits,
		Stops:           t.stops,
		Pending:         t.pending,
		WinRate:         t.winRate(),
	}
}

// DetailedStats returns per-symbol, per-interval and per-direction counts.
func (t *Tracker) DetailedStats() DetailedStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := DetailedStats{
		BySymbol:    make(map[string]map[string]map[string]int, len(t.signalCounts)),
		ByInterval:  make(map[string]int),
		ByDirection: make(map[string]int, len(t.totalsByDirection)),
	}
	for direction, count := range t.totalsByDirection {
		stats.ByDirection[direction] = count
	}
	for symbol, intervals := range t.signalCounts {
		stats.BySymbol[symbol] = make(map[string]map[string]int, len(intervals))
		for interval, directions := range intervals {
			stats.BySymbol[symbol][interval] = make(map[string]int, len(directions))
			for direction, count := range directions {
				stats.BySymbol[symbol][interval][direction] = count
				stats.ByInterval[interval] += count
			}
		}
	}
	return stats
}

// Reset clears all counters and restarts the uptime clock.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.signalCounts = make(map[string]map[string]map[string]int)
	t.totalsByDirection = make(map[string]int)
	t.stamps = nil
	t.hits = 0
	t.stops = 0
	t.pending = 0
	t.startTime = time.Now().UTC()
}

// formatUptime renders a duration as "1d 2h 3m 4s", skipping zero parts.
func formatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}
