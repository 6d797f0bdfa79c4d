package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordSignalCounts(t *testing.T) {
	tracker := NewTracker()

	tracker.RecordSignal("BTCUSDT", "15m", "LONG")
	tracker.RecordSignal("BTCUSDT", "15m", "LONG")
	tracker.RecordSignal("BTCUSDT", "1h", "SHORT")
	tracker.RecordSignal("ETHUSDT", "15m", "LONG")

	tests := []struct {
		symbol    string
		interval  string
		direction string
		expected  int
	}{
		{"BTCUSDT", "15m", "LONG", 2},
		{"BTCUSDT", "15m", "", 2},
		{"BTCUSDT", "", "", 3},
		{"", "", "LONG", 3},
		{"", "", "SHORT", 1},
		{"", "", "", 4},
		{"SOLUSDT", "", "", 0},
	}

	for _, tt := range tests {
		got := tracker.SignalCount(tt.symbol, tt.interval, tt.direction)
		if got != tt.expected {
			t.Errorf("SignalCount(%q, %q, %q): expected %d, got %d",
				tt.symbol, tt.interval, tt.direction, tt.expected, got)
		}
	}
}

func TestWinRate(t *testing.T) {
	tracker := NewTracker()

	if rate := tracker.WinRate(); rate != 0.0 {
		t.Errorf("Expected win rate 0.0 with no closed signals, got %f", rate)
	}

	tracker.RecordSignal("BTCUSDT", "15m", "LONG")
	tracker.RecordSignal("BTCUSDT", "15m", "LONG")
	tracker.RecordSignal("BTCUSDT", "15m", "SHORT")
	tracker.RecordHit()
	tracker.RecordHit()
	tracker.RecordStop()

	if rate := tracker.WinRate(); rate < 0.666 || rate > 0.667 {
		t.Errorf("Expected win rate 2/3, got %f", rate)
	}
}

func TestSummary(t *testing.T) {
	tracker := NewTracker()

	tracker.RecordSignal("BTCUSDT", "15m", "LONG")
	tracker.RecordSignal("ETHUSDT", "1h", "SHORT")
	tracker.RecordHit()

	summary := tracker.Summary()

	if summary.TotalSignals != 2 {
		t.Errorf("Expected 2 total signals, got %d", summary.TotalSignals)
	}
	if summary.LongSignals != 1 {
		t.Errorf("Expected 1 long signal, got %d", summary.LongSignals)
	}
	if summary.ShortSignals != 1 {
		t.Errorf("Expected 1 short signal, got %d", summary.ShortSignals)
	}
	if summary.SignalsLastHour != 2 {
		t.Errorf("Expected 2 signals in last hour, got %d", summary.SignalsLastHour)
	}
	if summary.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", summary.Hits)
	}
	if summary.Pending != 1 {
		t.Errorf("Expected 1 pending, got %d", summary.Pending)
	}
	if summary.WinRate != 1.0 {
		t.Errorf("Expected win rate 1.0, got %f", summary.WinRate)
	}
	if summary.UptimeFormatted == "" {
		t.Error("Expected formatted uptime to be set")
	}
}

func TestDetailedStats(t *testing.T) {
	tracker := NewTracker()

	tracker.RecordSignal("BTCUSDT", "15m", "LONG")
	tracker.RecordSignal("BTCUSDT", "15m", "SHORT")
	tracker.RecordSignal("BTCUSDT", "1h", "LONG")
	tracker.RecordSignal("ETHUSDT", "1h", "LONG")

	stats := tracker.DetailedStats()

	if stats.BySymbol["BTCUSDT"]["15m"]["LONG"] != 1 {
		t.Errorf("Expected 1 BTCUSDT/15m/LONG, got %d", stats.BySymbol["BTCUSDT"]["15m"]["LONG"])
	}
	if stats.ByInterval["15m"] != 2 {
		t.Errorf("Expected 2 signals on 15m, got %d", stats.ByInterval["15m"])
	}
	if stats.ByInterval["1h"] != 2 {
		t.Errorf("Expected 2 signals on 1h, got %d", stats.ByInterval["1h"])
	}
	if stats.ByDirection["LONG"] != 3 {
		t.Errorf("Expected 3 LONG signals, got %d", stats.ByDirection["LONG"])
	}
}

func TestReset(t *testing.T) {
	tracker := NewTracker()

	tracker.RecordSignal("BTCUSDT", "15m", "LONG")
	tracker.RecordHit()
	tracker.Reset()

	summary := tracker.Summary()
	if summary.TotalSignals != 0 || summary.Hits != 0 || summary.Pending != 0 {
		t.Errorf("Expected zeroed summary after reset, got %+v", summary)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		uptime   time.Duration
		expected string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m"},
		{3*time.Minute + 4*time.Second, "3m 4s"},
		{2 * time.Hour, "2h"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1d 2h 3m 4s"},
		{24 * time.Hour, "1d"},
	}

	for _, tt := range tests {
		got := formatUptime(tt.uptime)
		if got != tt.expected {
			t.Errorf("formatUptime(%v): expected %q, got %q", tt.uptime, tt.expected, got)
		}
	}
}

func TestCollectorExposesCounters(t *testing.T) {
	collector := NewCollector()

	collector.CandlesProcessed.WithLabelValues("BTCUSDT", "15m").Inc()
	collector.SignalsGenerated.WithLabelValues("BTCUSDT", "LONG").Add(3)
	collector.SignalsSuppressed.WithLabelValues("pair cooldown").Inc()
	collector.StreamReconnects.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	checks := []string{
		`signal_engine_candles_processed_total{interval="15m",symbol="BTCUSDT"} 1`,
		`signal_engine_signals_generated_total{direction="LONG",symbol="BTCUSDT"} 3`,
		`signal_engine_signals_suppressed_total{reason="pair cooldown"} 1`,
		`signal_engine_stream_reconnects_total 1`,
	}
	for _, want := range checks {
		if !strings.Contains(body, want) {
			t.Errorf("Expected exposition to contain %q", want)
		}
	}
}
