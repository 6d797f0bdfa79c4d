package fusion

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/internal/analyzer"
)

// Suppression reasons reported to logs and metrics.
const (
	SuppressReasonPairCooldown   = "pair cooldown"
	SuppressReasonSymbolCooldown = "symbol cooldown"
	SuppressReasonConflict       = "conflicting direction"
	SuppressReasonDuplicate      = "duplicate signal"
)

const (
	defaultConflictWindow = time.Hour
	defaultMinPriceMove   = 0.015
)

// SuppressorConfig tunes the cooldown and conflict rules.
type SuppressorConfig struct {
	// SignalCooldown is the minimum gap between emissions for one
	// (symbol, interval) pair.
	SignalCooldown time.Duration

	// SymbolCooldown is the minimum gap between emissions for one symbol
	// across all intervals.
	SymbolCooldown time.Duration

	// PreventConflicting rejects a candidate whose direction opposes the
	// symbol's last emission within ConflictWindow.
	PreventConflicting bool

	// ConflictWindow bounds both the conflict check and the duplicate
	// (same-direction) check.
	ConflictWindow time.Duration

	// MinPriceMove is the fractional price change required before a
	// same-direction signal may repeat within ConflictWindow.
	MinPriceMove float64
}

func (c *SuppressorConfig) applyDefaults() {
	if c.ConflictWindow <= 0 {
		c.ConflictWindow = defaultConflictWindow
	}
	if c.MinPriceMove <= 0 {
		c.MinPriceMove = defaultMinPriceMove
	}
}

// DirectionStamp records the direction and time of a symbol's last emission.
type DirectionStamp struct {
	Direction analyzer.Direction `json:"direction"`
	At        time.Time          `json:"at"`
}

// State is a snapshot of the suppressor's bookkeeping, used to warm-start
// cooldowns across restarts. Pair keys are "<symbol>|<interval>".
type State struct {
	PairEmits   map[string]time.Time      `json:"pair_emits"`
	SymbolEmits map[string]time.Time      `json:"symbol_emits"`
	Directions  map[string]DirectionStamp `json:"directions"`
}

// PriorEntryFunc fetches the entry price of the symbol's most recent
// persisted signal. Returning 0 means no prior signal is known.
type PriorEntryFunc func() (float64, error)

// Suppressor enforces the emission-rate rules around the fuser: cooldowns
// checked before analyzers run, conflict and duplicate checks after fusion,
// and bookkeeping committed only once the signal is durably persisted.
type Suppressor struct {
	cfg    SuppressorConfig
	logger zerolog.Logger

	mu          sync.Mutex
	pairEmits   map[key]time.Time
	symbolEmits map[string]time.Time
	directions  map[string]DirectionStamp
}

type key struct {
	symbol   string
	interval string
}

func NewSuppressor(cfg SuppressorConfig, logger zerolog.Logger) *Suppressor {
	cfg.applyDefaults()
	return &Suppressor{
		cfg:         cfg,
		logger:      logger,
		pairEmits:   make(map[key]time.Time),
		symbolEmits: make(map[string]time.Time),
		directions:  make(map[string]DirectionStamp),
	}
}

// PrecheckCooldowns reports whether a (symbol, interval) pair is still
// cooling down. It runs before the analyzers so a suppressed pair costs
// nothing. Returns the suppression reason and true when blocked.
func (s *Suppressor) PrecheckCooldowns(symbol, interval string, now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.SignalCooldown > 0 {
		if last, ok := s.pairEmits[key{symbol, interval}]; ok && now.Sub(last) < s.cfg.SignalCooldown {
			return SuppressReasonPairCooldown, true
		}
	}
	if s.cfg.SymbolCooldown > 0 {
		if last, ok := s.symbolEmits[symbol]; ok && now.Sub(last) < s.cfg.SymbolCooldown {
			return SuppressReasonSymbolCooldown, true
		}
	}
	return "", false
}

// Veto applies the post-fusion rules to a candidate: conflicting direction
// within the window, and same-direction repetition without enough price
// movement. priorEntry is only invoked for the duplicate check, so the
// store lookup is paid lazily.
func (s *Suppressor) Veto(symbol string, direction analyzer.Direction, price float64, now time.Time, priorEntry PriorEntryFunc) (string, bool) {
	if !s.cfg.PreventConflicting {
		return "", false
	}

	s.mu.Lock()
	stamp, ok := s.directions[symbol]
	s.mu.Unlock()
	if !ok || now.Sub(stamp.At) >= s.cfg.ConflictWindow {
		return "", false
	}

	if stamp.Direction != direction {
		s.logger.Info().
			Str("symbol", symbol).
			Str("direction", string(direction)).
			Str("last_direction", string(stamp.Direction)).
			Dur("since_last", now.Sub(stamp.At)).
			Msg("suppressing conflicting signal")
		return SuppressReasonConflict, true
	}

	if priorEntry == nil {
		return "", false
	}
	lastEntry, err := priorEntry()
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("prior entry lookup failed, allowing signal")
		return "", false
	}
	if lastEntry <= 0 {
		return "", false
	}

	change := (price - lastEntry) / lastEntry
	if change < 0 {
		change = -change
	}
	if change < s.cfg.MinPriceMove {
		s.logger.Info().
			Str("symbol", symbol).
			Str("direction", string(direction)).
			Float64("price", price).
			Float64("last_entry", lastEntry).
			Float64("change", change).
			Msg("suppressing duplicate signal, price barely moved")
		return SuppressReasonDuplicate, true
	}
	return "", false
}

// Commit records a successful emission. Call only after the signal has been
// persisted, so a failed insert leaves the cooldowns open for a retry.
func (s *Suppressor) Commit(symbol, interval string, direction analyzer.Direction, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pairEmits[key{symbol, interval}] = now
	s.symbolEmits[symbol] = now
	s.directions[symbol] = DirectionStamp{Direction: direction, At: now}
}

// Snapshot copies the current bookkeeping for external persistence.
func (s *Suppressor) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{
		PairEmits:   make(map[string]time.Time, len(s.pairEmits)),
		SymbolEmits: make(map[string]time.Time, len(s.symbolEmits)),
		Directions:  make(map[string]DirectionStamp, len(s.directions)),
	}
	for k, t := range s.pairEmits {
		state.PairEmits[k.symbol+"|"+k.interval] = t
	}
	for sym, t := range s.symbolEmits {
		state.SymbolEmits[sym] = t
	}
	for sym, stamp := range s.directions {
		state.Directions[sym] = stamp
	}
	return state
}

// Restore merges a snapshot into the bookkeeping, keeping whichever stamp
// is newer. Used to warm-start cooldowns from an external store.
func (s *Suppressor) Restore(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pair, t := range state.PairEmits {
		k, ok := splitPairKey(pair)
		if !ok {
			continue
		}
		if existing, found := s.pairEmits[k]; !found || t.After(existing) {
			s.pairEmits[k] = t
		}
	}
	for sym, t := range state.SymbolEmits {
		if existing, found := s.symbolEmits[sym]; !found || t.After(existing) {
			s.symbolEmits[sym] = t
		}
	}
	for sym, stamp := range state.Directions {
		if existing, found := s.directions[sym]; !found || stamp.At.After(existing.At) {
			s.directions[sym] = stamp
		}
	}
}

func splitPairKey(pair string) (key, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '|' {
			return key{symbol: pair[:i], interval: pair[i+1:]}, true
		}
	}
	return key{}, false
}
