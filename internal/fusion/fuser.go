package fusion

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"binance-signal-engine/internal/analyzer"
	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/indicators"
)

const (
	// Tier 3.5 thresholds: a lone momentum indicator must be extreme
	// before it can carry a signal by itself.
	strongRSIConfidence  = 0.90
	strongMACDConfidence = 0.75

	defaultSingleAnalyzerConfidence = 0.75
	defaultATRCandles               = 30
	defaultATRPeriod                = 14

	confirmationBonusStep = 0.03
	maxConfirmationBonus  = 0.15
	tier1ConfidenceCap    = 0.95
)

// Config tunes the fusion tiers and target calculation.
type Config struct {
	// MinConfidence rejects fused candidates below this final confidence.
	MinConfidence float64

	// AllowSingleAnalyzer enables tiers 3.5 and 4, letting one extreme
	// analyzer carry a signal without peer agreement. The live engine runs
	// with this on; backtests default to off.
	AllowSingleAnalyzer bool

	// SingleAnalyzerConfidence is the tier-4 threshold for a lone pattern
	// analyzer (Wyckoff or Elliott).
	SingleAnalyzerConfidence float64

	// ATRCandles and ATRPeriod control the volatility window for targets.
	ATRCandles int
	ATRPeriod  int

	Targets TargetConfig
}

func (c *Config) applyDefaults() {
	if c.SingleAnalyzerConfidence <= 0 {
		c.SingleAnalyzerConfidence = defaultSingleAnalyzerConfidence
	}
	if c.ATRCandles <= 0 {
		c.ATRCandles = defaultATRCandles
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = defaultATRPeriod
	}
	c.Targets.applyDefaults()
}

// Inputs carries one bar-close analysis round into the fuser. Analyzer
// results may be nil when the analyzer is disabled or errored; a non-nil
// result with an empty direction means "no setup".
type Inputs struct {
	Symbol       string
	Interval     string
	Candles      []candle.Candle
	CurrentPrice float64

	Wyckoff *analyzer.Result
	Elliott *analyzer.Result
	RSI     *analyzer.Result
	MACD    *analyzer.Result
}

// Fuser combines analyzer verdicts into a single tradable signal using a
// tiered agreement ladder. It is a pure function of its inputs; cooldown
// and conflict suppression live in Suppressor.
type Fuser struct {
	cfg    Config
	logger zerolog.Logger
}

func NewFuser(cfg Config, logger zerolog.Logger) *Fuser {
	cfg.applyDefaults()
	return &Fuser{cfg: cfg, logger: logger}
}

// Fuse runs the tier ladder over the analyzer verdicts and, when a tier
// matches, attaches confirmations, targets, and rationale. Returns nil when
// no tier matches or the final confidence falls below the threshold.
func (f *Fuser) Fuse(in Inputs) *Signal {
	direction, base, reason := f.resolveTier(in)
	if direction == "" {
		f.logger.Debug().
			Str("symbol", in.Symbol).
			Str("interval", in.Interval).
			Str("verdicts", summarizeVerdicts(in)).
			Msg("fusion: no agreement or strong signal")
		return nil
	}

	confirmations, snapshot := analyzer.Confirmations(in.Candles, direction, in.CurrentPrice)
	bonus := math.Min(maxConfirmationBonus, confirmationBonusStep*float64(len(confirmations)))
	confidence := math.Min(1.0, base+bonus)

	if confidence < f.cfg.MinConfidence {
		f.logger.Info().
			Str("symbol", in.Symbol).
			Str("interval", in.Interval).
			Str("direction", string(direction)).
			Float64("confidence", confidence).
			Float64("min_confidence", f.cfg.MinConfidence).
			Msg("fusion: candidate below confidence threshold")
		return nil
	}

	atrWindow := in.Candles
	if len(atrWindow) > f.cfg.ATRCandles {
		atrWindow = atrWindow[len(atrWindow)-f.cfg.ATRCandles:]
	}
	atr := indicators.CalculateATR(atrWindow, f.cfg.ATRPeriod)

	// Wave-projected targets apply only when Elliott actually contributed
	// to the fused direction.
	var waves *analyzer.WaveData
	if in.Elliott.HasSignal() && in.Elliott.Direction == direction {
		waves = in.Elliott.Waves
	}
	stopLoss, takeProfit := computeTargets(f.cfg.Targets, direction, in.CurrentPrice, atr, waves)

	tpDistance := math.Abs(takeProfit - in.CurrentPrice)
	var takeProfit2, takeProfit3 float64
	if direction == analyzer.DirectionLong {
		takeProfit2 = in.CurrentPrice + tpDistance*1.5
		takeProfit3 = in.CurrentPrice + tpDistance*2.0
	} else {
		takeProfit2 = in.CurrentPrice - tpDistance*1.5
		takeProfit3 = in.CurrentPrice - tpDistance*2.0
	}

	riskReward := 0.0
	if risk := math.Abs(in.CurrentPrice - stopLoss); risk > 0 {
		riskReward = tpDistance / risk
	}

	sig := &Signal{
		TraceID:       uuid.NewString(),
		Symbol:        in.Symbol,
		Interval:      in.Interval,
		Direction:     direction,
		EntryPrice:    in.CurrentPrice,
		StopLoss:      stopLoss,
		TakeProfit:    takeProfit,
		TakeProfit2:   takeProfit2,
		TakeProfit3:   takeProfit3,
		Confidence:    confidence,
		FusionReason:  reason,
		Indicators:    snapshot,
		Confirmations: confirmations,
		Rationale:     buildRationale(in, direction, confirmations, riskReward),
		ATR:           atr,
		RiskReward:    riskReward,
		Status:        StatusActive,
		CreatedAt:     time.Now().UTC(),
	}
	if in.Wyckoff != nil {
		sig.WyckoffPhase = in.Wyckoff.Phase
	}
	if in.Elliott != nil {
		sig.ElliottWaveCount = in.Elliott.WaveCount
	}

	f.logger.Debug().
		Str("symbol", in.Symbol).
		Str("interval", in.Interval).
		Str("direction", string(direction)).
		Float64("confidence", confidence).
		Str("reason", reason).
		Msg("fusion: candidate accepted")
	return sig
}

// resolveTier walks the agreement ladder top-down and returns the first
// matching tier's direction, base confidence, and reason. An empty direction
// means no tier matched. The ladder is first-match: when tier 2's analyzers
// are all present but disagree on direction, no lower tier is consulted.
func (f *Fuser) resolveTier(in Inputs) (analyzer.Direction, float64, string) {
	wyDir, wyConf := verdictOf(in.Wyckoff)
	elDir, elConf := verdictOf(in.Elliott)
	rsiDir, rsiConf := verdictOf(in.RSI)
	macdDir, macdConf := verdictOf(in.MACD)

	switch {
	// TIER 1: both pattern analyzers agree.
	case wyDir != "" && elDir != "" && wyDir == elDir:
		confidence := (wyConf + elConf) / 2
		var agreeing []string
		if rsiDir == wyDir {
			confidence += 0.05
			agreeing = append(agreeing, "RSI")
		}
		if macdDir == wyDir {
			confidence += 0.05
			agreeing = append(agreeing, "MACD")
		}
		confidence = math.Min(tier1ConfidenceCap, confidence)
		reason := fmt.Sprintf("Wyckoff+Elliott agree on %s", wyDir)
		if len(agreeing) > 0 {
			reason += fmt.Sprintf(" (confirmed by %s)", strings.Join(agreeing, ", "))
		}
		return wyDir, confidence, reason

	// TIER 2: one pattern analyzer plus both momentum indicators.
	case (wyDir != "" || elDir != "") && rsiDir != "" && macdDir != "":
		patternDir, patternConf, patternName := wyDir, wyConf, "Wyckoff"
		if wyDir == "" {
			patternDir, patternConf, patternName = elDir, elConf, "Elliott"
		}
		if patternDir == rsiDir && rsiDir == macdDir {
			confidence := (patternConf + rsiConf + macdConf) / 3
			return patternDir, confidence, fmt.Sprintf("%s+RSI+MACD agree on %s", patternName, patternDir)
		}
		// All three camps spoke but disagreed; that is a contested tape,
		// not a weaker setup, so no fallback to lower tiers.
		return "", 0, ""

	// TIER 3: momentum indicators agree with no pattern context.
	case rsiDir != "" && macdDir != "" && rsiDir == macdDir:
		confidence := (rsiConf + macdConf) / 2
		return rsiDir, confidence, fmt.Sprintf("RSI+MACD agree on %s", rsiDir)

	// TIER 3.5: one extreme momentum indicator alone.
	case f.cfg.AllowSingleAnalyzer && rsiDir != "" && rsiConf >= strongRSIConfidence:
		return rsiDir, rsiConf * 0.85, fmt.Sprintf("Strong RSI %s alone (%.1f%%)", rsiDir, rsiConf*100)

	case f.cfg.AllowSingleAnalyzer && macdDir != "" && macdConf >= strongMACDConfidence:
		return macdDir, macdConf * 0.85, fmt.Sprintf("Strong MACD %s alone (%.1f%%)", macdDir, macdConf*100)

	// TIER 4: one strong pattern analyzer alone.
	case f.cfg.AllowSingleAnalyzer && wyDir != "" && wyConf >= f.cfg.SingleAnalyzerConfidence:
		return wyDir, wyConf * 0.9, fmt.Sprintf("Strong Wyckoff %s alone (>%.0f%%)", wyDir, f.cfg.SingleAnalyzerConfidence*100)

	case f.cfg.AllowSingleAnalyzer && elDir != "" && elConf >= f.cfg.SingleAnalyzerConfidence:
		return elDir, elConf * 0.9, fmt.Sprintf("Strong Elliott %s alone (>%.0f%%)", elDir, f.cfg.SingleAnalyzerConfidence*100)
	}

	return "", 0, ""
}

func verdictOf(r *analyzer.Result) (analyzer.Direction, float64) {
	if !r.HasSignal() {
		return "", 0
	}
	return r.Direction, r.Confidence
}

func buildRationale(in Inputs, direction analyzer.Direction, confirmations []string, riskReward float64) string {
	var parts []string

	if in.Wyckoff.HasSignal() && in.Wyckoff.Direction == direction {
		parts = append(parts, fmt.Sprintf("**Wyckoff (%.0f%%):** %s",
			in.Wyckoff.Confidence*100, strings.Join(in.Wyckoff.Rationale, "; ")))
	}
	if in.Elliott.HasSignal() && in.Elliott.Direction == direction {
		parts = append(parts, fmt.Sprintf("**Elliott Wave (%.0f%%):** %s",
			in.Elliott.Confidence*100, strings.Join(in.Elliott.Rationale, "; ")))
	}
	if len(confirmations) > 0 {
		parts = append(parts, fmt.Sprintf("**Indicators:** %s", strings.Join(confirmations, ", ")))
	}
	parts = append(parts, fmt.Sprintf("**Risk/Reward:** %.2f:1", riskReward))

	return strings.Join(parts, "\n")
}

func summarizeVerdicts(in Inputs) string {
	var parts []string
	if dir, _ := verdictOf(in.Wyckoff); dir != "" {
		parts = append(parts, fmt.Sprintf("Wyckoff=%s", dir))
	}
	if dir, _ := verdictOf(in.Elliott); dir != "" {
		parts = append(parts, fmt.Sprintf("Elliott=%s", dir))
	}
	if dir, _ := verdictOf(in.RSI); dir != "" {
		parts = append(parts, fmt.Sprintf("RSI=%s", dir))
	}
	if dir, _ := verdictOf(in.MACD); dir != "" {
		parts = append(parts, fmt.Sprintf("MACD=%s", dir))
	}
	if len(parts) == 0 {
		return "no verdicts"
	}
	return strings.Join(parts, ", ")
}
