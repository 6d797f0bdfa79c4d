package fusion

import (
	"math"

	"binance-signal-engine/internal/analyzer"
)

// TargetConfig controls how stop-loss and take-profit levels are derived.
type TargetConfig struct {
	// UseElliottWaveTargets switches to wave-projected levels whenever the
	// Elliott analyzer contributed to the fused direction.
	UseElliottWaveTargets bool

	// ElliottWave5Ratio scales the wave-1 length for the wave-5 projection.
	ElliottWave5Ratio float64

	ATRStopLossMultiplier   float64
	ATRTakeProfitMultiplier float64

	// MinRiskReward widens take-profits so reward/risk never drops below
	// this floor.
	MinRiskReward float64
}

func (c *TargetConfig) applyDefaults() {
	if c.ElliottWave5Ratio <= 0 {
		c.ElliottWave5Ratio = 1.0
	}
	if c.ATRStopLossMultiplier <= 0 {
		c.ATRStopLossMultiplier = 2.0
	}
	if c.ATRTakeProfitMultiplier <= 0 {
		c.ATRTakeProfitMultiplier = 3.0
	}
	if c.MinRiskReward <= 0 {
		c.MinRiskReward = 1.2
	}
}

// computeTargets derives stop-loss and take-profit for a fused signal. Wave
// projections are used only when enabled and the Elliott analyzer supplied
// usable wave data; everything else falls back to ATR distances. Whatever
// mode produced them, the take-profit is widened until reward/risk reaches
// the configured floor.
func computeTargets(cfg TargetConfig, direction analyzer.Direction, entry, atr float64, waves *analyzer.WaveData) (stopLoss, takeProfit float64) {
	if cfg.UseElliottWaveTargets && waves != nil && waves.Wave1Length() > 0 {
		stopLoss, takeProfit = elliottTargets(cfg, direction, entry, waves)
	} else {
		stopLoss, takeProfit = atrTargets(cfg, direction, entry, atr)
	}

	risk := math.Abs(entry - stopLoss)
	reward := math.Abs(takeProfit - entry)
	if risk > 0 && reward/risk < cfg.MinRiskReward {
		if direction == analyzer.DirectionLong {
			takeProfit = entry + risk*cfg.MinRiskReward
		} else {
			takeProfit = entry - risk*cfg.MinRiskReward
		}
	}
	return stopLoss, takeProfit
}

func atrTargets(cfg TargetConfig, direction analyzer.Direction, entry, atr float64) (stopLoss, takeProfit float64) {
	if direction == analyzer.DirectionLong {
		if atr > 0 {
			return entry - atr*cfg.ATRStopLossMultiplier, entry + atr*cfg.ATRTakeProfitMultiplier
		}
		return entry * 0.98, entry * 1.04
	}
	if atr > 0 {
		return entry + atr*cfg.ATRStopLossMultiplier, entry - atr*cfg.ATRTakeProfitMultiplier
	}
	return entry * 1.02, entry * 0.96
}

// elliottTargets projects wave 5 from the wave-1 length and anchors the stop
// just beyond the wave-4 extreme. Wave-4 levels that sit on the wrong side of
// the entry are ignored in favour of a wave-1 based stop.
func elliottTargets(cfg TargetConfig, direction analyzer.Direction, entry float64, waves *analyzer.WaveData) (stopLoss, takeProfit float64) {
	projection := waves.Wave1Length() * cfg.ElliottWave5Ratio

	if direction == analyzer.DirectionLong {
		takeProfit = entry + projection
		if waves.Wave4Low > 0 && waves.Wave4Low < entry {
			stopLoss = waves.Wave4Low * 0.999
		} else {
			stopLoss = math.Min(waves.Wave1End*0.995, entry*0.98)
		}
	} else {
		takeProfit = entry - projection
		if waves.Wave4High > 0 && waves.Wave4High > entry {
			stopLoss = waves.Wave4High * 1.001
		} else {
			stopLoss = math.Max(waves.Wave1End*1.005, entry*1.02)
		}
	}

	return stopLoss, takeProfit
}
