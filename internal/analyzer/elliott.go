package analyzer

import (
	"fmt"
	"math"
	"strings"

	"binance-signal-engine/internal/candle"
)

const (
	elliottMinCandles = 50
	pivotWindow       = 5
	maxRecentPivots   = 10
)

// ElliottAnalyzer runs a simplified Elliott Wave count over recent swing
// pivots. A completed 5-wave impulse suggests a reversal against the impulse
// direction; a completed ABC correction suggests resumption of the prior
// trend.
type ElliottAnalyzer struct {
	minCandles int
	window     int
}

// NewElliottAnalyzer creates an Elliott Wave analyzer with default parameters
func NewElliottAnalyzer() *ElliottAnalyzer {
	return &ElliottAnalyzer{minCandles: elliottMinCandles, window: pivotWindow}
}

func (a *ElliottAnalyzer) Name() string {
	return "elliott"
}

func (a *ElliottAnalyzer) Analyze(candles []candle.Candle) (*Result, error) {
	result := &Result{Analyzer: a.Name(), WaveCount: "unknown"}
	if len(candles) < a.minCandles {
		return result, nil
	}

	pivots := findPivots(candles, a.window)
	if len(pivots) < 5 {
		return result, nil
	}
	if len(pivots) > maxRecentPivots {
		pivots = pivots[len(pivots)-maxRecentPivots:]
	}

	if impulse := findImpulsePattern(pivots); impulse != nil {
		result.Direction = impulse.direction
		result.Confidence = impulse.confidence
		result.WaveCount = impulse.count
		result.Waves = impulse.waves

		correction := "down"
		trend := "UP"
		if impulse.direction == DirectionLong {
			correction = "up"
			trend = "DOWN"
		}
		result.Rationale = []string{
			fmt.Sprintf("Elliott Wave: Completed 5-wave impulse %s", trend),
			fmt.Sprintf("Wave 5 target: %.2f", impulse.wave5End),
			fmt.Sprintf("Expecting ABC correction (%s)", correction),
		}
		return result, nil
	}

	if corr := findCorrectionPattern(pivots); corr != nil {
		result.Direction = corr.direction
		result.Confidence = corr.confidence
		result.WaveCount = "ABC correction"
		result.Rationale = []string{
			"Elliott Wave: ABC correction appears complete",
			fmt.Sprintf("Expecting resumption of %s trend", strings.ToLower(string(corr.direction))),
			fmt.Sprintf("Entry zone: %.2f", corr.entryZone),
		}
	}

	return result, nil
}

type pivotKind int

const (
	pivotHigh pivotKind = iota
	pivotLow
)

type pivot struct {
	kind  pivotKind
	price float64
	index int
}

// findPivots returns swing highs and lows that strictly dominate every bar
// within the window on both sides. Ties disqualify a bar, and a bar can be
// at most one pivot kind.
func findPivots(candles []candle.Candle, window int) []pivot {
	var pivots []pivot

	for i := window; i < len(candles)-window; i++ {
		isHigh := true
		for j := i - window; j <= i+window; j++ {
			if j != i && candles[j].High >= candles[i].High {
				isHigh = false
				break
			}
		}
		if isHigh {
			pivots = append(pivots, pivot{kind: pivotHigh, price: candles[i].High, index: i})
			continue
		}

		isLow := true
		for j := i - window; j <= i+window; j++ {
			if j != i && candles[j].Low <= candles[i].Low {
				isLow = false
				break
			}
		}
		if isLow {
			pivots = append(pivots, pivot{kind: pivotLow, price: candles[i].Low, index: i})
		}
	}

	return pivots
}

type impulsePattern struct {
	direction  Direction
	confidence float64
	count      string
	wave5End   float64
	waves      *WaveData
}

// findImpulsePattern looks for a completed 5-wave impulse in the last six
// pivots. The classic rules are enforced: wave 2 retraces less than all of
// wave 1, wave 3 is not the shortest of 1/3/5, and wave 4 does not overlap
// wave 1 territory. A completed impulse up proposes SHORT (expect
// correction); a completed impulse down proposes LONG.
func findImpulsePattern(pivots []pivot) *impulsePattern {
	if len(pivots) < 6 {
		return nil
	}

	last6 := pivots[len(pivots)-6:]

	if matchesKinds(last6, pivotLow, pivotHigh, pivotLow, pivotHigh, pivotLow, pivotHigh) {
		p0, p1, p2, p3, p4, p5 := last6[0].price, last6[1].price, last6[2].price, last6[3].price, last6[4].price, last6[5].price

		wave1 := p1 - p0
		wave2 := p1 - p2
		wave3 := p3 - p2
		wave4 := p3 - p4
		wave5 := p5 - p4

		if wave2/wave1 < 1.0 && wave3 >= wave1 && wave3 >= wave5 && p4 > p1 {
			return &impulsePattern{
				direction:  DirectionShort,
				confidence: impulseConfidence(wave1, wave2, wave3, wave4, wave5),
				count:      "5 waves up",
				wave5End:   p5,
				waves: &WaveData{
					Wave1Start: p0,
					Wave1End:   p1,
					Wave4Low:   p4,
					Wave4High:  p3,
				},
			}
		}
	}

	if matchesKinds(last6, pivotHigh, pivotLow, pivotHigh, pivotLow, pivotHigh, pivotLow) {
		p0, p1, p2, p3, p4, p5 := last6[0].price, last6[1].price, last6[2].price, last6[3].price, last6[4].price, last6[5].price

		wave1 := p0 - p1
		wave2 := p2 - p1
		wave3 := p2 - p3
		wave4 := p4 - p3
		wave5 := p4 - p5

		if wave2/wave1 < 1.0 && wave3 >= wave1 && wave3 >= wave5 && p4 < p1 {
			return &impulsePattern{
				direction:  DirectionLong,
				confidence: impulseConfidence(wave1, wave2, wave3, wave4, wave5),
				count:      "5 waves down",
				wave5End:   p5,
				waves: &WaveData{
					Wave1Start: p0,
					Wave1End:   p1,
					Wave4Low:   p3,
					Wave4High:  p4,
				},
			}
		}
	}

	return nil
}

// impulseConfidence scores a rule-passing impulse on its proportions:
// wave 3 longest of all five, wave 3 extended past 1.618x wave 1, and
// wave 5 shorter than wave 3.
func impulseConfidence(wave1, wave2, wave3, wave4, wave5 float64) float64 {
	confidence := 0.5

	longest := math.Max(wave1, math.Max(wave2, math.Max(wave3, math.Max(wave4, wave5))))
	if wave3 == longest {
		confidence += 0.2
	}
	if wave3 > 1.618*wave1 {
		confidence += 0.15
	}
	if wave5 < wave3 {
		confidence += 0.15
	}

	return math.Min(1.0, confidence)
}

type correctionPattern struct {
	direction  Direction
	confidence float64
	entryZone  float64
	ratio      float64
}

// findCorrectionPattern looks for a completed ABC correction in the last
// four pivots. Wave C between 0.8x and 1.618x of wave A qualifies, with a
// confidence bump when the two are near equal.
func findCorrectionPattern(pivots []pivot) *correctionPattern {
	if len(pivots) < 4 {
		return nil
	}

	last4 := pivots[len(pivots)-4:]

	// Correction down after an uptrend: expect the uptrend to resume.
	if matchesKinds(last4, pivotHigh, pivotLow, pivotHigh, pivotLow) {
		aStart, aEnd, b, c := last4[0].price, last4[1].price, last4[2].price, last4[3].price

		waveA := aStart - aEnd
		waveC := b - c

		if ratio, ok := cToARatio(waveC, waveA); ok {
			return &correctionPattern{
				direction:  DirectionLong,
				confidence: correctionConfidence(ratio),
				entryZone:  c,
				ratio:      ratio,
			}
		}
	}

	// Correction up after a downtrend: expect the downtrend to resume.
	if matchesKinds(last4, pivotLow, pivotHigh, pivotLow, pivotHigh) {
		aStart, aEnd, b, c := last4[0].price, last4[1].price, last4[2].price, last4[3].price

		waveA := aEnd - aStart
		waveC := c - b

		if ratio, ok := cToARatio(waveC, waveA); ok {
			return &correctionPattern{
				direction:  DirectionShort,
				confidence: correctionConfidence(ratio),
				entryZone:  c,
				ratio:      ratio,
			}
		}
	}

	return nil
}

func cToARatio(waveC, waveA float64) (float64, bool) {
	if waveA <= 0 {
		return 0, false
	}
	ratio := waveC / waveA
	return ratio, ratio >= 0.8 && ratio <= 1.618
}

func correctionConfidence(ratio float64) float64 {
	confidence := 0.5
	if ratio >= 0.95 && ratio <= 1.05 {
		confidence += 0.3
	}
	return math.Min(0.8, confidence)
}

func matchesKinds(pivots []pivot, kinds ...pivotKind) bool {
	if len(pivots) != len(kinds) {
		return false
	}
	for i, k := range kinds {
		if pivots[i].kind != k {
			return false
		}
	}
	return true
}
