package indicators

import (
	"math"

	"binance-signal-engine/internal/candle"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates Simple Moving Average over the last period values
func CalculateSMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	sum := 0.0
	startIdx := len(values) - period

	for i := startIdx; i < len(values); i++ {
		sum += values[i]
	}

	return sum / float64(period)
}

// CalculateEMASeries calculates the full Exponential Moving Average series.
// The first value seeds the series; subsequent values use the standard
// recursive form with multiplier 2/(period+1).
func CalculateEMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) == 0 {
		return nil
	}

	multiplier := 2.0 / float64(period+1)

	series := make([]float64, len(values))
	series[0] = values[0]

	for i := 1; i < len(values); i++ {
		series[i] = (values[i] * multiplier) + (series[i-1] * (1 - multiplier))
	}

	return series
}

// CalculateEMA calculates the latest Exponential Moving Average value
func CalculateEMA(values []float64, period int) float64 {
	if len(values) < period {
		return 0
	}

	series := CalculateEMASeries(values, period)
	if len(series) == 0 {
		return 0
	}

	return series[len(series)-1]
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// CalculateRSISeries calculates RSI over the close series using Wilder's
// smoothing. The first average is a simple mean of the first period changes;
// subsequent averages use (prev*(period-1) + current) / period. Only valid
// values are returned, so the result has len(closes)-period entries.
func CalculateRSISeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}

	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)

	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i-1] = change
		} else {
			losses[i-1] = -change
		}
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	rsi := make([]float64, 0, len(gains)-period+1)
	rsi = append(rsi, rsiFromAverages(avgGain, avgLoss))

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		rsi = append(rsi, rsiFromAverages(avgGain, avgLoss))
	}

	return rsi
}

// CalculateRSI calculates the latest RSI value, returning 50 (neutral) when
// there is not enough data.
func CalculateRSI(closes []float64, period int) float64 {
	series := CalculateRSISeries(closes, period)
	if len(series) == 0 {
		return 50.0
	}

	return series[len(series)-1]
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// MACDSeries holds the full MACD line, signal line, and histogram series
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// Latest returns the most recent MACD line, signal, and histogram values
func (m *MACDSeries) Latest() (line, signal, histogram float64) {
	n := len(m.Line)
	if n == 0 {
		return 0, 0, 0
	}

	return m.Line[n-1], m.Signal[n-1], m.Histogram[n-1]
}

// CalculateMACDSeries calculates the MACD line as the difference between the
// fast and slow EMAs, the signal line as an EMA of the MACD line, and the
// histogram as their difference. Returns nil when there is not enough data
// for the slow EMA plus the signal line to settle.
func CalculateMACDSeries(closes []float64, fastPeriod, slowPeriod, signalPeriod int) *MACDSeries {
	if len(closes) < slowPeriod+signalPeriod {
		return nil
	}

	fastEMA := CalculateEMASeries(closes, fastPeriod)
	slowEMA := CalculateEMASeries(closes, slowPeriod)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}

	signal := CalculateEMASeries(line, signalPeriod)

	histogram := make([]float64, len(closes))
	for i := range closes {
		histogram[i] = line[i] - signal[i]
	}

	return &MACDSeries{
		Line:      line,
		Signal:    signal,
		Histogram: histogram,
	}
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// CalculateATR calculates Average True Range as the simple mean of the true
// range over the last period bars
func CalculateATR(candles []candle.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	trSum := 0.0
	startIdx := len(candles) - period

	for i := startIdx; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := math.Max(
			high-low,
			math.Max(
				math.Abs(high-prevClose),
				math.Abs(low-prevClose),
			),
		)

		trSum += tr
	}

	return trSum / float64(period)
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerBands holds Bollinger Bands values
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollingerBands calculates Bollinger Bands over the last period
// closes with the given standard deviation multiplier
func CalculateBollingerBands(closes []float64, period int, stdDevMultiplier float64) *BollingerBands {
	if period <= 0 || len(closes) < period {
		return nil
	}

	middle := CalculateSMA(closes, period)

	variance := 0.0
	startIdx := len(closes) - period

	for i := startIdx; i < len(closes); i++ {
		diff := closes[i] - middle
		variance += diff * diff
	}

	stdDev := math.Sqrt(variance / float64(period))

	return &BollingerBands{
		Upper:  middle + (stdDev * stdDevMultiplier),
		Middle: middle,
		Lower:  middle - (stdDev * stdDevMultiplier),
	}
}

// ============================================================================
// VWAP (Volume Weighted Average Price)
// ============================================================================

// CalculateVWAP calculates the volume weighted average price over the given
// candles using the typical price (high+low+close)/3
func CalculateVWAP(candles []candle.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}

	priceVolume := 0.0
	totalVolume := 0.0

	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		priceVolume += typical * c.Volume
		totalVolume += c.Volume
	}

	if totalVolume == 0 {
		return 0
	}

	return priceVolume / totalVolume
}

// ============================================================================
// VOLUME ANALYSIS
// ============================================================================

// CalculateAverageVolume calculates average volume over the last period bars
func CalculateAverageVolume(candles []candle.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period {
		period = len(candles)
	}

	sum := 0.0
	startIdx := len(candles) - period

	for i := startIdx; i < len(candles); i++ {
		sum += candles[i].Volume
	}

	return sum / float64(period)
}

// HasVolumeSurge reports whether the latest bar's volume exceeds the average
// of the 19 bars before it by the given multiplier. Requires 20 bars.
func HasVolumeSurge(candles []candle.Candle, threshold float64) bool {
	if len(candles) < 20 {
		return false
	}

	recent := candles[len(candles)-1].Volume
	avg := 0.0
	for i := len(candles) - 20; i < len(candles)-1; i++ {
		avg += candles[i].Volume
	}
	avg /= 19

	return recent > avg*threshold
}

// ============================================================================
// VOLUME PROFILE
// ============================================================================

// PriceBin is one price level of a volume profile
type PriceBin struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// VolumeProfile holds the distribution of traded volume across price levels
type VolumeProfile struct {
	POCPrice  float64    `json:"poc_price"`
	POCVolume float64    `json:"poc_volume"`
	Bins      []PriceBin `json:"bins"`
}

// CalculateVolumeProfile distributes each candle's volume across price bins
// in proportion to the overlap between the candle's range and the bin, then
// reports the point of control (the bin with the most volume).
func CalculateVolumeProfile(candles []candle.Candle, bins int) *VolumeProfile {
	if len(candles) == 0 || bins <= 0 {
		return nil
	}

	priceMin := candles[0].Low
	priceMax := candles[0].High
	for _, c := range candles {
		if c.Low < priceMin {
			priceMin = c.Low
		}
		if c.High > priceMax {
			priceMax = c.High
		}
	}

	priceRange := priceMax - priceMin
	if priceRange == 0 {
		return nil
	}
	binSize := priceRange / float64(bins)

	profile := make([]PriceBin, bins)
	for i := range profile {
		profile[i].Price = priceMin + float64(i)*binSize
	}

	for _, c := range candles {
		candleRange := c.High - c.Low
		if candleRange == 0 {
			idx := int((c.Close - priceMin) / binSize)
			if idx >= bins {
				idx = bins - 1
			}
			profile[idx].Volume += c.Volume
			continue
		}

		for i := range profile {
			binLow := profile[i].Price
			binHigh := binLow + binSize

			if binLow <= c.High && binHigh >= c.Low {
				overlap := math.Min(c.High, binHigh) - math.Max(c.Low, binLow)
				profile[i].Volume += (overlap / candleRange) * c.Volume
			}
		}
	}

	poc := 0
	for i := range profile {
		if profile[i].Volume > profile[poc].Volume {
			poc = i
		}
	}

	return &VolumeProfile{
		POCPrice:  profile[poc].Price,
		POCVolume: profile[poc].Volume,
		Bins:      profile,
	}
}
