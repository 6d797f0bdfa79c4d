package analyzer

import (
	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/indicators"
)

const confirmationMinCandles = 30

// IndicatorSnapshot carries the secondary indicator readings taken alongside
// a fused signal. It is persisted with the signal as JSON.
type IndicatorSnapshot struct {
	RSI   float64       `json:"rsi,omitempty"`
	EMA9  float64       `json:"ema_9,omitempty"`
	EMA21 float64       `json:"ema_21,omitempty"`
	VWAP  float64       `json:"vwap,omitempty"`
	MACD  *MACDSnapshot `json:"macd,omitempty"`
}

// Confirmations evaluates secondary indicators in the direction of a
// proposed signal and returns confirmation notes plus the readings behind
// them. Requires 30 bars; fewer returns no confirmations.
func Confirmations(candles []candle.Candle, direction Direction, currentPrice float64) ([]string, *IndicatorSnapshot) {
	snapshot := &IndicatorSnapshot{}
	if len(candles) < confirmationMinCandles {
		return nil, snapshot
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	var confirmations []string

	rsi := indicators.CalculateRSI(closes, 14)
	snapshot.RSI = rsi
	if direction == DirectionLong && rsi < 40 {
		confirmations = append(confirmations, "RSI oversold (bullish)")
	} else if direction == DirectionShort && rsi > 60 {
		confirmations = append(confirmations, "RSI overbought (bearish)")
	}

	ema9 := indicators.CalculateEMA(closes, 9)
	ema21 := indicators.CalculateEMA(closes, 21)
	snapshot.EMA9 = ema9
	snapshot.EMA21 = ema21
	if direction == DirectionLong && ema9 > ema21 {
		confirmations = append(confirmations, "EMA bullish crossover")
	} else if direction == DirectionShort && ema9 < ema21 {
		confirmations = append(confirmations, "EMA bearish crossover")
	}

	vwap := indicators.CalculateVWAP(candles[len(candles)-20:])
	snapshot.VWAP = vwap
	if vwap != 0 {
		if direction == DirectionLong && currentPrice < vwap {
			confirmations = append(confirmations, "Price below VWAP (potential support)")
		} else if direction == DirectionShort && currentPrice > vwap {
			confirmations = append(confirmations, "Price above VWAP (potential resistance)")
		}
	}

	if indicators.HasVolumeSurge(candles, 1.5) {
		confirmations = append(confirmations, "Volume surge detected")
	}

	if macd := indicators.CalculateMACDSeries(closes, 12, 26, 9); macd != nil {
		line, signal, histogram := macd.Latest()
		snapshot.MACD = &MACDSnapshot{Line: line, Signal: signal, Histogram: histogram}
		if direction == DirectionLong && histogram > 0 {
			confirmations = append(confirmations, "MACD bullish")
		} else if direction == DirectionShort && histogram < 0 {
			confirmations = append(confirmations, "MACD bearish")
		}
	}

	return confirmations, snapshot
}
