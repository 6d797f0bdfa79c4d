package backtest

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// Result aggregates the replay's account statistics.
type Result struct {
	Symbol      string `json:"symbol"`
	Interval    string `json:"interval"`
	CandleCount int    `json:"candle_count"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	TotalPnL        float64 `json:"total_pnl"`
	TotalPnLPercent float64 `json:"total_pnl_percent"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	LargestWin      float64 `json:"largest_win"`
	LargestLoss     float64 `json:"largest_loss"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	FinalBalance    float64 `json:"final_balance"`

	Trades []Trade `json:"trades"`
}

// summarize computes the account statistics over the completed trades.
// Breakeven trades count as losses. Max drawdown is the largest
// peak-to-trough decline of the running balance, in percent.
func summarize(symbol, interval string, candleCount int, trades []Trade, initialBalance, finalBalance float64) *Result {
	r := &Result{
		Symbol:       symbol,
		Interval:     interval,
		CandleCount:  candleCount,
		TotalTrades:  len(trades),
		FinalBalance: finalBalance,
		Trades:       trades,
	}
	if len(trades) == 0 {
		return r
	}

	var winSum, lossSum float64
	for _, t := range trades {
		r.TotalPnL += t.PnL
		if t.PnL > 0 {
			r.WinningTrades++
			winSum += t.PnL
			if t.PnL > r.LargestWin {
				r.LargestWin = t.PnL
			}
		} else {
			r.LosingTrades++
			lossSum += t.PnL
			if t.PnL < r.LargestLoss {
				r.LargestLoss = t.PnL
			}
		}
	}

	r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades)
	r.TotalPnLPercent = (finalBalance - initialBalance) / initialBalance * 100
	if r.WinningTrades > 0 {
		r.AvgWin = winSum / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = lossSum / float64(r.LosingTrades)
	}

	peak := initialBalance
	for _, t := range trades {
		if t.BalanceAfter > peak {
			peak = t.BalanceAfter
		}
		dd := (peak - t.BalanceAfter) / peak * 100
		if dd > r.MaxDrawdown {
			r.MaxDrawdown = dd
		}
	}

	r.SharpeRatio = sharpe(trades)
	return r
}

// sharpe is the mean per-trade return over its standard deviation,
// assuming a zero risk-free rate.
func sharpe(trades []Trade) float64 {
	if len(trades) < 2 {
		return 0
	}

	returns := make([]float64, len(trades))
	var sum float64
	for i, t := range trades {
		returns[i] = t.PnL / (t.EntryPrice * t.Size) * 100
		sum += returns[i]
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, ret := range returns {
		diff := ret - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(returns)))
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

// Print writes the formatted report.
func (r *Result) Print(w io.Writer) {
	line := strings.Repeat("=", 60)

	fmt.Fprintln(w)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "BACKTEST RESULTS: %s %s (%d candles)\n", r.Symbol, r.Interval, r.CandleCount)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Total Trades:      %d\n", r.TotalTrades)
	fmt.Fprintf(w, "Winning Trades:    %d\n", r.WinningTrades)
	fmt.Fprintf(w, "Losing Trades:     %d\n", r.LosingTrades)
	fmt.Fprintf(w, "Win Rate:          %.2f%%\n", r.WinRate*100)
	fmt.Fprintf(w, "Total PnL:         $%.2f (%.2f%%)\n", r.TotalPnL, r.TotalPnLPercent)
	fmt.Fprintf(w, "Average Win:       $%.2f\n", r.AvgWin)
	fmt.Fprintf(w, "Average Loss:      $%.2f\n", r.AvgLoss)
	fmt.Fprintf(w, "Largest Win:       $%.2f\n", r.LargestWin)
	fmt.Fprintf(w, "Largest Loss:      $%.2f\n", r.LargestLoss)
	fmt.Fprintf(w, "Max Drawdown:      %.2f%%\n", r.MaxDrawdown)
	fmt.Fprintf(w, "Sharpe Ratio:      %.2f\n", r.SharpeRatio)
	fmt.Fprintf(w, "Final Balance:     $%.2f\n", r.FinalBalance)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w)
}
