package backtest

import "gammabot/pkg/types"

// Trade is one entry/exit pair from a replay.
type Trade struct {
	EntryTS    int64      `json:"entry_ts"`
	ExitTS     int64      `json:"exit_ts"`
	Symbol     string     `json:"symbol"`
	Side       types.Side `json:"side"`
	Playbook   string     `json:"playbook"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	PnL        float64    `json:"pnl"`
	Size       float64    `json:"size"`
}

// Report aggregates a replay's trades.
type Report struct {
	Expectancy  float64 `json:"expectancy"`
	WinRate     float64 `json:"win_rate"`
	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// Summarize computes expectancy, the win/loss split, and the worst
// peak-to-trough drawdown of the cumulative equity curve.
func Summarize(trades []Trade) Report {
	if len(trades) == 0 {
		return Report{}
	}

	var sum, winSum, lossSum float64
	var wins, losses int
	var equity, peak, maxDD float64
	for i, trade := range trades {
		sum += trade.PnL
		if trade.PnL > 0 {
			wins++
			winSum += trade.PnL
		} else {
			losses++
			lossSum += trade.PnL
		}
		equity += trade.PnL
		if i == 0 || equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
	}

	report := Report{
		Expectancy:  sum / float64(len(trades)),
		WinRate:     float64(wins) / float64(len(trades)),
		MaxDrawdown: maxDD,
	}
	if wins > 0 {
		report.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		report.AvgLoss = lossSum / float64(losses)
	}
	return report
}
