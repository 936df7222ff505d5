// Package backtest replays historical bars through the live decision path:
// the same feature engine, gates, and admission rules the pipeline runs,
// with a fill model standing in for the venue. Replays are deterministic, so
// calibration sweeps are reproducible run to run.
package backtest

import (
	"math"

	"gammabot/internal/config"
	"gammabot/internal/features"
	"gammabot/internal/risk"
	"gammabot/internal/signals"
	"gammabot/pkg/types"
)

// Config selects the stage configuration a replay builds its engines from.
// Calibration constructs a fresh Runner per parameter set so grid points
// never share engine state.
type Config struct {
	Features config.FeaturesConfig
	Gates    config.GateConfig
	Risk     config.RiskConfig
	Seed     int64
}

// Result is one replay's full output: every feature packet computed, the
// trades taken, and their summary.
type Result struct {
	Features []types.FeaturePacket
	Trades   []Trade
	Report   Report
}

// Runner drives bars through features, gates, and the fill model.
type Runner struct {
	features *features.Engine
	signals  *signals.Engine
	risk     *risk.Manager
	fill     FillModel
	seed     int64
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		features: features.NewEngine(cfg.Features),
		signals:  signals.NewEngine(cfg.Gates),
		risk:     risk.NewManager(cfg.Risk),
		fill:     NewFillModel(),
		seed:     cfg.Seed,
	}
}

// Replay walks bars for symbol. Each bar becomes a synthetic quote and a
// feature packet; admitted intents fill against the bar's range and exit at
// the next bar's close, so the final bar never opens a trade.
//
// decisionSymbol and decisionBars, when set, drive features and gating while
// bars price the fills. This is how index products trade off a liquid proxy;
// empty values fall back to the symbol's own bars.
func (r *Runner) Replay(symbol string, bars []types.Agg1s, decisionSymbol string, decisionBars []types.Agg1s) Result {
	if len(bars) == 0 {
		return Result{Report: Summarize(nil)}
	}
	if decisionSymbol == "" {
		decisionSymbol = symbol
	}
	srcBars := decisionBars
	if len(srcBars) == 0 {
		srcBars = bars
	}
	length := len(bars)
	if len(srcBars) < length {
		length = len(srcBars)
	}

	r.risk.SetSessionStart(bars[0].TS)

	packets := make([]types.FeaturePacket, 0, length)
	var trades []Trade
	for idx := 0; idx < length; idx++ {
		featureBar := srcBars[idx]
		actualBar := bars[idx]

		quoteSize := math.Max(featureBar.V/10, 1.0)
		r.features.UpdateQuote(types.Quote{
			TS:        featureBar.TS,
			Symbol:    decisionSymbol,
			Bid:       featureBar.C - 0.05,
			Ask:       featureBar.C + 0.05,
			Mid:       featureBar.C,
			BidSize:   quoteSize,
			AskSize:   quoteSize,
			NBBOAgeMS: 10,
		})
		packet := r.features.Compute(decisionSymbol, featureBar, true)
		packets = append(packets, packet)

		if idx == length-1 {
			continue
		}
		if !r.risk.EntryAllowed(featureBar.TS, 60, 240) {
			continue
		}
		intent, ok := r.signals.Evaluate(packet, nil)
		if !ok {
			continue
		}

		spread := math.Max(actualBar.H-actualBar.L, 0.02)
		fill := r.fill.Execute(intent.Side, FillInputs{
			Mid:         actualBar.C,
			Spread:      spread,
			SpreadState: packet.Micro.SpreadState,
			EventRate:   10,
		})
		exitBar := bars[idx+1]
		sizeMult := intent.SizeMultiplier
		if sizeMult == 0 {
			sizeMult = 1.0
		}
		pnl := intent.Side.Sign() * (exitBar.C - fill.Price) * sizeMult

		trades = append(trades, Trade{
			EntryTS:    actualBar.TS,
			ExitTS:     exitBar.TS,
			Symbol:     symbol,
			Side:       intent.Side,
			Playbook:   intent.Playbook,
			EntryPrice: fill.Price,
			ExitPrice:  exitBar.C,
			PnL:        pnl,
			Size:       sizeMult,
		})
		r.risk.RegisterPosition(1)
		r.risk.RegisterPosition(-1)
		r.risk.RegisterFill(pnl, exitBar.TS)
	}

	return Result{Features: packets, Trades: trades, Report: Summarize(trades)}
}
