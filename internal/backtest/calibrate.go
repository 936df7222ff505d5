// calibrate.go sweeps gate thresholds over replayed history and emits the
// calibration document the live learner consumes.
package backtest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gammabot/internal/config"
	"gammabot/internal/learner"
	"gammabot/pkg/types"
)

// Default sweep grids, matched to the plausible gate operating range.
var (
	DefaultPotGrid = []float64{0.52, 0.55, 0.58, 0.6, 0.62}
	DefaultADXGrid = []float64{12, 15, 18, 20, 25}
)

// Options configures a calibration sweep.
type Options struct {
	Symbols []string
	Data    string
	Table   string
	Limit   int
	Seed    int64

	Optimize   bool
	PotGrid    []float64
	ADXGrid    []float64
	MinWinRate float64
	MinTrades  int

	// DecisionMap routes a symbol's entry decisions through another
	// symbol's bars (e.g. trade SPX options off SPY's tape).
	DecisionMap map[string]string

	Features config.FeaturesConfig
	Gates    config.GateConfig
	Risk     config.RiskConfig

	// Logf receives progress lines; nil disables them.
	Logf func(format string, args ...any)
}

// Calibrate replays every requested symbol, optionally sweeping the pot/ADX
// grids, and returns the calibration summary plus every simulated trade.
func Calibrate(opts Options) (learner.Calibration, []Trade, error) {
	potGrid := opts.PotGrid
	if len(potGrid) == 0 {
		potGrid = append([]float64(nil), DefaultPotGrid...)
	}
	adxGrid := opts.ADXGrid
	if len(adxGrid) == 0 {
		adxGrid = append([]float64(nil), DefaultADXGrid...)
	}
	minWinRate := opts.MinWinRate
	if minWinRate == 0 {
		minWinRate = 0.2
	}
	minTrades := opts.MinTrades
	if minTrades == 0 {
		minTrades = 50
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	decisionMap := make(map[string]string, len(opts.DecisionMap))
	for target, source := range opts.DecisionMap {
		decisionMap[strings.ToUpper(target)] = strings.ToUpper(source)
	}

	symbols := make([]string, 0, len(opts.Symbols))
	need := make(map[string]struct{}, len(opts.Symbols)+len(decisionMap))
	for _, symbol := range opts.Symbols {
		upper := strings.ToUpper(symbol)
		symbols = append(symbols, upper)
		need[upper] = struct{}{}
	}
	for _, source := range decisionMap {
		need[source] = struct{}{}
	}

	barCache := make(map[string][]types.Agg1s, len(need))
	for symbol := range need {
		bars, err := LoadBars(symbol, opts.Data, opts.Limit, opts.Table)
		if err != nil {
			return learner.Calibration{}, nil, fmt.Errorf("load bars %s: %w", symbol, err)
		}
		barCache[symbol] = bars
	}

	perSymbol := make(map[string]learner.SymbolCalibration, len(symbols))
	var allTrades []Trade
	for idx, symbol := range symbols {
		bars := barCache[symbol]
		if len(bars) == 0 {
			logf("[%d/%d] no bars for %s, skipping", idx+1, len(symbols), symbol)
			continue
		}
		decisionSymbol := symbol
		if mapped, ok := decisionMap[symbol]; ok {
			decisionSymbol = mapped
		}
		decisionBars := barCache[decisionSymbol]
		if len(decisionBars) == 0 {
			decisionBars = bars
		}

		var (
			metrics learner.Metrics
			trades  []Trade
			params  learner.Params
		)
		if opts.Optimize {
			metrics, trades, params = optimizeSymbol(opts, symbol, bars, decisionSymbol, decisionBars, potGrid, adxGrid, minWinRate, minTrades)
		} else {
			runner := newGridRunner(opts, potGrid[0], adxGrid[0])
			result := runner.Replay(symbol, bars, decisionSymbol, decisionBars)
			trades = result.Trades
			metrics = ComputeMetrics(trades)
			params = learner.Params{
				PotThreshold:   round4(potGrid[0]),
				ADXThreshold:   round2f(adxGrid[0]),
				RiskMultiplier: DeriveRiskMultiplier(metrics.Expectancy),
			}
		}
		if decisionSymbol != symbol {
			params.DecisionSymbol = decisionSymbol
		}

		perSymbol[symbol] = learner.SymbolCalibration{
			Metrics:   metrics,
			Playbooks: AggregatePlaybooks(trades),
			Params:    params,
		}
		allTrades = append(allTrades, trades...)
		logf("[%d/%d] %s -> trades=%d expectancy=%.4f win_rate=%.2f%%",
			idx+1, len(symbols), symbol, metrics.Trades, metrics.Expectancy, metrics.WinRate*100)
	}

	global := ComputeMetrics(allTrades)
	globalParams := learner.Params{
		PotThreshold:   round4(potGrid[0]),
		ADXThreshold:   round4(adxGrid[0]),
		RiskMultiplier: DeriveRiskMultiplier(global.Expectancy),
	}
	summary := learner.Calibration{
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		Symbols:        perSymbol,
		Global:         global,
		Playbooks:      AggregatePlaybooks(allTrades),
		GlobalParams:   globalParams,
		RiskMultiplier: globalParams.RiskMultiplier,
		PotThreshold:   globalParams.PotThreshold,
		ADXThreshold:   globalParams.ADXThreshold,
	}
	return summary, allTrades, nil
}

// newGridRunner builds a fresh runner with the gate thresholds pinned to one
// grid point. Runners hold feature and risk state, so each point gets its own.
func newGridRunner(opts Options, pot, adx float64) *Runner {
	gates := opts.Gates
	gates.PotThreshold = pot
	gates.ADXThreshold = adx
	return NewRunner(Config{
		Features: opts.Features,
		Gates:    gates,
		Risk:     opts.Risk,
		Seed:     opts.Seed,
	})
}

func optimizeSymbol(opts Options, symbol string, bars []types.Agg1s, decisionSymbol string, decisionBars []types.Agg1s, potGrid, adxGrid []float64, minWinRate float64, minTrades int) (learner.Metrics, []Trade, learner.Params) {
	var (
		bestMetrics *learner.Metrics
		bestTrades  []Trade
		bestParams  learner.Params
	)
	for _, pot := range potGrid {
		for _, adx := range adxGrid {
			runner := newGridRunner(opts, pot, adx)
			result := runner.Replay(symbol, bars, decisionSymbol, decisionBars)
			metrics := ComputeMetrics(result.Trades)
			if metrics.Trades < minTrades || metrics.WinRate < minWinRate {
				continue
			}
			if bestMetrics == nil || metrics.Expectancy > bestMetrics.Expectancy {
				m := metrics
				bestMetrics = &m
				bestTrades = result.Trades
				bestParams = learner.Params{
					PotThreshold:   round4(pot),
					ADXThreshold:   round2f(adx),
					RiskMultiplier: DeriveRiskMultiplier(metrics.Expectancy),
				}
			}
		}
	}
	if bestMetrics == nil {
		// No grid point satisfied the constraints: fall back to the first.
		runner := newGridRunner(opts, potGrid[0], adxGrid[0])
		result := runner.Replay(symbol, bars, decisionSymbol, decisionBars)
		metrics := ComputeMetrics(result.Trades)
		params := learner.Params{
			PotThreshold:   round4(potGrid[0]),
			ADXThreshold:   round2f(adxGrid[0]),
			RiskMultiplier: DeriveRiskMultiplier(metrics.Expectancy),
		}
		return metrics, result.Trades, params
	}
	return *bestMetrics, bestTrades, bestParams
}

// ComputeMetrics reduces a trade list to the headline stats.
func ComputeMetrics(trades []Trade) learner.Metrics {
	if len(trades) == 0 {
		return learner.Metrics{}
	}
	var wins, losses []float64
	var total float64
	for _, trade := range trades {
		total += trade.PnL
		if trade.PnL > 0 {
			wins = append(wins, trade.PnL)
		} else {
			losses = append(losses, trade.PnL)
		}
	}
	metrics := learner.Metrics{
		Trades:     len(trades),
		Expectancy: total / float64(len(trades)),
		WinRate:    float64(len(wins)) / float64(len(trades)),
		PnL:        total,
	}
	if len(wins) > 0 {
		metrics.AvgWin = sum(wins) / float64(len(wins))
	}
	if len(losses) > 0 {
		metrics.AvgLoss = sum(losses) / float64(len(losses))
	}
	return metrics
}

// AggregatePlaybooks groups trade outcomes by the playbook that fired them.
func AggregatePlaybooks(trades []Trade) map[string]learner.PlaybookStats {
	stats := make(map[string]learner.PlaybookStats)
	type acc struct {
		winSum, lossSum float64
	}
	sums := make(map[string]acc)
	for _, trade := range trades {
		entry := stats[trade.Playbook]
		running := sums[trade.Playbook]
		entry.Trades++
		entry.PnL += trade.PnL
		if trade.PnL > 0 {
			entry.Wins++
			running.winSum += trade.PnL
		} else {
			entry.Losses++
			running.lossSum += trade.PnL
		}
		stats[trade.Playbook] = entry
		sums[trade.Playbook] = running
	}
	for playbook, entry := range stats {
		running := sums[playbook]
		if entry.Wins > 0 {
			entry.AvgWin = running.winSum / float64(entry.Wins)
		}
		if entry.Losses > 0 {
			entry.AvgLoss = running.lossSum / float64(entry.Losses)
		}
		stats[playbook] = entry
	}
	return stats
}

// DeriveRiskMultiplier maps expectancy to a sizing multiplier, clamped so a
// calibration can never more than halve or 1.5x live sizing.
func DeriveRiskMultiplier(expectancy float64) float64 {
	return round4(math.Max(0.5, math.Min(1.5, 1+expectancy)))
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func round4(v float64) float64 { return math.Round(v*10_000) / 10_000 }

func round2f(v float64) float64 { return math.Round(v*100) / 100 }
