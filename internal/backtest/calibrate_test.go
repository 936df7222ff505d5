package backtest

import (
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gammabot/internal/learner"
)

// trendingCSVFile writes a rising tape to disk and returns its path.
func trendingCSVFile(t *testing.T, rows int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("ts,o,h,l,c,v\n")
	for _, bar := range trendingBars("SPY", rows) {
		fmt.Fprintf(&sb, "%d,%f,%f,%f,%f,%f\n", bar.TS, bar.O, bar.H, bar.L, bar.C, bar.V)
	}
	path := filepath.Join(t.TempDir(), "bars.csv")
	writeCSV(t, path, sb.String())
	return path
}

func testCalibrateOptions(data string) Options {
	cfg := testRunnerConfig()
	return Options{
		Symbols:  []string{"spy"},
		Data:     data,
		Features: cfg.Features,
		Gates:    cfg.Gates,
		Risk:     cfg.Risk,
	}
}

func TestCalibrateSingleRun(t *testing.T) {
	t.Parallel()

	opts := testCalibrateOptions(trendingCSVFile(t, 80))
	var lines []string
	opts.Logf = func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	summary, trades, err := Calibrate(opts)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	sym, ok := summary.Symbols["SPY"]
	if !ok {
		t.Fatalf("symbols: got %v, want SPY entry", summary.Symbols)
	}
	if sym.Metrics.Trades == 0 {
		t.Fatal("want trades from a trending tape")
	}
	if len(trades) != sym.Metrics.Trades {
		t.Fatalf("returned trades: got %d, want %d", len(trades), sym.Metrics.Trades)
	}
	if sym.Params.PotThreshold != DefaultPotGrid[0] {
		t.Fatalf("pot threshold: got %f, want %f", sym.Params.PotThreshold, DefaultPotGrid[0])
	}
	if sym.Params.ADXThreshold != DefaultADXGrid[0] {
		t.Fatalf("adx threshold: got %f, want %f", sym.Params.ADXThreshold, DefaultADXGrid[0])
	}
	if sym.Params.DecisionSymbol != "" {
		t.Fatalf("decision symbol: got %q, want empty", sym.Params.DecisionSymbol)
	}
	if summary.GeneratedAt == "" {
		t.Fatal("generated_at is empty")
	}
	if summary.RiskMultiplier < 0.5 || summary.RiskMultiplier > 1.5 {
		t.Fatalf("risk multiplier out of range: %f", summary.RiskMultiplier)
	}
	if pb, ok := summary.Playbooks["ORB"]; !ok || pb.Trades != sym.Metrics.Trades {
		t.Fatalf("playbooks: got %v", summary.Playbooks)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "[1/1] SPY") {
		t.Fatalf("progress lines: got %v", lines)
	}
}

func TestCalibrateIsDeterministic(t *testing.T) {
	t.Parallel()

	opts := testCalibrateOptions(trendingCSVFile(t, 80))
	first, _, err := Calibrate(opts)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	second, _, err := Calibrate(opts)
	if err != nil {
		t.Fatalf("Calibrate again: %v", err)
	}

	// GeneratedAt is wall-clock; everything derived from bars must match.
	if !reflect.DeepEqual(first.Symbols, second.Symbols) {
		t.Fatal("per-symbol calibration differs between runs")
	}
	if first.Global != second.Global {
		t.Fatalf("global metrics differ: %+v vs %+v", first.Global, second.Global)
	}
	if !reflect.DeepEqual(first.Playbooks, second.Playbooks) {
		t.Fatal("playbook stats differ between runs")
	}
	if first.GlobalParams != second.GlobalParams {
		t.Fatalf("global params differ: %+v vs %+v", first.GlobalParams, second.GlobalParams)
	}
}

func TestCalibrateDecisionMap(t *testing.T) {
	t.Parallel()

	opts := testCalibrateOptions(trendingCSVFile(t, 80))
	opts.Symbols = []string{"spx"}
	opts.DecisionMap = map[string]string{"spx": "spy"}

	summary, _, err := Calibrate(opts)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	sym, ok := summary.Symbols["SPX"]
	if !ok {
		t.Fatalf("symbols: got %v, want SPX entry", summary.Symbols)
	}
	if sym.Params.DecisionSymbol != "SPY" {
		t.Fatalf("decision symbol: got %q, want SPY", sym.Params.DecisionSymbol)
	}
	if sym.Metrics.Trades == 0 {
		t.Fatal("want trades for the mapped symbol")
	}
}

func TestCalibrateSkipsSymbolsWithoutBars(t *testing.T) {
	t.Parallel()

	// An empty directory loads zero bars without falling back to synthetic.
	opts := testCalibrateOptions(t.TempDir())
	var lines []string
	opts.Logf = func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	summary, trades, err := Calibrate(opts)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if len(summary.Symbols) != 0 {
		t.Fatalf("symbols: got %v, want none", summary.Symbols)
	}
	if len(trades) != 0 {
		t.Fatalf("trades: got %d, want 0", len(trades))
	}
	if summary.RiskMultiplier != 1.0 {
		t.Fatalf("risk multiplier: got %f, want 1.0", summary.RiskMultiplier)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "no bars for SPY") {
		t.Fatalf("progress lines: got %v", lines)
	}
}

func TestCalibrateOptimizeQualifyingPoint(t *testing.T) {
	t.Parallel()

	opts := testCalibrateOptions(trendingCSVFile(t, 80))
	opts.Optimize = true
	opts.MinTrades = 10
	opts.MinWinRate = 0.5

	summary, _, err := Calibrate(opts)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	sym := summary.Symbols["SPY"]
	if sym.Metrics.Trades < 10 {
		t.Fatalf("trades: got %d, want >= 10", sym.Metrics.Trades)
	}
	// Every grid point replays the same admitted set here, so the sweep keeps
	// the first qualifying point.
	if sym.Params.PotThreshold != DefaultPotGrid[0] {
		t.Fatalf("pot threshold: got %f, want %f", sym.Params.PotThreshold, DefaultPotGrid[0])
	}
	if sym.Params.ADXThreshold != DefaultADXGrid[0] {
		t.Fatalf("adx threshold: got %f, want %f", sym.Params.ADXThreshold, DefaultADXGrid[0])
	}
	if want := DeriveRiskMultiplier(sym.Metrics.Expectancy); sym.Params.RiskMultiplier != want {
		t.Fatalf("risk multiplier: got %f, want %f", sym.Params.RiskMultiplier, want)
	}
}

func TestCalibrateOptimizeFallsBackToFirstGridPoint(t *testing.T) {
	t.Parallel()

	opts := testCalibrateOptions(trendingCSVFile(t, 80))
	opts.Optimize = true
	opts.MinTrades = 10_000
	opts.PotGrid = []float64{0.6, 0.62}
	opts.ADXGrid = []float64{15, 25}

	summary, trades, err := Calibrate(opts)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	sym := summary.Symbols["SPY"]
	if sym.Params.PotThreshold != 0.6 {
		t.Fatalf("pot threshold: got %f, want 0.6", sym.Params.PotThreshold)
	}
	if sym.Params.ADXThreshold != 15 {
		t.Fatalf("adx threshold: got %f, want 15", sym.Params.ADXThreshold)
	}
	if len(trades) == 0 {
		t.Fatal("fallback should still report the first grid point's trades")
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	t.Parallel()

	opts := testCalibrateOptions(trendingCSVFile(t, 80))
	summary, _, err := Calibrate(opts)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	path := filepath.Join(t.TempDir(), "calibration.json")
	if err := learner.SaveCalibration(path, summary); err != nil {
		t.Fatalf("SaveCalibration: %v", err)
	}
	loaded, err := learner.LoadCalibration(path)
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if !reflect.DeepEqual(loaded.Symbols, summary.Symbols) {
		t.Fatal("symbols changed across the round trip")
	}
	if loaded.RiskMultiplier != summary.RiskMultiplier {
		t.Fatalf("risk multiplier: got %f, want %f", loaded.RiskMultiplier, summary.RiskMultiplier)
	}
	if loaded.GeneratedAt != summary.GeneratedAt {
		t.Fatalf("generated_at: got %q, want %q", loaded.GeneratedAt, summary.GeneratedAt)
	}
}

func TestComputeMetrics(t *testing.T) {
	t.Parallel()

	metrics := ComputeMetrics([]Trade{{PnL: 2}, {PnL: -1}, {PnL: 4}})
	if metrics.Trades != 3 {
		t.Fatalf("trades: got %d, want 3", metrics.Trades)
	}
	if math.Abs(metrics.Expectancy-5.0/3.0) > 1e-9 {
		t.Fatalf("expectancy: got %f", metrics.Expectancy)
	}
	if math.Abs(metrics.WinRate-2.0/3.0) > 1e-9 {
		t.Fatalf("win rate: got %f", metrics.WinRate)
	}
	if metrics.AvgWin != 3 || metrics.AvgLoss != -1 {
		t.Fatalf("avg win/loss: got %f/%f", metrics.AvgWin, metrics.AvgLoss)
	}
	if metrics.PnL != 5 {
		t.Fatalf("pnl: got %f, want 5", metrics.PnL)
	}

	if got := ComputeMetrics(nil); got != (learner.Metrics{}) {
		t.Fatalf("empty metrics: got %+v, want zero", got)
	}
}

func TestAggregatePlaybooks(t *testing.T) {
	t.Parallel()

	stats := AggregatePlaybooks([]Trade{
		{Playbook: "ORB", PnL: 2},
		{Playbook: "ORB", PnL: -1},
		{Playbook: "LATE_PUSH", PnL: 3},
	})
	orb := stats["ORB"]
	if orb.Trades != 2 || orb.Wins != 1 || orb.Losses != 1 {
		t.Fatalf("ORB counts: %+v", orb)
	}
	if orb.PnL != 1 || orb.AvgWin != 2 || orb.AvgLoss != -1 {
		t.Fatalf("ORB pnl stats: %+v", orb)
	}
	late := stats["LATE_PUSH"]
	if late.Trades != 1 || late.Wins != 1 || late.AvgWin != 3 || late.AvgLoss != 0 {
		t.Fatalf("LATE_PUSH stats: %+v", late)
	}

	if empty := AggregatePlaybooks(nil); empty == nil || len(empty) != 0 {
		t.Fatalf("empty aggregate: got %v, want empty map", empty)
	}
}

func TestDeriveRiskMultiplier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expectancy float64
		want       float64
	}{
		{0, 1.0},
		{0.25, 1.25},
		{5, 1.5},
		{-5, 0.5},
		{0.33333, 1.3333},
	}
	for _, tt := range tests {
		if got := DeriveRiskMultiplier(tt.expectancy); got != tt.want {
			t.Fatalf("DeriveRiskMultiplier(%f): got %f, want %f", tt.expectancy, got, tt.want)
		}
	}
}
