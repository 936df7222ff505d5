// Command backtest replays historical bars through the live decision path
// and writes the calibration document the learner loads on boot.
//
// Sources resolve per symbol: an explicit --data CSV file, directory, or
// SQLite/DuckDB-style database, falling back to conventional data/ paths and
// then a deterministic synthetic series. With --optimize the pot/adx grids
// are swept per symbol and the best qualifying point wins.
//
// Exit codes: 0 on success, 2 on missing input or bad configuration, 1 on
// unexpected failure.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gammabot/internal/backtest"
	"gammabot/internal/config"
	"gammabot/internal/learner"
)

const (
	exitOK           = 0
	exitFailure      = 1
	exitMissingInput = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	var (
		configPath  = fs.String("config", "", "config YAML path (defaults apply when empty)")
		symbolsCSV  = fs.String("symbols", "SPY", "comma-separated symbols to replay")
		dataPath    = fs.String("data", "", "bars source: CSV file, directory, or .db/.duckdb database")
		table       = fs.String("table", "bars", "table name for database sources")
		limit       = fs.Int("limit", 0, "max bars per symbol (0 = all)")
		seed        = fs.Int64("seed", 0, "replay seed recorded with the run")
		optimize    = fs.Bool("optimize", false, "sweep the pot/adx grids per symbol")
		potGridCSV  = fs.String("pot-grid", "", "comma-separated pot thresholds (built-in grid when empty)")
		adxGridCSV  = fs.String("adx-grid", "", "comma-separated adx thresholds (built-in grid when empty)")
		minWinRate  = fs.Float64("min-win-rate", 0.2, "optimizer win-rate floor")
		minTrades   = fs.Int("min-trades", 50, "optimizer trade-count floor")
		decisionCSV = fs.String("decision-map", "", "TARGET=SOURCE pairs routing decisions through proxy bars")
		output      = fs.String("output", filepath.Join("backtests", "calibration.json"), "calibration output path")
		tradesOut   = fs.String("trades-output", "", "optional JSON dump of every simulated trade")
	)
	if err := fs.Parse(args); err != nil {
		return exitMissingInput
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		return exitMissingInput
	}

	symbols := splitList(*symbolsCSV)
	if len(symbols) == 0 {
		fmt.Fprintln(os.Stderr, "backtest: no symbols given")
		return exitMissingInput
	}
	if *dataPath != "" {
		if _, err := os.Stat(*dataPath); err != nil {
			fmt.Fprintf(os.Stderr, "backtest: data path %q: %v\n", *dataPath, err)
			return exitMissingInput
		}
	}
	potGrid, err := parseFloatList(*potGridCSV)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: pot-grid: %v\n", err)
		return exitMissingInput
	}
	adxGrid, err := parseFloatList(*adxGridCSV)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: adx-grid: %v\n", err)
		return exitMissingInput
	}
	decisionMap, err := parseDecisionMap(*decisionCSV)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: decision-map: %v\n", err)
		return exitMissingInput
	}

	summary, trades, err := backtest.Calibrate(backtest.Options{
		Symbols:     symbols,
		Data:        *dataPath,
		Table:       *table,
		Limit:       *limit,
		Seed:        *seed,
		Optimize:    *optimize,
		PotGrid:     potGrid,
		ADXGrid:     adxGrid,
		MinWinRate:  *minWinRate,
		MinTrades:   *minTrades,
		DecisionMap: decisionMap,
		Features:    cfg.Features,
		Gates:       cfg.Gates,
		Risk:        cfg.Risk,
		Logf: func(format string, args ...any) {
			fmt.Printf(format+"\n", args...)
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		return exitFailure
	}

	if err := learner.SaveCalibration(*output, summary); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		return exitFailure
	}
	if *tradesOut != "" {
		if err := writeTrades(*tradesOut, trades); err != nil {
			fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
			return exitFailure
		}
	}

	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		return exitFailure
	}
	fmt.Println(string(encoded))
	return exitOK
}

func splitList(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFloatList(csv string) ([]float64, error) {
	items := splitList(csv)
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		v, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", item, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseDecisionMap(csv string) (map[string]string, error) {
	pairs := splitList(csv)
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		target, source, ok := strings.Cut(pair, "=")
		target, source = strings.TrimSpace(target), strings.TrimSpace(source)
		if !ok || target == "" || source == "" {
			return nil, fmt.Errorf("malformed pair %q, want TARGET=SOURCE", pair)
		}
		out[target] = source
	}
	return out, nil
}

func writeTrades(path string, trades []backtest.Trade) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create trades dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(trades, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trades: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trades: %w", err)
	}
	return nil
}
