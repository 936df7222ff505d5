// loader.go resolves replay bars from CSV files, bar directories, or SQLite
// databases, with a deterministic synthetic series as the last resort so a
// bare checkout can still replay.
package backtest

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"gammabot/pkg/types"
)

const defaultSyntheticBars = 500

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LoadBars resolves bars for symbol. An explicit dataPath may name a CSV
// file, a directory of CSVs, or a .db/.duckdb database; without one the
// conventional data/ locations are probed in order. A limit of zero loads
// everything. Nothing found yields the synthetic series.
func LoadBars(symbol, dataPath string, limit int, table string) ([]types.Agg1s, error) {
	for _, candidate := range candidatePaths(symbol, dataPath) {
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if info.IsDir() {
			return loadDir(candidate, symbol, limit)
		}
		switch strings.ToLower(filepath.Ext(candidate)) {
		case ".duckdb", ".db":
			return loadSQL(candidate, symbol, limit, table)
		}
		return parseCSV(candidate, symbol, limit)
	}
	count := limit
	if count <= 0 {
		count = defaultSyntheticBars
	}
	return SyntheticBars(strings.ToUpper(symbol), count), nil
}

func candidatePaths(symbol, dataPath string) []string {
	if dataPath != "" {
		return []string{dataPath}
	}
	slug := strings.ToLower(symbol)
	return []string{
		filepath.Join("data", "backtests", slug+".csv"),
		filepath.Join("data", "backtests", slug+"_1m.csv"),
		filepath.Join("data", slug+".csv"),
		filepath.Join("data", slug+"_1m.csv"),
		filepath.Join("data", strings.ToUpper(symbol)+"_1m.csv"),
	}
}

// loadDir concatenates every CSV under dir in name order. A subdirectory
// named after the symbol (uppercase preferred) is searched after the root.
func loadDir(dir, symbol string, limit int) ([]types.Agg1s, error) {
	searchDirs := []string{dir}
	upper := filepath.Join(dir, strings.ToUpper(symbol))
	lower := filepath.Join(dir, strings.ToLower(symbol))
	if info, err := os.Stat(upper); err == nil && info.IsDir() {
		searchDirs = append(searchDirs, upper)
	} else if info, err := os.Stat(lower); err == nil && info.IsDir() {
		searchDirs = append(searchDirs, lower)
	}

	var bars []types.Agg1s
	for _, directory := range searchDirs {
		files, err := filepath.Glob(filepath.Join(directory, "*.csv"))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", directory, err)
		}
		sort.Strings(files)
		for _, file := range files {
			remaining := 0
			if limit > 0 {
				remaining = limit - len(bars)
				if remaining <= 0 {
					break
				}
			}
			chunk, err := parseCSV(file, symbol, remaining)
			if err != nil {
				return nil, err
			}
			bars = append(bars, chunk...)
		}
		if limit > 0 && len(bars) >= limit {
			return bars[:limit], nil
		}
	}
	return bars, nil
}

// parseCSV reads bars from a ts,o,h,l,c,v file. The volume column is
// optional; every other column is required and a bad value fails the load.
func parseCSV(path, symbol string, limit int) ([]types.Agg1s, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"ts", "o", "h", "l", "c"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, required)
		}
	}

	upper := strings.ToUpper(symbol)
	var bars []types.Agg1s
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		bar, err := barFromRow(row, col, upper)
		if err != nil {
			return nil, fmt.Errorf("malformed row in %s: %w", path, err)
		}
		bars = append(bars, bar)
		if limit > 0 && len(bars) >= limit {
			break
		}
	}
	return bars, nil
}

func barFromRow(row []string, col map[string]int, symbol string) (types.Agg1s, error) {
	cell := func(name string) string { return strings.TrimSpace(row[col[name]]) }

	ts, err := strconv.ParseInt(cell("ts"), 10, 64)
	if err != nil {
		return types.Agg1s{}, fmt.Errorf("ts: %w", err)
	}
	bar := types.Agg1s{TS: ts, Symbol: symbol}
	for _, field := range []struct {
		name string
		dst  *float64
	}{
		{"o", &bar.O}, {"h", &bar.H}, {"l", &bar.L}, {"c", &bar.C},
	} {
		v, err := strconv.ParseFloat(cell(field.name), 64)
		if err != nil {
			return types.Agg1s{}, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = v
	}
	if idx, ok := col["v"]; ok && idx < len(row) {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
		if err != nil {
			return types.Agg1s{}, fmt.Errorf("v: %w", err)
		}
		bar.V = v
	}
	return bar, nil
}

// loadSQL reads bars from a SQLite database (DuckDB exports use the same
// layout). The table name is interpolated, so it is validated first.
func loadSQL(path, symbol string, limit int, table string) ([]types.Agg1s, error) {
	if table == "" {
		table = "bars"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	query := fmt.Sprintf("SELECT ts, o, h, l, c, COALESCE(v, 0) AS v FROM %s WHERE symbol = ? ORDER BY ts", table)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := db.Query(query, strings.ToUpper(symbol))
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	upper := strings.ToUpper(symbol)
	var bars []types.Agg1s
	for rows.Next() {
		var bar types.Agg1s
		if err := rows.Scan(&bar.TS, &bar.O, &bar.H, &bar.L, &bar.C, &bar.V); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bar.Symbol = upper
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

// SyntheticBars generates a deterministic drifting minute series.
func SyntheticBars(symbol string, count int) []types.Agg1s {
	const basePrice = 400.0
	bars := make([]types.Agg1s, 0, count)
	for idx := 0; idx < count; idx++ {
		drift := math.Sin(float64(idx)/25) * 1.5
		price := basePrice + float64(idx)*0.05 + drift
		o := price - 0.1
		c := price + 0.1
		bars = append(bars, types.Agg1s{
			TS:     1_700_000_000_000_000 + int64(idx)*60*1_000_000,
			Symbol: symbol,
			O:      o,
			H:      math.Max(o, c) + 0.3,
			L:      math.Min(o, c) - 0.3,
			C:      c,
			V:      10_000 + float64(idx)*50,
		})
	}
	return bars
}
