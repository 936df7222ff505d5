package learner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Metrics summarizes one backtest run: trade count, expectancy per trade,
// and the win/loss profile.
type Metrics struct {
	Trades     int     `json:"trades"`
	Expectancy float64 `json:"expectancy"`
	WinRate    float64 `json:"win_rate"`
	AvgWin     float64 `json:"avg_win"`
	AvgLoss    float64 `json:"avg_loss"`
	PnL        float64 `json:"pnl"`
}

// PlaybookStats aggregates trade outcomes for one playbook.
type PlaybookStats struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	PnL     float64 `json:"pnl"`
	AvgWin  float64 `json:"avg_win"`
	AvgLoss float64 `json:"avg_loss"`
}

// Params are the tunable thresholds the calibrator selects per symbol.
type Params struct {
	PotThreshold   float64 `json:"pot_threshold"`
	ADXThreshold   float64 `json:"adx_threshold"`
	RiskMultiplier float64 `json:"risk_multiplier"`
	DecisionSymbol string  `json:"decision_symbol,omitempty"`
}

// SymbolCalibration is the per-symbol block of the calibration document.
type SymbolCalibration struct {
	Metrics   Metrics                  `json:"metrics"`
	Playbooks map[string]PlaybookStats `json:"playbooks"`
	Params    Params                   `json:"params"`
}

// Calibration is the document the backtest calibrator writes and the live
// learner reads on boot. Top-level risk_multiplier/pot/adx mirror the global
// params for consumers that only want the headline numbers.
type Calibration struct {
	GeneratedAt    string                       `json:"generated_at"`
	Symbols        map[string]SymbolCalibration `json:"symbols"`
	Global         Metrics                      `json:"global"`
	Playbooks      map[string]PlaybookStats     `json:"playbooks"`
	GlobalParams   Params                       `json:"global_params"`
	RiskMultiplier float64                      `json:"risk_multiplier"`
	PotThreshold   float64                      `json:"pot_threshold"`
	ADXThreshold   float64                      `json:"adx_threshold"`
}

// ParamsFor merges a symbol's calibrated params over the global defaults.
// Zero-valued fields never override.
func (c Calibration) ParamsFor(symbol string) Params {
	merged := c.GlobalParams
	if merged.PotThreshold == 0 {
		merged.PotThreshold = c.PotThreshold
	}
	if merged.ADXThreshold == 0 {
		merged.ADXThreshold = c.ADXThreshold
	}
	if merged.RiskMultiplier == 0 {
		merged.RiskMultiplier = c.RiskMultiplier
	}
	sym, ok := c.Symbols[symbol]
	if !ok {
		return merged
	}
	if sym.Params.PotThreshold != 0 {
		merged.PotThreshold = sym.Params.PotThreshold
	}
	if sym.Params.ADXThreshold != 0 {
		merged.ADXThreshold = sym.Params.ADXThreshold
	}
	if sym.Params.RiskMultiplier != 0 {
		merged.RiskMultiplier = sym.Params.RiskMultiplier
	}
	if sym.Params.DecisionSymbol != "" {
		merged.DecisionSymbol = sym.Params.DecisionSymbol
	}
	return merged
}

// LoadCalibration reads the document from disk. A missing file is not an
// error; it yields the zero document so the learner starts uncalibrated.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Calibration{}, nil
		}
		return Calibration{}, fmt.Errorf("read calibration: %w", err)
	}
	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return Calibration{}, fmt.Errorf("unmarshal calibration: %w", err)
	}
	return cal, nil
}

// SaveCalibration atomically persists the document: write a .tmp sibling,
// then rename over the target so readers never see a partial file.
func SaveCalibration(path string, cal Calibration) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	data, err := json.MarshalIndent(cal, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	return os.Rename(tmp, path)
}
