// Package risk admits signals against account-level guardrails and manages
// the order lifecycle from submission to terminal state.
//
// Every entry is checked against the session guardrails:
//
//   - Daily loss cap:  no new entries once session PnL is at or below the cap
//   - Position cap:    caps concurrently open positions
//   - Session warmup:  no entries in the first N seconds after service start
//   - Open blackout:   no entries within a window around the cash open
//   - Force flat:      no entries near the session close
//   - Econ calendar:   no entries inside padded halt windows around releases
//   - Defensive mode:  raised by execution-quality z-scores, blocks entries
//
// Admitted signals become OrderRequests on risk_orders. The service then
// tracks each working order in a registry keyed by client_order_id: a
// time-stop cancel once the broker ack arrives and the playbook's time
// budget expires, a one-shot stop tighten on partial fills, and cleanup on
// terminal states.
package risk

import (
	"sync"

	"gammabot/internal/config"
)

// Manager tracks session-level risk state and answers entry checks. Safe for
// concurrent use.
type Manager struct {
	cfg config.RiskConfig

	mu             sync.Mutex
	pnl            float64
	openPositions  int
	sessionStartTS int64
	lastTradeTS    int64
	defensive      bool
}

func NewManager(cfg config.RiskConfig) *Manager {
	return &Manager{cfg: cfg}
}

// SetSessionStart anchors the no-trade warmup window.
func (m *Manager) SetSessionStart(ts int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionStartTS = ts
}

// RegisterFill accrues realized PnL and stamps the last trade time.
func (m *Manager) RegisterFill(pnlDelta float64, ts int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pnl += pnlDelta
	m.lastTradeTS = ts
}

// RegisterPosition adjusts the open position count, floored at zero.
func (m *Manager) RegisterPosition(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions += delta
	if m.openPositions < 0 {
		m.openPositions = 0
	}
}

// UpdateDefensive raises or clears the defensive flag from execution-quality
// z-scores.
func (m *Manager) UpdateDefensive(slippageZ, spreadZ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defensive = slippageZ >= m.cfg.Defensive.SlippageZ || spreadZ >= m.cfg.Defensive.SpreadZ
}

// PnL returns cumulative session PnL.
func (m *Manager) PnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pnl
}

// OpenPositions returns the current open position count.
func (m *Manager) OpenPositions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openPositions
}

// EntryAllowed runs every admission check: loss cap, position cap, session
// warmup, market-open blackout, force-flat window, and defensive mode.
// minutesToOpen is negative once the session is open.
func (m *Manager) EntryAllowed(ts int64, minutesToOpen, minutesToClose int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pnl <= m.cfg.DailyLossCap {
		return false
	}
	if m.openPositions >= m.cfg.MaxConcurrentPositions {
		return false
	}
	secondsSinceStart := float64(ts-m.sessionStartTS) / 1_000_000
	if secondsSinceStart < float64(m.cfg.NoTradeFirstSeconds) {
		return false
	}
	if absInt(minutesToOpen) <= m.cfg.EconHaltMinutesPrePost {
		return false
	}
	if minutesToClose*60 <= m.cfg.ForceFlatBeforeCloseSecs {
		return false
	}
	if m.defensive {
		return false
	}
	return true
}

// EnforceExit reports whether the daily loss cap demands flattening.
func (m *Manager) EnforceExit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pnl <= m.cfg.DailyLossCap
}

// RiskBudget is the per-trade dollar budget.
func (m *Manager) RiskBudget(accountEquity float64) float64 {
	return accountEquity * m.cfg.PerTradeMaxRiskPct
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
