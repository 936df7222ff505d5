package ingest

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"gammabot/internal/config"
	"gammabot/pkg/types"
)

// UniverseManager picks which option contracts ride the options socket.
// Each underlying re-selects at most once per rotation interval: the chain
// is filtered to the configured delta and DTE windows, ranked by closeness
// to 0.5 delta, then open interest, then strike, and capped at the contract
// budget.
type UniverseManager struct {
	maxContracts     int
	strikesAroundATM int
	rotateSecs       int
	deltaMin         float64
	deltaMax         float64
	dteMin           int
	dteMax           int

	mu           sync.Mutex
	lastRotation map[string]int64
	universe     map[string][]string
}

func NewUniverseManager(cfg config.IngestConfig) *UniverseManager {
	return &UniverseManager{
		maxContracts:     cfg.MaxContracts,
		strikesAroundATM: cfg.StrikesAroundATM,
		rotateSecs:       cfg.OptionRotateSecs,
		deltaMin:         cfg.DeltaMin,
		deltaMax:         cfg.DeltaMax,
		dteMin:           cfg.DTEMin,
		dteMax:           cfg.DTEMax,
		lastRotation:     make(map[string]int64),
		universe:         make(map[string][]string),
	}
}

// Rotate returns the tracked contracts for underlying, re-selecting from
// chain when the rotation interval has elapsed. Inside the interval, or when
// nothing in the chain passes the filters, the previous selection survives.
func (m *UniverseManager) Rotate(underlying string, chain []types.OptionMeta, ts int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	intervalUS := int64(m.rotateSecs) * 1_000_000
	if intervalUS > 0 && ts-m.lastRotation[underlying] < intervalUS {
		return append([]string(nil), m.universe[underlying]...)
	}

	filtered := m.filterChain(chain, ts)
	if len(filtered) == 0 {
		return append([]string(nil), m.universe[underlying]...)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		deltaI, oiI, strikeI := universeRank(filtered[i])
		deltaJ, oiJ, strikeJ := universeRank(filtered[j])
		if deltaI != deltaJ {
			return deltaI < deltaJ
		}
		if oiI != oiJ {
			return oiI < oiJ
		}
		return strikeI < strikeJ
	})
	if m.maxContracts > 0 && len(filtered) > m.maxContracts {
		filtered = filtered[:m.maxContracts]
	}

	selection := make([]string, 0, len(filtered))
	for _, opt := range filtered {
		selection = append(selection, opt.Symbol)
	}
	m.universe[underlying] = selection
	m.lastRotation[underlying] = ts
	return append([]string(nil), selection...)
}

// Contracts returns the current selection without rotating.
func (m *UniverseManager) Contracts(underlying string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.universe[underlying]...)
}

func (m *UniverseManager) filterChain(chain []types.OptionMeta, ts int64) []types.OptionMeta {
	now := tsToTime(ts)
	var out []types.OptionMeta
	for _, opt := range chain {
		if opt.Symbol == "" {
			continue
		}
		delta := math.Abs(opt.Delta)
		if delta < m.deltaMin || delta > m.deltaMax {
			continue
		}
		dte, ok := daysToExpiry(opt.Exp, now)
		if !ok {
			continue
		}
		if dte < float64(m.dteMin) || dte > float64(m.dteMax) {
			continue
		}
		out = append(out, opt)
	}
	return out
}

// universeRank orders by distance from 0.5 delta, then open interest
// descending, then strike magnitude.
func universeRank(opt types.OptionMeta) (float64, float64, float64) {
	return math.Abs(math.Abs(opt.Delta) - 0.5), -float64(opt.OI), math.Abs(opt.Strike)
}

func tsToTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMicro(ts).UTC()
}

// daysToExpiry parses YYYY-MM-DD or RFC 3339 expirations into fractional
// days from now.
func daysToExpiry(exp string, now time.Time) (float64, bool) {
	if exp == "" {
		return 0, false
	}
	var expAt time.Time
	var err error
	if strings.Contains(exp, "T") {
		expAt, err = time.Parse(time.RFC3339, exp)
	} else {
		expAt, err = time.Parse("2006-01-02", exp)
	}
	if err != nil {
		return 0, false
	}
	return expAt.UTC().Sub(now).Hours() / 24, true
}
