package features

import (
	"math"
	"sync"
	"time"

	"gammabot/internal/config"
	"gammabot/pkg/types"
)

const (
	priceWindow   = 3600
	returnsWindow = 5400
	ivWindow      = 3600
	tapeWindow    = 3600
)

// symbolState is the per-symbol rolling state. One instance per symbol,
// exclusively owned by the engine for the life of the process.
type symbolState struct {
	prices  *series
	volumes *series
	highs   *series
	lows    *series
	closes  *series
	returns *series

	nbboTS        int64
	lastQuote     *types.Quote
	spreadHistory *SpreadHistory
	tape          *tradeTape
	esAgreeUntil  int64

	optionIVTerms map[int]float64
	callSurface   map[float64]float64
	putSurface    map[float64]float64
	ivHistory     *series
}

func newSymbolState() *symbolState {
	return &symbolState{
		prices:        newSeries(priceWindow),
		volumes:       newSeries(priceWindow),
		highs:         newSeries(priceWindow),
		lows:          newSeries(priceWindow),
		closes:        newSeries(priceWindow),
		returns:       newSeries(returnsWindow),
		spreadHistory: NewSpreadHistory(),
		tape:          newTradeTape(tapeWindow),
		optionIVTerms: make(map[int]float64),
		callSurface:   make(map[float64]float64),
		putSurface:    make(map[float64]float64),
		ivHistory:     newSeries(ivWindow),
	}
}

// Engine computes FeaturePackets from rolling per-symbol state. All methods
// are safe for concurrent use; quote, trade, option, and bar handlers may run
// on separate goroutines.
type Engine struct {
	cfg config.FeaturesConfig

	mu    sync.Mutex
	state map[string]*symbolState
}

func NewEngine(cfg config.FeaturesConfig) *Engine {
	return &Engine{
		cfg:   cfg,
		state: make(map[string]*symbolState),
	}
}

func (e *Engine) symbol(symbol string) *symbolState {
	st, ok := e.state[symbol]
	if !ok {
		st = newSymbolState()
		e.state[symbol] = st
	}
	return st
}

// UpdateQuote records the latest NBBO for the symbol and appends its spread
// to the classification history.
func (e *Engine) UpdateQuote(quote types.Quote) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.symbol(quote.Symbol)
	if quote.Mid == 0 {
		quote.Mid = (quote.Bid + quote.Ask) / 2
	}
	st.lastQuote = &quote
	st.nbboTS = quote.TS
	st.spreadHistory.Add(SpreadPct(quote.Bid, quote.Ask, quote.Mid))
}

// UpdateTrade appends an aggressor-classified trade to the symbol's tape.
func (e *Engine) UpdateTrade(symbol, aggressor string, size float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbol(symbol).tape.push(aggressor, size)
}

// UpdateOption folds a chain snapshot row into the symbol's vol surface:
// the IV lands in the nearest configured term bucket and in the IV history,
// and the call/put smile is keyed by delta rounded to two decimals.
func (e *Engine) UpdateOption(meta types.OptionMeta) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.symbol(meta.Underlying)
	if dte, ok := daysToExpiry(meta.Exp, meta.TS); ok {
		nearest := nearestTerm(e.cfg.TermDays, dte)
		st.optionIVTerms[nearest] = meta.IV
		st.ivHistory.push(meta.IV)
	}
	deltaKey := math.Round(meta.Delta*100) / 100
	if meta.Type == "C" || meta.Type == "c" {
		st.callSurface[deltaKey] = meta.IV
	} else {
		st.putSurface[deltaKey] = meta.IV
	}
}

// daysToExpiry converts a YYYY-MM-DD expiry against a microsecond timestamp,
// floored at zero. ok is false when the expiry does not parse.
func daysToExpiry(expiry string, ts int64) (int, bool) {
	expDT, err := time.Parse("2006-01-02", expiry)
	if err != nil {
		return 0, false
	}
	now := time.UnixMicro(ts).UTC()
	days := int(math.Floor(expDT.Sub(now).Seconds() / 86400))
	if days < 0 {
		days = 0
	}
	return days, true
}

func nearestTerm(terms []int, dte int) int {
	if len(terms) == 0 {
		return dte
	}
	best := terms[0]
	for _, term := range terms[1:] {
		if abs(term-dte) < abs(best-dte) {
			best = term
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Compute folds the bar into the price series and derives the full feature
// packet. esAgree extends the ES-lead agreement deadline before the flag is
// evaluated against the bar timestamp.
func (e *Engine) Compute(symbol string, bar types.Agg1s, esAgree bool) types.FeaturePacket {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.symbol(symbol)
	st.prices.push(bar.C)
	st.volumes.push(bar.V)
	st.highs.push(bar.H)
	st.lows.push(bar.L)
	st.closes.push(bar.C)
	if st.closes.len() > 1 {
		closes := st.closes.values()
		st.returns.push(math.Log(closes[len(closes)-1] / closes[len(closes)-2]))
	}

	if esAgree {
		st.esAgreeUntil = bar.TS + int64(e.cfg.ESLeadConfirmSecs)*1_000_000
	}

	prices := st.prices.values()
	volumes := st.volumes.values()
	vwap := SessionVWAP(prices, volumes)
	bands := VWAPBands(prices, volumes, e.cfg.BandsSigmas, e.cfg.BandStdevWindowSecs)
	slope := VWAPSlope(prices, volumes, e.cfg.SlopeLookback)

	highs := st.highs.values()
	lows := st.lows.values()
	closes := st.closes.values()
	atrSlow := ATR(highs, lows, closes, e.cfg.ATRMinLookback)
	atrFast := FastATR(highs, lows, closes, e.cfg.ATRFastSecs)

	period := e.cfg.ADXTFMinutes * 60
	if period < 1 {
		period = 1
	}
	adx := 0.0
	if st.closes.len() > period {
		adx = ADX(highs, lows, closes, period)
	}

	rv5 := RealizedVol(st.returns.values(), 5*60)
	rv15 := RealizedVol(st.returns.values(), 15*60)

	term := e.termStructure(st)
	skew := SmileSkew(st.putSurface, st.callSurface, e.cfg.SkewDelta)
	volvol := VolOfVol(st.ivHistory.values())

	spreadPct := 0.0
	spreadState := types.SpreadNormal
	if st.lastQuote != nil {
		spreadPct = SpreadPct(st.lastQuote.Bid, st.lastQuote.Ask, st.lastQuote.Mid)
		spreadState = ClassifySpread(st.spreadHistory, spreadPct, e.cfg.SpreadStressZ)
	}
	nbboAgeMicros := NBBOAge(bar.TS, st.nbboTS)

	ivFront := term.IV9D
	probITM := ProbabilityITM("C",
		math.Max(bar.C, 1e-9), math.Max(bar.C, 1e-9),
		0.0, math.Max(ivFront, 1e-4), 1.0/252.0)

	return types.FeaturePacket{
		TS:        bar.TS,
		Symbol:    symbol,
		TF:        "1s",
		VWAP:      vwap,
		VWAPBands: bands,
		ATR1m:     atrSlow,
		ATR1s:     atrFast,
		ADX3m:     adx,
		VWAPSlope: slope,
		RV5m:      rv5,
		RV15m:     rv15,
		IV9d:      term.IV9D,
		IV30d:     term.IV30D,
		IV60d:     term.IV60D,
		Skew25d:   skew,
		VolOfVol:  volvol,
		Micro: types.Micro{
			NBBOAgeMS:   float64(nbboAgeMicros) / 1000,
			SpreadPct:   spreadPct,
			SpreadState: spreadState,
			CVD90s:      st.tape.delta(),
			ESLeadAgree: bar.TS <= st.esAgreeUntil,
		},
		Prob: types.Prob{
			PITM:   probITM,
			PotEst: ProbabilityOfTouch(probITM),
		},
	}
}

func (e *Engine) termStructure(st *symbolState) TermStructure {
	vols := make(map[int]float64, len(e.cfg.TermDays))
	for _, term := range e.cfg.TermDays {
		vols[term] = st.optionIVTerms[term]
	}
	return ComputeTermStructure(vols)
}
