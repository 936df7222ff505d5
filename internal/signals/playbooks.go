package signals

import "gammabot/pkg/types"

// RegimeContext is the market regime snapshot a playbook sizes against.
type RegimeContext struct {
	TrendScore     float64
	VolRegime      string
	RiskMultiplier float64
}

// LiquidityContext degrades position size as the book deteriorates.
type LiquidityContext struct {
	NBBOAgeMS   float64
	SpreadPct   float64
	SpreadState string
}

// Score starts at 1.0 and is cut for stale quotes (×0.5 past 500ms), wide
// spreads (×0.7 past 50bps), and zeroed entirely when stressed.
func (l LiquidityContext) Score() float64 {
	score := 1.0
	if l.NBBOAgeMS > 500 {
		score *= 0.5
	}
	if l.SpreadPct > 0.005 {
		score *= 0.7
	}
	if l.SpreadState == types.SpreadStressed {
		score = 0
	}
	if score < 0 {
		return 0
	}
	return score
}

func trendPullback(ts int64, underlying string, ctx RegimeContext, liq LiquidityContext, atr float64) types.SignalIntent {
	side := types.BUY
	band := "-1σ"
	if ctx.TrendScore < 0 {
		side = types.SELL
		band = "+1σ"
	}
	return types.SignalIntent{
		TS:         ts,
		Underlying: underlying,
		Side:       side,
		Playbook:   types.PlaybookTrendPullback,
		EntryTrigger: types.EntryTrigger{
			Type:          "VWAP_BAND_TOUCH",
			Band:          band,
			Confirmations: []string{"CVD_UP", "ES_AGREE"},
		},
		TargetUnderlyingMove: 0.7 * atr,
		StopUnderlyingMove:   -0.45 * atr,
		TimeStopSecs:         240,
		OptionFilters: types.OptionFilters{
			DeltaRange:    [2]float64{0.40, 0.55},
			DTERange:      [2]int{0, 1},
			SpreadPctMax:  0.01,
			QuoteAgeMsMax: 800,
		},
		SizeMultiplier: ctx.TrendScore * liq.Score() * ctx.RiskMultiplier,
	}
}

func balanceFade(ts int64, underlying string, ctx RegimeContext, liq LiquidityContext, atr float64) types.SignalIntent {
	side := types.BUY
	if ctx.TrendScore > 0 {
		side = types.SELL
	}
	return types.SignalIntent{
		TS:         ts,
		Underlying: underlying,
		Side:       side,
		Playbook:   types.PlaybookBalanceFade,
		EntryTrigger: types.EntryTrigger{
			Type:          "VWAP_REVERT",
			Band:          "±2σ",
			Confirmations: []string{"BAND_STABLE"},
		},
		TargetUnderlyingMove: 0.5 * atr,
		StopUnderlyingMove:   -0.35 * atr,
		TimeStopSecs:         180,
		OptionFilters: types.OptionFilters{
			DeltaRange:   [2]float64{0.30, 0.40},
			DTERange:     [2]int{1, 3},
			SpreadPctMax: 0.01,
		},
		SizeMultiplier: 0.6 * liq.Score() * ctx.RiskMultiplier,
	}
}

func openingRangeBreak(ts int64, underlying string, ctx RegimeContext, liq LiquidityContext, atr float64) types.SignalIntent {
	return types.SignalIntent{
		TS:         ts,
		Underlying: underlying,
		Side:       types.BUY,
		Playbook:   types.PlaybookORB,
		EntryTrigger: types.EntryTrigger{
			Type:          "OPENING_BREAK",
			Band:          "ORB",
			Confirmations: []string{"OPEN_IMBALANCE", "ES_AGREE"},
		},
		TargetUnderlyingMove: 0.8 * atr,
		StopUnderlyingMove:   -0.5 * atr,
		TimeStopSecs:         300,
		OptionFilters: types.OptionFilters{
			DeltaRange: [2]float64{0.45, 0.55},
			DTERange:   [2]int{0, 1},
		},
		SizeMultiplier: 0.5 * ctx.RiskMultiplier * liq.Score(),
	}
}

func latePush(ts int64, underlying string, ctx RegimeContext, liq LiquidityContext, atr float64) types.SignalIntent {
	return types.SignalIntent{
		TS:         ts,
		Underlying: underlying,
		Side:       types.BUY,
		Playbook:   types.PlaybookLatePush,
		EntryTrigger: types.EntryTrigger{
			Type:          "LATE_PUSH",
			Band:          "VWAP",
			Confirmations: []string{"PIN_RISK_OK"},
		},
		TargetUnderlyingMove: 0.4 * atr,
		StopUnderlyingMove:   -0.25 * atr,
		TimeStopSecs:         120,
		OptionFilters: types.OptionFilters{
			DeltaRange: [2]float64{0.35, 0.45},
			DTERange:   [2]int{0, 1},
			LateClose:  true,
		},
		SizeMultiplier: 0.3 * ctx.RiskMultiplier * liq.Score(),
	}
}

// BuildIntent expands a playbook name into a full SignalIntent.
func BuildIntent(playbook string, ts int64, underlying string, ctx RegimeContext, liq LiquidityContext, atr float64) types.SignalIntent {
	switch playbook {
	case types.PlaybookBalanceFade:
		return balanceFade(ts, underlying, ctx, liq, atr)
	case types.PlaybookORB:
		return openingRangeBreak(ts, underlying, ctx, liq, atr)
	case types.PlaybookLatePush:
		return latePush(ts, underlying, ctx, liq, atr)
	default:
		return trendPullback(ts, underlying, ctx, liq, atr)
	}
}
