package signals

import (
	"gammabot/internal/config"
	"gammabot/pkg/types"
)

// Engine evaluates feature packets against the gate thresholds, applying
// per-symbol learner adjustments when present.
type Engine struct {
	cfg config.GateConfig
}

func NewEngine(cfg config.GateConfig) *Engine {
	return &Engine{cfg: cfg}
}

// ChoosePlaybook maps the regime score to a playbook. The middle band falls
// through a session-time check into ORB, else LATE_PUSH.
func ChoosePlaybook(ts int64, regimeScore float64) string {
	if regimeScore > 0.2 {
		return types.PlaybookTrendPullback
	}
	if regimeScore < -0.2 {
		return types.PlaybookBalanceFade
	}
	if ts%(60*1_000_000) < 5*60*1_000_000 {
		return types.PlaybookORB
	}
	return types.PlaybookLatePush
}

// regimeCandidates constrains weight-biased selection to playbooks consistent
// with the regime.
func regimeCandidates(regimeScore float64) []string {
	if regimeScore > 0.2 {
		return []string{types.PlaybookTrendPullback, types.PlaybookLatePush}
	}
	if regimeScore < -0.2 {
		return []string{types.PlaybookBalanceFade, types.PlaybookORB}
	}
	return []string{types.PlaybookORB, types.PlaybookLatePush}
}

// Evaluate runs gates and, on admission, constructs the intent. The second
// return is false when any gate rejects; rejection is a silent skip.
func (e *Engine) Evaluate(packet types.FeaturePacket, adj *types.AdjustmentPacket) (types.SignalIntent, bool) {
	cfg := e.cfg
	riskMultiplier := 1.0
	var weights map[string]float64
	if adj != nil {
		if adj.PotThreshold > 0 {
			cfg.PotThreshold = adj.PotThreshold
		}
		if adj.ADXThreshold > 0 {
			cfg.ADXThreshold = adj.ADXThreshold
		}
		if adj.RiskMultiplier > 0 {
			riskMultiplier = adj.RiskMultiplier
		}
		weights = adj.PlaybookWeights
	}

	gate := EvaluateGates(packet, cfg)
	if !gate.Allowed {
		return types.SignalIntent{}, false
	}

	playbook := ChoosePlaybook(packet.TS, gate.RegimeScore)
	if len(weights) > 0 {
		candidates := regimeCandidates(gate.RegimeScore)
		best := candidates[0]
		for _, candidate := range candidates[1:] {
			if weights[candidate] > weights[best] {
				best = candidate
			}
		}
		playbook = best
	}

	volRegime := "moderate"
	if packet.VolOfVol > 0.1 {
		volRegime = "stressed"
	}
	ctx := RegimeContext{
		TrendScore:     gate.RegimeScore,
		VolRegime:      volRegime,
		RiskMultiplier: riskMultiplier,
	}
	liq := LiquidityContext{
		NBBOAgeMS:   packet.Micro.NBBOAgeMS,
		SpreadPct:   packet.Micro.SpreadPct,
		SpreadState: packet.Micro.SpreadState,
	}

	intent := BuildIntent(playbook, packet.TS, packet.Symbol, ctx, liq, packet.ATR1m)
	if weight, ok := weights[playbook]; ok {
		intent.SizeMultiplier *= weight
	}
	return intent, true
}
