// Package signals turns feature packets into trade intents. Admission runs
// three gates (liquidity, regime, probability); on pass, a playbook is chosen
// from the regime score, optionally biased by learner weights, and expanded
// into a SignalIntent with option filters and a sized multiplier.
package signals

import (
	"gammabot/internal/config"
	"gammabot/pkg/types"
)

// GateResult carries the admission decision plus the scores downstream
// sizing needs.
type GateResult struct {
	Allowed        bool
	RegimeScore    float64
	LiquidityScore float64
}

// LiquidityGate rejects stale, wide, or stressed books.
func LiquidityGate(packet types.FeaturePacket, maxAgeMS, maxSpreadPct float64) bool {
	micro := packet.Micro
	if micro.NBBOAgeMS > maxAgeMS {
		return false
	}
	if micro.SpreadPct > maxSpreadPct {
		return false
	}
	if micro.SpreadState == types.SpreadStressed {
		return false
	}
	return true
}

// ContextGate scores the regime: trend = clamp(slope·1000, ±1), shifted by
// whether ADX clears its threshold. Passes when the blended score exceeds
// trendThreshold.
func ContextGate(packet types.FeaturePacket, trendThreshold, adxThreshold float64) (bool, float64) {
	trendScore := clamp(packet.VWAPSlope*1000, -1, 1)
	adxVote := -1.0
	if packet.ADX3m >= adxThreshold {
		adxVote = 1.0
	}
	regimeScore := 0.5 * (trendScore + adxVote)
	return regimeScore > trendThreshold, regimeScore
}

// ProbabilityGate requires the touch-probability estimate to clear the
// threshold.
func ProbabilityGate(packet types.FeaturePacket, potThreshold float64) bool {
	return packet.Prob.PotEst >= potThreshold
}

// EvaluateGates runs all three gates. Admission requires every gate to pass;
// the regime score is reported either way so callers can log near misses.
func EvaluateGates(packet types.FeaturePacket, cfg config.GateConfig) GateResult {
	liquidityOK := LiquidityGate(packet, cfg.NBBOAgeMSMax, cfg.SpreadPctMax)
	liquidityScore := 0.0
	if liquidityOK {
		liquidityScore = 1.0
	}
	contextOK, regimeScore := ContextGate(packet, cfg.TrendThreshold, cfg.ADXThreshold)
	probabilityOK := ProbabilityGate(packet, cfg.PotThreshold)
	return GateResult{
		Allowed:        liquidityOK && contextOK && probabilityOK,
		RegimeScore:    regimeScore,
		LiquidityScore: liquidityScore,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
