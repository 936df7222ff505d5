package oms

import (
	"math"

	"gammabot/pkg/types"
)

// AdjustStop trails a working stop behind the underlying's latest price,
// keeping trailRatio of the current distance between price and stop. The
// result never loosens: a BUY stop only ratchets up, a SELL stop only down.
// When trailing is disabled the existing stop passes through unchanged.
func AdjustStop(existingStop, underlyingPrice float64, side types.Side, enabled bool, trailRatio float64) float64 {
	if !enabled {
		return existingStop
	}
	gap := trailRatio * math.Abs(underlyingPrice-existingStop)
	if side == types.BUY {
		return math.Max(existingStop, underlyingPrice-gap)
	}
	return math.Min(existingStop, underlyingPrice+gap)
}
