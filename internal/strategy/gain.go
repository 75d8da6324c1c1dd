package strategy

import (
	"math"

	"kraken-hop-bot/internal/market"
	"kraken-hop-bot/internal/state"
)

// EvaluateGain returns the signed gain of the cross rate against the
// reference price of a completed record. ok is false when no gain is
// defined: pending record, no position, unset cross rate or bad reference.
func EvaluateGain(pos Position, rec state.OrderRecord, prices market.Prices) (float64, bool) {
	if !rec.Completed || !prices.HasCross {
		return 0, false
	}
	if rec.Price <= 0 || math.IsNaN(rec.Price) || math.IsInf(rec.Price, 0) {
		return 0, false
	}
	ratio := prices.Cross/rec.Price - 1
	switch pos {
	case PositionHoldingA:
		return -ratio, true
	case PositionHoldingB:
		return ratio, true
	}
	return 0, false
}
