package strategy

import "github.com/shopspring/decimal"

// DecideHop applies the per-asset threshold and builds the rotating order.
// Leaving A buys the cross pair with the whole A balance converted at the
// cross rate; leaving B sells the whole B balance.
func DecideHop(pos Position, gain float64, balance Balance, cross float64, params HopParams) (HopDecision, bool) {
	if cross <= 0 {
		return HopDecision{}, false
	}
	rate := decimal.NewFromFloat(cross)
	var decision HopDecision
	switch pos {
	case PositionHoldingA:
		if gain <= params.LeaveAThreshold {
			return HopDecision{}, false
		}
		decision = HopDecision{
			Side:   SideBuy,
			Volume: balance.Quantity(params.Assets.A).Div(rate),
			From:   PositionHoldingA,
			To:     PositionHoldingB,
		}
	case PositionHoldingB:
		if gain <= params.LeaveBThreshold {
			return HopDecision{}, false
		}
		decision = HopDecision{
			Side:   SideSell,
			Volume: balance.Quantity(params.Assets.B),
			From:   PositionHoldingB,
			To:     PositionHoldingA,
		}
	default:
		return HopDecision{}, false
	}
	decision.Volume = decision.Volume.Truncate(params.VolumeDecimals)
	if !decision.Volume.IsPositive() {
		return HopDecision{}, false
	}
	decision.Pair = params.Pair
	decision.LimitPrice = rate.Round(params.PriceDecimals).InexactFloat64()
	decision.Gain = gain
	return decision, true
}
