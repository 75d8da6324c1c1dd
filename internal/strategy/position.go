package strategy

import (
	"kraken-hop-bot/internal/market"

	"github.com/shopspring/decimal"
)

// ClassifyPosition values both assets in the quote currency and reports the
// larger holding. An unset price values that asset at zero. Equal non-zero
// values resolve to HoldingB.
func ClassifyPosition(balance Balance, prices market.Prices, assets Assets) Position {
	valueA := quoteValue(balance.Quantity(assets.A), prices.AssetAQuote, prices.HasAssetAQuote)
	valueB := quoteValue(balance.Quantity(assets.B), prices.AssetBQuote, prices.HasAssetBQuote)
	if valueA.IsZero() && valueB.IsZero() {
		return PositionNone
	}
	if valueA.GreaterThan(valueB) {
		return PositionHoldingA
	}
	return PositionHoldingB
}

func quoteValue(qty decimal.Decimal, price float64, ok bool) decimal.Decimal {
	if !ok {
		return decimal.Zero
	}
	return qty.Mul(decimal.NewFromFloat(price))
}
