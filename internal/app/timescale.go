package app

import (
	"kraken-hop-bot/internal/market"
	"kraken-hop-bot/internal/state"
	"kraken-hop-bot/internal/strategy"
	"kraken-hop-bot/internal/timescale"
)

// observe publishes what one tick saw to the gauges and the tick history.
func (a *App) observe(prices market.Prices, balance strategy.Balance, pos strategy.Position, record state.OrderRecord, gain float64, hasGain bool) {
	if prices.HasCross {
		a.metrics.CrossRate.Set(prices.Cross)
	}
	if hasGain {
		a.metrics.Gain.Set(gain)
	}
	if a.timescale == nil {
		return
	}
	a.timescale.EnqueueTick(timescale.TickSnapshot{
		Time:           a.now(),
		State:          string(a.tracker.State()),
		Position:       string(pos),
		AssetAQuote:    prices.AssetAQuote,
		AssetBQuote:    prices.AssetBQuote,
		Cross:          prices.Cross,
		ReferencePrice: record.Price,
		Gain:           gain,
		HasGain:        hasGain,
		BalanceA:       balance.Quantity(a.params.Assets.A).InexactFloat64(),
		BalanceB:       balance.Quantity(a.params.Assets.B).InexactFloat64(),
	})
}

func (a *App) recordOrder(event timescale.OrderEvent) {
	if a.timescale == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = a.now()
	}
	a.timescale.EnqueueOrder(event)
}
