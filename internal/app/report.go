package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"kraken-hop-bot/internal/strategy"
	"kraken-hop-bot/internal/timescale"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrPricesUnavailable = errors.New("prices not available yet")
	ErrGainUndefined     = errors.New("gain undefined")
)

type StatusReport struct {
	Cross       float64
	AssetAQuote float64
	AssetBQuote float64
	GainPercent float64
}

// Status classifies a live balance against the cached prices and reports
// the gain of the current position.
func (a *App) Status(ctx context.Context) (StatusReport, error) {
	prices := a.prices.Snapshot()
	if !prices.Complete() {
		return StatusReport{}, ErrPricesUnavailable
	}
	raw, err := a.account.Fetch(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("fetch balance: %w", err)
	}
	pos := strategy.ClassifyPosition(strategy.Balance(raw), prices, a.params.Assets)
	gain, ok := strategy.EvaluateGain(pos, a.tracker.Current(), prices)
	if !ok {
		return StatusReport{}, fmt.Errorf("%w: position %s, order pending %t", ErrGainUndefined, pos, a.tracker.State() == strategy.StatePending)
	}
	return StatusReport{
		Cross:       prices.Cross,
		AssetAQuote: prices.AssetAQuote,
		AssetBQuote: prices.AssetBQuote,
		GainPercent: gain * 100,
	}, nil
}

// BalanceReport lists every held asset with its quote-currency value. Only
// the two rotated assets are valued; others show zero.
func (a *App) BalanceReport(ctx context.Context) (string, error) {
	raw, err := a.account.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch balance: %w", err)
	}
	prices := a.prices.Snapshot()
	assets := make([]string, 0, len(raw))
	for asset := range raw {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	quote := a.cfg.Strategy.Quote
	lines := make([]string, 0, len(assets))
	for _, asset := range assets {
		qty := raw[asset]
		value := decimal.Zero
		switch {
		case asset == a.params.Assets.A && prices.HasAssetAQuote:
			value = qty.Mul(decimal.NewFromFloat(prices.AssetAQuote))
		case asset == a.params.Assets.B && prices.HasAssetBQuote:
			value = qty.Mul(decimal.NewFromFloat(prices.AssetBQuote))
		}
		lines = append(lines, fmt.Sprintf("%-6s %12s %s (%s)", asset, value.StringFixed(2), quote, qty.StringFixed(4)))
	}
	if len(lines) == 0 {
		return "balance empty", nil
	}
	return strings.Join(lines, "\n"), nil
}

// RevertLastOrder cancels every open order and restores the last completed
// record. It returns strategy.ErrNotPending when no order was pending. The
// pending order is claimed before the cancel so the control loop cannot read
// the emptied order book as a fill.
func (a *App) RevertLastOrder(ctx context.Context) error {
	claimed, err := a.tracker.BeginRevert()
	if err != nil {
		return err
	}
	if _, err := a.executor.CancelAll(ctx); err != nil {
		if claimed {
			a.tracker.AbortRevert()
		}
		return fmt.Errorf("cancel open orders: %w", err)
	}
	if !claimed {
		return strategy.ErrNotPending
	}
	reverted, err := a.tracker.Revert(ctx)
	if err != nil {
		return err
	}
	if !reverted {
		return strategy.ErrNotPending
	}
	rec := a.tracker.Current()
	a.metrics.OrdersReverted.Inc()
	a.log.Info("pending order reverted", zap.Float64("price", rec.Price))
	a.recordOrder(timescale.OrderEvent{Kind: "reverted", Pair: a.params.Pair, Price: rec.Price})
	return nil
}
