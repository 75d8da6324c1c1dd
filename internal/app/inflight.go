package app

import (
	"context"
	"fmt"

	"kraken-hop-bot/internal/strategy"

	"go.uber.org/zap"
)

// recoverInflight resolves an order intent left by a process that stopped
// between writing it and recording the order as pending. The submission cache
// answers whether AddOrder succeeded; without a cached answer any open order
// on the account is taken to be ours.
func (a *App) recoverInflight(ctx context.Context) error {
	intent, ok, err := a.orders.LoadInflight(ctx)
	if err != nil {
		return fmt.Errorf("load order intent: %w", err)
	}
	if !ok {
		return nil
	}
	log := a.log.With(zap.String("cl_ord_id", intent.ClientOrderID), zap.Float64("price", intent.Price))
	if a.tracker.State() == strategy.StatePending {
		log.Info("order intent already recorded as pending")
		a.finishInflight(ctx, intent.ClientOrderID)
		return nil
	}

	desc, placed, err := a.executor.Lookup(ctx, intent.ClientOrderID)
	if err != nil {
		return fmt.Errorf("look up order %s: %w", intent.ClientOrderID, err)
	}
	if !placed {
		open, err := a.executor.OpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("resolve order %s: %w", intent.ClientOrderID, err)
		}
		if len(open) == 0 {
			log.Warn("interrupted order not found on the exchange, discarding intent")
			a.finishInflight(ctx, intent.ClientOrderID)
			return nil
		}
		log.Warn("interrupted order not cached, adopting open order", zap.Strings("txids", open))
	}
	if err := a.tracker.Submitted(ctx, intent.Price); err != nil {
		return fmt.Errorf("record recovered order %s: %w", intent.ClientOrderID, err)
	}
	a.finishInflight(ctx, intent.ClientOrderID)
	log.Info("recovered order placed before restart", zap.String("order", desc.String()))
	a.notify(ctx, fmt.Sprintf("Recovered %s %s %s order at %v placed before restart.", intent.Side, intent.Volume, intent.Pair, intent.Price))
	return nil
}

// finishInflight drops the intent and its cached submission once the current
// record carries the order.
func (a *App) finishInflight(ctx context.Context, clOrdID string) {
	if err := a.orders.ClearInflight(ctx); err != nil {
		a.log.Warn("failed to clear order intent", zap.String("cl_ord_id", clOrdID), zap.Error(err))
	}
	if err := a.executor.Forget(ctx, clOrdID); err != nil {
		a.log.Warn("failed to drop cached order", zap.String("cl_ord_id", clOrdID), zap.Error(err))
	}
}
