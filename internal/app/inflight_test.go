package app

import (
	"context"
	"errors"
	"testing"

	"kraken-hop-bot/internal/kraken/exchange"
	"kraken-hop-bot/internal/state"
	"kraken-hop-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

func TestSubmitClearsOrderIntent(t *testing.T) {
	rec := state.OrderRecord{Price: 0.05, Completed: true}
	h := newHarness(t, rec, rec, map[string]string{"XETH": "2"})
	if _, err := h.app.tick(context.Background(), h.feed); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.exchange.orders) != 1 {
		t.Fatalf("expected one order, got %d", len(h.exchange.orders))
	}
	if _, ok, _ := h.app.orders.LoadInflight(context.Background()); ok {
		t.Fatalf("expected intent cleared once pending")
	}
	if keys := h.store.keysWithPrefix("cloid:"); len(keys) != 0 {
		t.Fatalf("expected cached submission dropped, got %v", keys)
	}
}

func TestSubmitFailureKeepsOrderIntent(t *testing.T) {
	rec := state.OrderRecord{Price: 0.05, Completed: true}
	h := newHarness(t, rec, rec, map[string]string{"XETH": "2"})
	h.exchange.addErr = errors.New("context deadline exceeded")
	if _, err := h.app.tick(context.Background(), h.feed); !errors.Is(err, ErrFatal) {
		t.Fatalf("expected fatal submit error, got %v", err)
	}
	intent, ok, err := h.app.orders.LoadInflight(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected intent kept, ok=%v err=%v", ok, err)
	}
	if intent.Side != "sell" || intent.Pair != "ETHXBT" || intent.Price != 0.0544 || intent.Volume != "2" {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func seedIntent(t *testing.T, h *testHarness, id string) {
	t.Helper()
	err := h.app.orders.SaveInflight(context.Background(), state.InflightOrder{
		ClientOrderID: id,
		Pair:          "ETHXBT",
		Side:          "sell",
		Volume:        "2",
		Price:         0.0544,
	})
	if err != nil {
		t.Fatalf("seed intent: %v", err)
	}
}

func TestRecoverInflightFromSubmissionCache(t *testing.T) {
	rec := state.OrderRecord{Price: 0.05, Completed: true}
	h := newHarness(t, rec, rec, nil)
	ctx := context.Background()
	// The order went out, then the process died before recording it.
	order := exchange.LimitOrder{Pair: "ETHXBT", Side: exchange.SideSell, Volume: decimal.NewFromInt(2), Price: decimal.RequireFromString("0.0544"), ClientOrderID: "cl-1"}
	if _, err := h.app.executor.PlaceOrder(ctx, order); err != nil {
		t.Fatalf("place: %v", err)
	}
	seedIntent(t, h, "cl-1")

	if err := h.app.recoverInflight(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if cur := h.app.tracker.Current(); cur != (state.OrderRecord{Price: 0.0544, Completed: false}) {
		t.Fatalf("expected recovered pending order, got %+v", cur)
	}
	if len(h.exchange.orders) != 1 {
		t.Fatalf("recovery must not resubmit, got %d orders", len(h.exchange.orders))
	}
	if _, ok, _ := h.app.orders.LoadInflight(ctx); ok {
		t.Fatalf("expected intent cleared")
	}
	if h.notifier.count("Recovered") != 1 {
		t.Fatalf("expected recovery notice, got %v", h.notifier.all())
	}
}

func TestRecoverInflightAdoptsOpenOrder(t *testing.T) {
	rec := state.OrderRecord{Price: 0.05, Completed: true}
	h := newHarness(t, rec, rec, nil)
	seedIntent(t, h, "cl-2")
	h.exchange.setOpen("OTX9")
	if err := h.app.recoverInflight(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if h.app.tracker.State() != strategy.StatePending {
		t.Fatalf("expected open order adopted as pending")
	}
}

func TestRecoverInflightDiscardsUnplacedOrder(t *testing.T) {
	rec := state.OrderRecord{Price: 0.05, Completed: true}
	h := newHarness(t, rec, rec, nil)
	seedIntent(t, h, "cl-3")
	if err := h.app.recoverInflight(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if h.app.tracker.Current() != rec {
		t.Fatalf("expected records untouched, got %+v", h.app.tracker.Current())
	}
	if _, ok, _ := h.app.orders.LoadInflight(context.Background()); ok {
		t.Fatalf("expected intent discarded")
	}
}

func TestRecoverInflightAlreadyPending(t *testing.T) {
	last := state.OrderRecord{Price: 0.05, Completed: true}
	pending := state.OrderRecord{Price: 0.0544, Completed: false}
	h := newHarness(t, pending, last, nil)
	seedIntent(t, h, "cl-4")
	h.exchange.openErr = errors.New("must not be polled")
	if err := h.app.recoverInflight(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if h.app.tracker.Current() != pending {
		t.Fatalf("expected pending record kept, got %+v", h.app.tracker.Current())
	}
	if _, ok, _ := h.app.orders.LoadInflight(context.Background()); ok {
		t.Fatalf("expected intent cleared")
	}
}

func TestRunFailsOnUnresolvableIntent(t *testing.T) {
	rec := state.OrderRecord{Price: 0.05, Completed: true}
	h := newHarness(t, rec, rec, nil)
	seedIntent(t, h, "cl-5")
	h.exchange.openErr = errors.New("EService:Unavailable")
	if err := h.app.Run(context.Background()); !errors.Is(err, ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}
