package strategy

import (
	"math"
	"testing"

	"kraken-hop-bot/internal/market"
	"kraken-hop-bot/internal/state"

	"github.com/shopspring/decimal"
)

var testAssets = Assets{A: "XXBT", B: "XETH"}

func testParams() HopParams {
	return HopParams{
		Assets:          testAssets,
		Pair:            "ETHXBT",
		LeaveAThreshold: 0.02,
		LeaveBThreshold: 0.05,
		PriceDecimals:   5,
		VolumeDecimals:  8,
	}
}

func scenarioPrices(cross float64) market.Prices {
	return market.Prices{
		AssetAQuote: 20000, HasAssetAQuote: true,
		AssetBQuote: 1500, HasAssetBQuote: true,
		Cross: cross, HasCross: true,
	}
}

func TestScenarioANoHop(t *testing.T) {
	balance := Balance{"XXBT": decimal.NewFromInt(1)}
	prices := scenarioPrices(13.3)
	pos := ClassifyPosition(balance, prices, testAssets)
	if pos != PositionHoldingA {
		t.Fatalf("expected HoldingA, got %s", pos)
	}
	gain, ok := EvaluateGain(pos, state.OrderRecord{Price: 13.0, Completed: true}, prices)
	if !ok {
		t.Fatalf("expected gain to be defined")
	}
	if math.Abs(gain-(-0.0230769)) > 1e-6 {
		t.Fatalf("expected gain about -0.0231, got %f", gain)
	}
	if _, ok := DecideHop(pos, gain, balance, prices.Cross, testParams()); ok {
		t.Fatalf("expected no hop")
	}
}

func TestScenarioBHopBuy(t *testing.T) {
	balance := Balance{"XXBT": decimal.NewFromInt(1)}
	prices := scenarioPrices(12.6)
	pos := ClassifyPosition(balance, prices, testAssets)
	gain, ok := EvaluateGain(pos, state.OrderRecord{Price: 13.0, Completed: true}, prices)
	if !ok || math.Abs(gain-0.0307692) > 1e-6 {
		t.Fatalf("expected gain about 0.0308, got %f ok=%v", gain, ok)
	}
	decision, ok := DecideHop(pos, gain, balance, prices.Cross, testParams())
	if !ok {
		t.Fatalf("expected hop")
	}
	if decision.Side != SideBuy || decision.Pair != "ETHXBT" {
		t.Fatalf("unexpected decision %#v", decision)
	}
	if decision.LimitPrice != 12.6 {
		t.Fatalf("expected limit price 12.6, got %v", decision.LimitPrice)
	}
	if !decision.Volume.Equal(decimal.RequireFromString("0.07936507")) {
		t.Fatalf("expected volume 0.07936507, got %s", decision.Volume)
	}
	if decision.From != PositionHoldingA || decision.To != PositionHoldingB {
		t.Fatalf("unexpected direction %s -> %s", decision.From, decision.To)
	}
}

func TestHopSellLeavesB(t *testing.T) {
	balance := Balance{"XETH": decimal.RequireFromString("2.123456789")}
	decision, ok := DecideHop(PositionHoldingB, 0.051, balance, 0.054321987, testParams())
	if !ok {
		t.Fatalf("expected hop out of B")
	}
	if decision.Side != SideSell {
		t.Fatalf("expected sell, got %s", decision.Side)
	}
	if !decision.Volume.Equal(decimal.RequireFromString("2.12345678")) {
		t.Fatalf("expected truncated volume, got %s", decision.Volume)
	}
	if decision.LimitPrice != 0.05432 {
		t.Fatalf("expected rounded price 0.05432, got %v", decision.LimitPrice)
	}
}

func TestHopThresholdsAreAsymmetric(t *testing.T) {
	balance := Balance{"XXBT": decimal.NewFromInt(1), "XETH": decimal.NewFromInt(10)}
	if _, ok := DecideHop(PositionHoldingA, 0.03, balance, 0.05, testParams()); !ok {
		t.Fatalf("expected 3%% gain to leave A")
	}
	if _, ok := DecideHop(PositionHoldingB, 0.03, balance, 0.05, testParams()); ok {
		t.Fatalf("expected 3%% gain to keep B")
	}
	if _, ok := DecideHop(PositionHoldingA, 0.02, balance, 0.05, testParams()); ok {
		t.Fatalf("expected threshold itself not to trigger")
	}
}

func TestHopNeverForNone(t *testing.T) {
	balance := Balance{"XXBT": decimal.NewFromInt(1)}
	for _, gain := range []float64{-1, 0, 0.5, 10} {
		if _, ok := DecideHop(PositionNone, gain, balance, 13, testParams()); ok {
			t.Fatalf("expected no decision for None at gain %v", gain)
		}
	}
}

func TestHopSkipsZeroVolume(t *testing.T) {
	balance := Balance{"XXBT": decimal.RequireFromString("0.000000001")}
	if _, ok := DecideHop(PositionHoldingA, 0.5, balance, 13, testParams()); ok {
		t.Fatalf("expected dust balance to produce no decision")
	}
	if _, ok := DecideHop(PositionHoldingA, 0.5, Balance{"XXBT": decimal.NewFromInt(1)}, 0, testParams()); ok {
		t.Fatalf("expected zero cross rate to produce no decision")
	}
}
