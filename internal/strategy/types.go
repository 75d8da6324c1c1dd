package strategy

import "github.com/shopspring/decimal"

type State string

type Event string

const (
	StateIdle    State = "IDLE"
	StatePending State = "PENDING"
)

const (
	EventSubmitted Event = "SUBMITTED"
	EventFilled    Event = "FILLED"
	EventReverted  Event = "REVERTED"
)

type Position string

const (
	PositionNone     Position = "NONE"
	PositionHoldingA Position = "HOLDING_A"
	PositionHoldingB Position = "HOLDING_B"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Balance maps exchange asset codes to held quantity.
type Balance map[string]decimal.Decimal

// Quantity returns the held amount of asset, zero when absent.
func (b Balance) Quantity(asset string) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	qty, ok := b[asset]
	if !ok {
		return decimal.Zero
	}
	return qty
}

// Assets names the two rotated assets.
type Assets struct {
	A string
	B string
}

func (a Assets) For(pos Position) (string, bool) {
	switch pos {
	case PositionHoldingA:
		return a.A, true
	case PositionHoldingB:
		return a.B, true
	}
	return "", false
}

type HopParams struct {
	Assets          Assets
	Pair            string
	LeaveAThreshold float64
	LeaveBThreshold float64
	PriceDecimals   int32
	VolumeDecimals  int32
}

// HopDecision is the limit order to submit for one rotation.
type HopDecision struct {
	Side       Side
	Pair       string
	Volume     decimal.Decimal
	LimitPrice float64
	From       Position
	To         Position
	Gain       float64
}
