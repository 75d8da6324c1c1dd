package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrEmptyBook = errors.New("order book side is empty")

var two = decimal.NewFromInt(2)

// Book is an order book snapshot reduced to its price levels.
type Book struct {
	Asks []decimal.Decimal
	Bids []decimal.Decimal
}

// Mid returns (best ask + best bid) / 2. Level order does not matter.
func (b Book) Mid() (decimal.Decimal, error) {
	if len(b.Asks) == 0 {
		return decimal.Zero, fmt.Errorf("asks: %w", ErrEmptyBook)
	}
	if len(b.Bids) == 0 {
		return decimal.Zero, fmt.Errorf("bids: %w", ErrEmptyBook)
	}
	bestAsk := decimal.Min(b.Asks[0], b.Asks[1:]...)
	bestBid := decimal.Max(b.Bids[0], b.Bids[1:]...)
	return bestAsk.Add(bestBid).Div(two), nil
}
