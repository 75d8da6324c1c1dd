package exchange

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// LimitOrder is a plain limit order. Empty OFlags submits a GTC order.
type LimitOrder struct {
	Pair          string
	Side          Side
	Volume        decimal.Decimal
	Price         decimal.Decimal
	OFlags        string
	ClientOrderID string
}

// OrderDescriptor is what the exchange returns for an accepted order.
type OrderDescriptor struct {
	TxIDs       []string
	Description string
}

func (d OrderDescriptor) String() string {
	if d.Description != "" {
		return d.Description
	}
	if len(d.TxIDs) > 0 {
		return d.TxIDs[0]
	}
	return ""
}

type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

type openOrdersResult struct {
	Open map[string]struct {
		Status string `json:"status"`
	} `json:"open"`
}

type cancelAllResult struct {
	Count int `json:"count"`
}
