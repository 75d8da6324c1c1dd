package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const InflightOrderKey = "orders:inflight"

// InflightOrder is a hop order written before submission and cleared once the
// current record shows it pending. Finding one at startup means the process
// stopped somewhere between the two.
type InflightOrder struct {
	ClientOrderID string    `json:"cl_ord_id"`
	Pair          string    `json:"pair"`
	Side          string    `json:"side"`
	Volume        string    `json:"volume"`
	Price         float64   `json:"price"`
	CreatedAt     time.Time `json:"created_at"`
}

func (r *OrderRepository) SaveInflight(ctx context.Context, order InflightOrder) error {
	if strings.TrimSpace(order.ClientOrderID) == "" {
		return fmt.Errorf("inflight order needs a client order id: %w", ErrRecordCorrupt)
	}
	if err := (OrderRecord{Price: order.Price}).Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, InflightOrderKey, string(payload))
}

func (r *OrderRepository) LoadInflight(ctx context.Context) (InflightOrder, bool, error) {
	raw, ok, err := r.store.Get(ctx, InflightOrderKey)
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return InflightOrder{}, false, err
	}
	var order InflightOrder
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return InflightOrder{}, false, fmt.Errorf("%s: %v: %w", InflightOrderKey, err, ErrRecordCorrupt)
	}
	if order.ClientOrderID == "" {
		return InflightOrder{}, false, fmt.Errorf("%s: client order id missing: %w", InflightOrderKey, ErrRecordCorrupt)
	}
	return order, true, nil
}

func (r *OrderRepository) ClearInflight(ctx context.Context) error {
	return r.store.Delete(ctx, InflightOrderKey)
}
