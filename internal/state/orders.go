package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	CurrentOrderKey       = "orders:current"
	LastCompletedOrderKey = "orders:last_completed"
)

var (
	ErrRecordMissing = errors.New("order record missing")
	ErrRecordCorrupt = errors.New("order record corrupt")
)

// OrderRecord is the cross-rate price future gain is measured against and
// whether the order that set it has finished filling.
type OrderRecord struct {
	Price     float64 `json:"price"`
	Completed bool    `json:"completed"`
}

func (r OrderRecord) Validate() error {
	if math.IsNaN(r.Price) || math.IsInf(r.Price, 0) || r.Price <= 0 {
		return fmt.Errorf("price %v must be a positive number: %w", r.Price, ErrRecordCorrupt)
	}
	return nil
}

type OrderRepository struct {
	store Store
}

func NewOrderRepository(store Store) *OrderRepository {
	return &OrderRepository{store: store}
}

func (r *OrderRepository) LoadCurrent(ctx context.Context) (OrderRecord, error) {
	return r.load(ctx, CurrentOrderKey)
}

func (r *OrderRepository) LoadLastCompleted(ctx context.Context) (OrderRecord, error) {
	return r.load(ctx, LastCompletedOrderKey)
}

func (r *OrderRepository) SaveCurrent(ctx context.Context, rec OrderRecord) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, CurrentOrderKey, payload)
}

func (r *OrderRepository) SaveLastCompleted(ctx context.Context, rec OrderRecord) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, LastCompletedOrderKey, payload)
}

// SaveBoth persists the current and last completed records in one write.
func (r *OrderRepository) SaveBoth(ctx context.Context, current, lastCompleted OrderRecord) error {
	cur, err := encodeRecord(current)
	if err != nil {
		return err
	}
	last, err := encodeRecord(lastCompleted)
	if err != nil {
		return err
	}
	return r.store.SetBatch(ctx, map[string]string{
		CurrentOrderKey:       cur,
		LastCompletedOrderKey: last,
	})
}

func (r *OrderRepository) load(ctx context.Context, key string) (OrderRecord, error) {
	if r == nil || r.store == nil {
		return OrderRecord{}, errors.New("order repository has no store")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return OrderRecord{}, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return OrderRecord{}, fmt.Errorf("%s: %w", key, ErrRecordMissing)
	}
	rec, err := DecodeRecord([]byte(raw))
	if err != nil {
		return OrderRecord{}, fmt.Errorf("%s: %w", key, err)
	}
	return rec, nil
}

func encodeRecord(rec OrderRecord) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// DecodeRecord accepts both the object form {"price":..,"completed":..} and
// the legacy two element tuple [price, completed].
func DecodeRecord(data []byte) (OrderRecord, error) {
	trimmed := strings.TrimSpace(string(data))
	var rec OrderRecord
	if strings.HasPrefix(trimmed, "[") {
		var tuple []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &tuple); err != nil {
			return OrderRecord{}, fmt.Errorf("%v: %w", err, ErrRecordCorrupt)
		}
		if len(tuple) != 2 {
			return OrderRecord{}, fmt.Errorf("expected 2 tuple fields, got %d: %w", len(tuple), ErrRecordCorrupt)
		}
		if err := json.Unmarshal(tuple[0], &rec.Price); err != nil {
			return OrderRecord{}, fmt.Errorf("price: %v: %w", err, ErrRecordCorrupt)
		}
		if err := json.Unmarshal(tuple[1], &rec.Completed); err != nil {
			return OrderRecord{}, fmt.Errorf("completed: %v: %w", err, ErrRecordCorrupt)
		}
	} else {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
			return OrderRecord{}, fmt.Errorf("%v: %w", err, ErrRecordCorrupt)
		}
		if _, ok := probe["price"]; !ok {
			return OrderRecord{}, fmt.Errorf("price field missing: %w", ErrRecordCorrupt)
		}
		if _, ok := probe["completed"]; !ok {
			return OrderRecord{}, fmt.Errorf("completed field missing: %w", ErrRecordCorrupt)
		}
		if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
			return OrderRecord{}, fmt.Errorf("%v: %w", err, ErrRecordCorrupt)
		}
	}
	if err := rec.Validate(); err != nil {
		return OrderRecord{}, err
	}
	return rec, nil
}
