package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"kraken-hop-bot/internal/kraken/exchange"
	"kraken-hop-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const cloidKeyPrefix = "cloid:"

type RestClient interface {
	AddOrder(ctx context.Context, order exchange.LimitOrder) (exchange.OrderDescriptor, error)
	OpenOrders(ctx context.Context) ([]string, error)
	CancelAll(ctx context.Context) (int, error)
}

// Executor submits orders at most once per client order id and remembers the
// resulting descriptor across restarts.
type Executor struct {
	rest  RestClient
	store state.Store
	log   *zap.Logger

	mu    sync.Mutex
	cache map[string]exchange.OrderDescriptor

	retryAttempts int
	retryBackoff  time.Duration
}

func New(rest RestClient, store state.Store, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		rest:          rest,
		store:         store,
		log:           log,
		cache:         make(map[string]exchange.OrderDescriptor),
		retryAttempts: 5,
		retryBackoff:  200 * time.Millisecond,
	}
}

// NewClientOrderID returns a fresh id for LimitOrder.ClientOrderID.
func NewClientOrderID() string {
	return uuid.NewString()
}

// PlaceOrder submits order once. It is not retried: a failed submission is
// returned to the caller unchanged.
func (e *Executor) PlaceOrder(ctx context.Context, order exchange.LimitOrder) (exchange.OrderDescriptor, error) {
	if order.ClientOrderID == "" {
		order.ClientOrderID = NewClientOrderID()
	}
	if desc, ok, err := e.Lookup(ctx, order.ClientOrderID); err != nil {
		return exchange.OrderDescriptor{}, err
	} else if ok {
		return desc, nil
	}
	cacheKey := cloidKeyPrefix + order.ClientOrderID
	desc, err := e.rest.AddOrder(ctx, order)
	if err != nil {
		return exchange.OrderDescriptor{}, err
	}
	if len(desc.TxIDs) == 0 {
		return exchange.OrderDescriptor{}, errors.New("empty order id")
	}
	if e.store != nil {
		payload, err := json.Marshal(desc)
		if err == nil {
			err = e.store.Set(ctx, cacheKey, string(payload))
		}
		if err != nil {
			e.log.Warn("failed to persist order id", zap.String("cl_ord_id", order.ClientOrderID), zap.Error(err))
		}
	}
	e.remember(cacheKey, desc)
	return desc, nil
}

// Lookup returns the descriptor of an order already placed under clOrdID.
func (e *Executor) Lookup(ctx context.Context, clOrdID string) (exchange.OrderDescriptor, bool, error) {
	cacheKey := cloidKeyPrefix + clOrdID
	e.mu.Lock()
	desc, ok := e.cache[cacheKey]
	e.mu.Unlock()
	if ok || e.store == nil {
		return desc, ok, nil
	}
	raw, ok, err := e.store.Get(ctx, cacheKey)
	if err != nil || !ok {
		return exchange.OrderDescriptor{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return exchange.OrderDescriptor{}, false, fmt.Errorf("cached order %s: %w", clOrdID, err)
	}
	e.remember(cacheKey, desc)
	return desc, true, nil
}

// Forget drops the cached descriptor once the order is tracked elsewhere.
func (e *Executor) Forget(ctx context.Context, clOrdID string) error {
	cacheKey := cloidKeyPrefix + clOrdID
	e.mu.Lock()
	delete(e.cache, cacheKey)
	e.mu.Unlock()
	if e.store == nil {
		return nil
	}
	return e.store.Delete(ctx, cacheKey)
}

func (e *Executor) remember(key string, desc exchange.OrderDescriptor) {
	e.mu.Lock()
	e.cache[key] = desc
	e.mu.Unlock()
}

func (e *Executor) OpenOrders(ctx context.Context) ([]string, error) {
	return e.rest.OpenOrders(ctx)
}

func (e *Executor) CancelAll(ctx context.Context) (int, error) {
	var count int
	err := e.retry(ctx, func() error {
		var err error
		count, err = e.rest.CancelAll(ctx)
		return err
	})
	return count, err
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := e.retryBackoff
	for attempt := 0; attempt < e.retryAttempts; attempt++ {
		if err := fn(); err != nil {
			var apiErr *exchange.APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return err
			}
			if attempt == e.retryAttempts-1 {
				return fmt.Errorf("retry failed: %w", err)
			}
			e.log.Debug("retrying exchange call", zap.Int("attempt", attempt+1), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
			continue
		}
		return nil
	}
	return nil
}
