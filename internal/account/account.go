package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrBalanceUnavailable means the failure budget is spent.
	ErrBalanceUnavailable = errors.New("account balance unavailable")
	// ErrBalanceDeferred means the fetch failed but the budget allows
	// another attempt on a later tick.
	ErrBalanceDeferred = errors.New("account balance refresh deferred")
)

type BalanceSource interface {
	Balance(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Account caches the last balance snapshot. The snapshot is only ever
// replaced whole and is refetched once marked stale.
type Account struct {
	source      BalanceSource
	maxFailures int
	log         *zap.Logger

	mu        sync.RWMutex
	balance   map[string]decimal.Decimal
	updatedAt time.Time
	stale     bool
	failures  int
}

func New(source BalanceSource, maxFailures int, log *zap.Logger) *Account {
	if log == nil {
		log = zap.NewNop()
	}
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Account{source: source, maxFailures: maxFailures, log: log, stale: true}
}

// Reconcile fetches a fresh balance and replaces the snapshot.
func (a *Account) Reconcile(ctx context.Context) (map[string]decimal.Decimal, error) {
	if a.source == nil {
		return nil, errors.New("balance source is required")
	}
	balance, err := a.source.Balance(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.balance = copyBalance(balance)
	a.updatedAt = time.Now().UTC()
	a.stale = false
	a.failures = 0
	a.mu.Unlock()
	return copyBalance(balance), nil
}

// Refresh returns the cached balance, refetching it first when stale.
// Failures are counted; once maxFailures consecutive fetches fail the error
// wraps ErrBalanceUnavailable, before that ErrBalanceDeferred.
func (a *Account) Refresh(ctx context.Context) (map[string]decimal.Decimal, error) {
	a.mu.RLock()
	stale := a.stale
	a.mu.RUnlock()
	if !stale {
		balance, _, _ := a.Snapshot()
		return balance, nil
	}
	balance, err := a.Reconcile(ctx)
	if err == nil {
		return balance, nil
	}
	a.mu.Lock()
	a.failures++
	failures := a.failures
	a.mu.Unlock()
	if failures >= a.maxFailures {
		return nil, fmt.Errorf("%d consecutive failures: %w: %v", failures, ErrBalanceUnavailable, err)
	}
	a.log.Warn("balance refresh failed", zap.Int("failures", failures), zap.Int("max_failures", a.maxFailures), zap.Error(err))
	return nil, fmt.Errorf("%w: %v", ErrBalanceDeferred, err)
}

// Fetch reads the balance live without touching the cached snapshot.
func (a *Account) Fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	if a.source == nil {
		return nil, errors.New("balance source is required")
	}
	return a.source.Balance(ctx)
}

func (a *Account) MarkStale() {
	a.mu.Lock()
	a.stale = true
	a.mu.Unlock()
}

func (a *Account) Stale() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stale
}

// Snapshot returns the last fetched balance and when it was fetched. ok is
// false before the first successful fetch.
func (a *Account) Snapshot() (map[string]decimal.Decimal, time.Time, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.balance == nil {
		return nil, time.Time{}, false
	}
	return copyBalance(a.balance), a.updatedAt, true
}

func copyBalance(src map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
