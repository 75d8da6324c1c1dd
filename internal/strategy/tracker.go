package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kraken-hop-bot/internal/state"
)

var (
	ErrNotPending   = errors.New("no pending order")
	ErrOrderPending = errors.New("an order is already pending")
	ErrNotLoaded    = errors.New("order tracker not loaded")
	ErrReverting    = errors.New("a revert is already in progress")
)

type RecordRepository interface {
	LoadCurrent(ctx context.Context) (state.OrderRecord, error)
	LoadLastCompleted(ctx context.Context) (state.OrderRecord, error)
	SaveCurrent(ctx context.Context, rec state.OrderRecord) error
	SaveLastCompleted(ctx context.Context, rec state.OrderRecord) error
	SaveBoth(ctx context.Context, current, lastCompleted state.OrderRecord) error
}

// OrderTracker owns the current and last completed order records. Every
// transition holds mu across its persistence write and only updates memory
// once the write succeeded, so concurrent fill and revert have one winner.
// A revert is claimed with BeginRevert before open orders are cancelled; while
// claimed, Complete refuses to treat the empty order book as a fill.
type OrderTracker struct {
	repo RecordRepository

	mu            sync.Mutex
	loaded        bool
	reverting     bool
	current       state.OrderRecord
	lastCompleted state.OrderRecord
}

func NewOrderTracker(repo RecordRepository) *OrderTracker {
	return &OrderTracker{repo: repo}
}

// Load reads both records. A missing last completed record is seeded from a
// completed current record; with a pending current record it is an error.
func (t *OrderTracker) Load(ctx context.Context) error {
	current, err := t.repo.LoadCurrent(ctx)
	if err != nil {
		return fmt.Errorf("load current order: %w", err)
	}
	last, err := t.repo.LoadLastCompleted(ctx)
	switch {
	case err == nil:
	case errors.Is(err, state.ErrRecordMissing) && current.Completed:
		last = current
		if err := t.repo.SaveLastCompleted(ctx, last); err != nil {
			return fmt.Errorf("seed last completed order: %w", err)
		}
	default:
		return fmt.Errorf("load last completed order: %w", err)
	}
	if !last.Completed {
		return fmt.Errorf("last completed order is pending: %w", state.ErrRecordCorrupt)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = current
	t.lastCompleted = last
	t.loaded = true
	return nil
}

func (t *OrderTracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

func (t *OrderTracker) stateLocked() State {
	if t.current.Completed {
		return StateIdle
	}
	return StatePending
}

func (t *OrderTracker) Current() state.OrderRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *OrderTracker) LastCompleted() state.OrderRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastCompleted
}

// Submitted records a newly placed order at price and moves to Pending.
func (t *OrderTracker) Submitted(ctx context.Context, price float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		return ErrNotLoaded
	}
	if cur := t.stateLocked(); nextState(cur, EventSubmitted) == cur {
		return ErrOrderPending
	}
	rec := state.OrderRecord{Price: price, Completed: false}
	if err := t.repo.SaveCurrent(ctx, rec); err != nil {
		return fmt.Errorf("persist submitted order: %w", err)
	}
	t.current = rec
	return nil
}

// Complete marks the pending order filled and makes it the last completed
// order. It reports false when there was nothing pending.
func (t *OrderTracker) Complete(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		return false, ErrNotLoaded
	}
	if t.reverting {
		return false, nil
	}
	if cur := t.stateLocked(); nextState(cur, EventFilled) == cur {
		return false, nil
	}
	rec := state.OrderRecord{Price: t.current.Price, Completed: true}
	if err := t.repo.SaveBoth(ctx, rec, rec); err != nil {
		return false, fmt.Errorf("persist filled order: %w", err)
	}
	t.current = rec
	t.lastCompleted = rec
	return true, nil
}

// BeginRevert claims the pending order for a revert. It reports false when
// nothing is pending. A claim is released by Revert or AbortRevert.
func (t *OrderTracker) BeginRevert() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		return false, ErrNotLoaded
	}
	if t.reverting {
		return false, ErrReverting
	}
	if cur := t.stateLocked(); nextState(cur, EventReverted) == cur {
		return false, nil
	}
	t.reverting = true
	return true, nil
}

// AbortRevert releases a claim taken by BeginRevert without changing records.
func (t *OrderTracker) AbortRevert() {
	t.mu.Lock()
	t.reverting = false
	t.mu.Unlock()
}

// Revert drops the pending order and restores the last completed one. It
// reports false when there was nothing pending. Any revert claim is released,
// also when persisting fails.
func (t *OrderTracker) Revert(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reverting = false
	if !t.loaded {
		return false, ErrNotLoaded
	}
	if cur := t.stateLocked(); nextState(cur, EventReverted) == cur {
		return false, nil
	}
	if err := t.repo.SaveCurrent(ctx, t.lastCompleted); err != nil {
		return false, fmt.Errorf("persist reverted order: %w", err)
	}
	t.current = t.lastCompleted
	return true, nil
}
