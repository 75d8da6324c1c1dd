package state

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type memoryStore struct {
	mu       sync.Mutex
	items    map[string]string
	batchErr error
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) SetBatch(ctx context.Context, entries map[string]string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchErr != nil {
		return m.batchErr
	}
	if m.items == nil {
		m.items = make(map[string]string)
	}
	for k, v := range entries {
		m.items[k] = v
	}
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func TestOrderRecordRoundTrip(t *testing.T) {
	repo := NewOrderRepository(&memoryStore{})
	ctx := context.Background()
	for _, rec := range []OrderRecord{
		{Price: 13.0, Completed: true},
		{Price: 0.05432, Completed: false},
	} {
		if err := repo.SaveCurrent(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := repo.LoadCurrent(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got != rec {
			t.Fatalf("expected %#v, got %#v", rec, got)
		}
	}
}

func TestSaveBothWritesBothRecords(t *testing.T) {
	store := &memoryStore{}
	repo := NewOrderRepository(store)
	ctx := context.Background()
	cur := OrderRecord{Price: 12.6, Completed: true}
	last := OrderRecord{Price: 12.6, Completed: true}
	if err := repo.SaveBoth(ctx, cur, last); err != nil {
		t.Fatalf("save both: %v", err)
	}
	gotCur, err := repo.LoadCurrent(ctx)
	if err != nil || gotCur != cur {
		t.Fatalf("unexpected current %#v (err=%v)", gotCur, err)
	}
	gotLast, err := repo.LoadLastCompleted(ctx)
	if err != nil || gotLast != last {
		t.Fatalf("unexpected last completed %#v (err=%v)", gotLast, err)
	}
}

func TestSaveBothFailureLeavesPreviousRecords(t *testing.T) {
	store := &memoryStore{}
	repo := NewOrderRepository(store)
	ctx := context.Background()
	if err := repo.SaveCurrent(ctx, OrderRecord{Price: 13, Completed: false}); err != nil {
		t.Fatalf("save: %v", err)
	}
	store.batchErr = errors.New("disk full")
	if err := repo.SaveBoth(ctx, OrderRecord{Price: 13, Completed: true}, OrderRecord{Price: 13, Completed: true}); err == nil {
		t.Fatalf("expected batch error")
	}
	got, err := repo.LoadCurrent(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Completed {
		t.Fatalf("expected pending record to survive failed batch")
	}
}

func TestLoadCurrentMissing(t *testing.T) {
	repo := NewOrderRepository(&memoryStore{})
	_, err := repo.LoadCurrent(context.Background())
	if !errors.Is(err, ErrRecordMissing) {
		t.Fatalf("expected ErrRecordMissing, got %v", err)
	}
}

func TestLoadCurrentCorrupt(t *testing.T) {
	for _, raw := range []string{"{", `{"price":13}`, `{"price":-1,"completed":true}`, `[13.0]`, `["x", true]`} {
		store := &memoryStore{items: map[string]string{CurrentOrderKey: raw}}
		_, err := NewOrderRepository(store).LoadCurrent(context.Background())
		if !errors.Is(err, ErrRecordCorrupt) {
			t.Fatalf("%s: expected ErrRecordCorrupt, got %v", raw, err)
		}
	}
}

func TestDecodeRecordLegacyTuple(t *testing.T) {
	rec, err := DecodeRecord([]byte(" [0.05413, false]\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Price != 0.05413 || rec.Completed {
		t.Fatalf("unexpected record %#v", rec)
	}
}

func TestSaveRejectsInvalidPrice(t *testing.T) {
	repo := NewOrderRepository(&memoryStore{})
	if err := repo.SaveCurrent(context.Background(), OrderRecord{Price: 0}); err == nil {
		t.Fatalf("expected error for zero price")
	}
}
