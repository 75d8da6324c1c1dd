package state

import (
	"context"
	"errors"
	"testing"
)

func TestInflightOrderLifecycle(t *testing.T) {
	store := &memoryStore{}
	repo := NewOrderRepository(store)
	ctx := context.Background()

	if _, ok, err := repo.LoadInflight(ctx); err != nil || ok {
		t.Fatalf("expected no intent, ok=%v err=%v", ok, err)
	}
	want := InflightOrder{ClientOrderID: "cl-1", Pair: "ETHXBT", Side: "buy", Volume: "9.19117647", Price: 0.0544}
	if err := repo.SaveInflight(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := repo.LoadInflight(ctx)
	if err != nil || !ok || got != want {
		t.Fatalf("expected %+v, got %+v ok=%v err=%v", want, got, ok, err)
	}
	if err := repo.ClearInflight(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := repo.LoadInflight(ctx); ok {
		t.Fatalf("expected intent cleared")
	}
}

func TestInflightOrderRejectsInvalid(t *testing.T) {
	repo := NewOrderRepository(&memoryStore{})
	ctx := context.Background()
	if err := repo.SaveInflight(ctx, InflightOrder{Price: 0.05}); !errors.Is(err, ErrRecordCorrupt) {
		t.Fatalf("expected missing id rejected, got %v", err)
	}
	if err := repo.SaveInflight(ctx, InflightOrder{ClientOrderID: "x", Price: -1}); !errors.Is(err, ErrRecordCorrupt) {
		t.Fatalf("expected bad price rejected, got %v", err)
	}

	store := &memoryStore{}
	_ = store.Set(ctx, InflightOrderKey, "{not json")
	if _, _, err := NewOrderRepository(store).LoadInflight(ctx); !errors.Is(err, ErrRecordCorrupt) {
		t.Fatalf("expected corrupt intent error, got %v", err)
	}
}
