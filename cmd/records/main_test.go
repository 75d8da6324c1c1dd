package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kraken-hop-bot/internal/state"
	"kraken-hop-bot/internal/state/sqlite"
)

func newRepo(t *testing.T) *state.OrderRepository {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return state.NewOrderRepository(store)
}

func TestSetAndShow(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	var out bytes.Buffer

	if err := run(ctx, repo, []string{"set", "-price", "0.05", "-pending"}, &out); err == nil {
		t.Fatalf("expected pending set without a baseline to fail")
	}
	out.Reset()
	if err := run(ctx, repo, []string{"set", "-price", "0.05"}, &out); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !strings.Contains(out.String(), "last_completed: price=0.05 completed=true") {
		t.Fatalf("unexpected output %q", out.String())
	}
	out.Reset()
	if err := run(ctx, repo, []string{"set", "-price", "0.0544", "-pending"}, &out); err != nil {
		t.Fatalf("set pending: %v", err)
	}
	cur, err := repo.LoadCurrent(ctx)
	if err != nil || cur.Completed || cur.Price != 0.0544 {
		t.Fatalf("unexpected current %+v err=%v", cur, err)
	}
	last, err := repo.LoadLastCompleted(ctx)
	if err != nil || last.Price != 0.05 {
		t.Fatalf("expected baseline kept, got %+v err=%v", last, err)
	}
	if err := run(ctx, repo, []string{"set", "-price", "0"}, &out); !errors.Is(err, state.ErrRecordCorrupt) {
		t.Fatalf("expected invalid price rejected, got %v", err)
	}
}

func TestImportLegacyTuples(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	dir := t.TempDir()
	current := filepath.Join(dir, "last.json")
	completed := filepath.Join(dir, "last_completed.json")
	if err := os.WriteFile(current, []byte("[0.0544, false]"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(completed, []byte("[0.05,true]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out bytes.Buffer
	if err := run(ctx, repo, []string{"import", "-current", current}, &out); err == nil {
		t.Fatalf("expected pending tuple without -completed to fail")
	}
	if err := run(ctx, repo, []string{"import", "-current", current, "-completed", completed}, &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	cur, _ := repo.LoadCurrent(ctx)
	last, _ := repo.LoadLastCompleted(ctx)
	if cur.Price != 0.0544 || cur.Completed || last.Price != 0.05 || !last.Completed {
		t.Fatalf("unexpected records current=%+v last=%+v", cur, last)
	}
}

func TestShowMissing(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), newRepo(t), []string{"show"}, &out); err != nil {
		t.Fatalf("show: %v", err)
	}
	if out.String() != "current: missing\nlast_completed: missing\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if err := run(context.Background(), newRepo(t), []string{"bogus"}, &out); err == nil {
		t.Fatalf("expected unknown command error")
	}
}
