package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"kraken-hop-bot/internal/config"
	"kraken-hop-bot/internal/state"
	"kraken-hop-bot/internal/state/sqlite"
)

const usage = `usage: records [-config path | -db path] <command> [flags]

commands:
  show                                   print the current and last completed order
  set -price P [-pending]                write a completed baseline at P, or a pending order at P
  import -current file [-completed file] load [price, completed] JSON tuples`

// records inspects and seeds the order records the bot needs at startup.
func main() {
	configPath := flag.String("config", "", "config path; the state.sqlite_path is used")
	dbPath := flag.String("db", "", "sqlite path, overrides -config")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	path := strings.TrimSpace(*dbPath)
	if path == "" && *configPath != "" {
		if err := config.LoadEnv(".env"); err != nil {
			fatal(err)
		}
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		path = cfg.State.SQLitePath
	}
	if path == "" {
		fatal(errors.New("-db or -config is required"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fatal(err)
	}
	store, err := sqlite.New(path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	if err := run(context.Background(), state.NewOrderRepository(store), flag.Args(), os.Stdout); err != nil {
		store.Close()
		fatal(err)
	}
}

func run(ctx context.Context, repo *state.OrderRepository, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "show":
		return show(ctx, repo, out)
	case "set":
		return set(ctx, repo, args[1:], out)
	case "import":
		return importTuples(ctx, repo, args[1:], out)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func show(ctx context.Context, repo *state.OrderRepository, out io.Writer) error {
	for _, entry := range []struct {
		name string
		load func(context.Context) (state.OrderRecord, error)
	}{
		{"current", repo.LoadCurrent},
		{"last_completed", repo.LoadLastCompleted},
	} {
		rec, err := entry.load(ctx)
		switch {
		case errors.Is(err, state.ErrRecordMissing):
			fmt.Fprintf(out, "%s: missing\n", entry.name)
		case err != nil:
			fmt.Fprintf(out, "%s: %v\n", entry.name, err)
		default:
			fmt.Fprintf(out, "%s: price=%v completed=%t\n", entry.name, rec.Price, rec.Completed)
		}
	}
	return nil
}

func set(ctx context.Context, repo *state.OrderRepository, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.SetOutput(out)
	price := fs.Float64("price", 0, "reference cross-rate price")
	pending := fs.Bool("pending", false, "write a pending current order and keep the last completed one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pending {
		if _, err := repo.LoadLastCompleted(ctx); err != nil {
			return fmt.Errorf("a pending order needs a last completed order: %w", err)
		}
		if err := repo.SaveCurrent(ctx, state.OrderRecord{Price: *price}); err != nil {
			return err
		}
		return show(ctx, repo, out)
	}
	rec := state.OrderRecord{Price: *price, Completed: true}
	if err := repo.SaveBoth(ctx, rec, rec); err != nil {
		return err
	}
	return show(ctx, repo, out)
}

func importTuples(ctx context.Context, repo *state.OrderRepository, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(out)
	currentPath := fs.String("current", "", "file holding the current order tuple")
	completedPath := fs.String("completed", "", "file holding the last completed order tuple")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *currentPath == "" {
		return errors.New("import requires -current")
	}
	current, err := readRecord(*currentPath)
	if err != nil {
		return err
	}
	last := current
	if *completedPath != "" {
		if last, err = readRecord(*completedPath); err != nil {
			return err
		}
	}
	if !last.Completed {
		return fmt.Errorf("last completed order must be completed: %w", state.ErrRecordCorrupt)
	}
	if err := repo.SaveBoth(ctx, current, last); err != nil {
		return err
	}
	return show(ctx, repo, out)
}

func readRecord(path string) (state.OrderRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return state.OrderRecord{}, err
	}
	rec, err := state.DecodeRecord(data)
	if err != nil {
		return state.OrderRecord{}, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
