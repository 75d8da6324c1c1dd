package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"kraken-hop-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// TickSnapshot is one decision tick: what the loop saw and concluded.
type TickSnapshot struct {
	Time           time.Time
	State          string
	Position       string
	AssetAQuote    float64
	AssetBQuote    float64
	Cross          float64
	ReferencePrice float64
	Gain           float64
	HasGain        bool
	BalanceA       float64
	BalanceB       float64
}

// OrderEvent is a lifecycle change of a hop order.
type OrderEvent struct {
	Time   time.Time
	Kind   string
	Side   string
	Pair   string
	Volume float64
	Price  float64
	TxID   string
	Gain   float64
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	ticks      chan TickSnapshot
	orders     chan OrderEvent
	started    atomic.Bool
	dropTicks  atomic.Uint64
	dropOrders atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		ticks:  make(chan TickSnapshot, queueSize),
		orders: make(chan OrderEvent, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// EnqueueTick never blocks; snapshots are dropped when the queue is full.
func (w *Writer) EnqueueTick(snapshot TickSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- snapshot:
	default:
		if w.dropTicks.Add(1) == 1 {
			w.log.Warn("timescale tick queue full")
		}
	}
}

func (w *Writer) EnqueueOrder(event OrderEvent) {
	if w == nil {
		return
	}
	select {
	case w.orders <- event:
	default:
		if w.dropOrders.Add(1) == 1 {
			w.log.Warn("timescale order queue full")
		}
	}
}

func (w *Writer) Dropped() (ticks, orders uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropTicks.Load(), w.dropOrders.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.ticks:
			w.writeTick(ctx, snap)
		case event := <-w.orders:
			w.writeOrder(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		state TEXT NOT NULL,
		position TEXT NOT NULL,
		asset_a_quote DOUBLE PRECISION NOT NULL,
		asset_b_quote DOUBLE PRECISION NOT NULL,
		cross_rate DOUBLE PRECISION NOT NULL,
		reference_price DOUBLE PRECISION NOT NULL,
		gain DOUBLE PRECISION,
		balance_a DOUBLE PRECISION NOT NULL,
		balance_b DOUBLE PRECISION NOT NULL
	)`, w.table("hop_ticks"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		side TEXT NOT NULL,
		pair TEXT NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		txid TEXT NOT NULL,
		gain DOUBLE PRECISION NOT NULL
	)`, w.table("hop_orders"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"hop_ticks", "hop_orders"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeTick(ctx context.Context, snap TickSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var gain sql.NullFloat64
	if snap.HasGain {
		gain = sql.NullFloat64{Float64: snap.Gain, Valid: true}
	}
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, state, position, asset_a_quote, asset_b_quote, cross_rate, reference_price, gain, balance_a, balance_b
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table("hop_ticks"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.State,
		snap.Position,
		snap.AssetAQuote,
		snap.AssetBQuote,
		snap.Cross,
		snap.ReferencePrice,
		gain,
		snap.BalanceA,
		snap.BalanceB,
	); err != nil {
		w.log.Warn("timescale tick insert failed", zap.Error(err))
	}
}

func (w *Writer) writeOrder(ctx context.Context, event OrderEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, kind, side, pair, volume, price, txid, gain
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("hop_orders"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Kind,
		event.Side,
		event.Pair,
		event.Volume,
		event.Price,
		event.TxID,
		event.Gain,
	); err != nil {
		w.log.Warn("timescale order insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
