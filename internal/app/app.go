package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kraken-hop-bot/internal/account"
	"kraken-hop-bot/internal/alerts"
	"kraken-hop-bot/internal/config"
	"kraken-hop-bot/internal/exec"
	"kraken-hop-bot/internal/kraken/exchange"
	"kraken-hop-bot/internal/kraken/rest"
	"kraken-hop-bot/internal/kraken/ws"
	"kraken-hop-bot/internal/market"
	"kraken-hop-bot/internal/metrics"
	"kraken-hop-bot/internal/state"
	"kraken-hop-bot/internal/state/sqlite"
	"kraken-hop-bot/internal/strategy"
	"kraken-hop-bot/internal/timescale"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrFatal marks errors that end Run. The process is expected to exit.
var ErrFatal = errors.New("fatal")

// Exchange is the private REST surface the bot trades through.
type Exchange interface {
	Balance(ctx context.Context) (map[string]decimal.Decimal, error)
	AddOrder(ctx context.Context, order exchange.LimitOrder) (exchange.OrderDescriptor, error)
	OpenOrders(ctx context.Context) ([]string, error)
	CancelAll(ctx context.Context) (int, error)
}

// BookFeed is one live order book session.
type BookFeed interface {
	Books() map[string]market.Book
	Closed() bool
	LastUpdate() time.Time
	Close()
}

// FeedFactory opens a fresh book session with its own subscription.
type FeedFactory func(ctx context.Context) (BookFeed, error)

type Notifier interface {
	Send(ctx context.Context, message string) error
}

type updateSource interface {
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error)
}

type marketInfo interface {
	SystemStatus(ctx context.Context) (rest.SystemStatus, error)
	AssetPairs(ctx context.Context, pairs ...string) (map[string]rest.AssetPair, error)
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	exchange  Exchange
	public    marketInfo
	newFeed   FeedFactory
	prices    *market.PriceCache
	pairs     market.Pairs
	params    strategy.HopParams
	account   *account.Account
	executor  *exec.Executor
	orders    *state.OrderRepository
	tracker   *strategy.OrderTracker
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    Notifier
	updates   updateSource
	timescale *timescale.Writer

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	opsMu          sync.RWMutex
	paused         bool
	riskOverride   *config.RiskConfig
	operatorWarned bool
	auditSeq       atomic.Uint64
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if strings.TrimSpace(cfg.REST.Key) == "" || strings.TrimSpace(cfg.REST.Secret) == "" {
		return nil, errors.New("KRAKEN_API_KEY and KRAKEN_API_SECRET are required")
	}
	signer, err := exchange.NewSigner(cfg.REST.Key, cfg.REST.Secret)
	if err != nil {
		return nil, err
	}
	exClient, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer)
	if err != nil {
		return nil, err
	}
	exClient.SetLogger(log)

	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	pairs := pairsFromConfig(cfg.Strategy)
	newFeed := func(ctx context.Context) (BookFeed, error) {
		client := ws.New(cfg.WS.URL, cfg.WS.PingInterval, log)
		feed := market.NewBookFeed(client, pairs.List(), cfg.WS.BookDepth, log)
		if err := feed.Start(ctx); err != nil {
			return nil, err
		}
		return feed, nil
	}

	a := newApp(cfg, log, store, exClient, newFeed)
	a.public = rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	telegram := alerts.NewTelegram(cfg.Telegram, log)
	a.alerts = telegram
	a.updates = telegram
	if cfg.Metrics.EnabledValue() {
		a.prom = metrics.NewPrometheus()
		a.metrics = a.prom.Metrics
	}
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.timescale = writer
	return a, nil
}

func newApp(cfg *config.Config, log *zap.Logger, store state.Store, ex Exchange, newFeed FeedFactory) *App {
	if log == nil {
		log = zap.NewNop()
	}
	orders := state.NewOrderRepository(store)
	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		exchange: ex,
		newFeed:  newFeed,
		prices:   market.NewPriceCache(),
		pairs:    pairsFromConfig(cfg.Strategy),
		params:   hopParamsFromConfig(cfg.Strategy),
		account:  account.New(ex, cfg.Strategy.BalanceMaxFailures, log),
		executor: exec.New(ex, store, log),
		orders:   orders,
		tracker:  strategy.NewOrderTracker(orders),
		metrics:  metrics.NewNoop(),
		sleep:    sleepContext,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func pairsFromConfig(s config.StrategyConfig) market.Pairs {
	return market.Pairs{AssetAQuote: s.AssetAPair, AssetBQuote: s.AssetBPair, Cross: s.CrossPair}
}

func hopParamsFromConfig(s config.StrategyConfig) strategy.HopParams {
	return strategy.HopParams{
		Assets:          strategy.Assets{A: s.AssetA, B: s.AssetB},
		Pair:            s.OrderPair,
		LeaveAThreshold: s.LeaveAThreshold,
		LeaveBThreshold: s.LeaveBThreshold,
		PriceDecimals:   int32(s.PriceDecimals),
		VolumeDecimals:  int32(s.VolumeDecimals),
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()
	err := a.run(ctx)
	if errors.Is(err, ErrFatal) {
		a.notifyFatal(ctx, err)
	}
	return err
}

func (a *App) run(ctx context.Context) error {
	if nonces, ok := a.exchange.(*exchange.Client); ok && a.store != nil {
		if err := nonces.InitNonceStore(ctx, a.store); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		} else if st, ok := nonces.NonceState(); ok {
			a.log.Info("nonce persistence enabled", zap.String("nonce_key", st.Key), zap.Uint64("nonce_seed", st.Last))
		}
	}
	if err := a.tracker.Load(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	if err := a.recoverInflight(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	current := a.tracker.Current()
	a.log.Info("order records loaded",
		zap.Float64("current_price", current.Price),
		zap.Bool("current_completed", current.Completed),
		zap.Float64("last_completed_price", a.tracker.LastCompleted().Price),
	)
	a.checkExchange(ctx)
	if a.timescale != nil {
		a.timescale.Start(ctx)
	}
	a.startMetrics(ctx)
	a.startOperator(ctx)

	if _, err := a.account.Refresh(ctx); err != nil {
		if errors.Is(err, account.ErrBalanceUnavailable) {
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
		a.log.Warn("initial balance fetch failed", zap.Error(err))
	}

	for {
		err := a.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		cooldown := a.cfg.Strategy.ReconnectCooldown
		a.metrics.Reconnects.Inc()
		a.log.Warn("book stream closed", zap.Duration("reconnect_in", cooldown))
		a.notify(ctx, fmt.Sprintf("Stream closed from Kraken, will try to reconnect in %s.", cooldown))
		if err := a.sleep(ctx, cooldown); err != nil {
			return err
		}
	}
}

// runSession drives ticks over one feed. It returns nil once the feed is
// closed and the caller should reconnect.
func (a *App) runSession(ctx context.Context) error {
	feed, err := a.newFeed(ctx)
	if err != nil {
		a.log.Warn("book stream connect failed", zap.Error(err))
		return nil
	}
	defer feed.Close()
	a.log.Info("book stream connected", zap.Strings("pairs", a.pairs.List()))

	interval := a.cfg.Strategy.TickInterval
	if a.tracker.State() == strategy.StatePending {
		interval = a.cfg.Strategy.PendingTickInterval
	}
	for {
		if err := a.sleep(ctx, interval); err != nil {
			return err
		}
		interval, err = a.tick(ctx, feed)
		if err != nil {
			return err
		}
		if feed.Closed() {
			return nil
		}
	}
}

// tick runs one decision step and returns how long to wait before the next.
func (a *App) tick(ctx context.Context, feed BookFeed) (time.Duration, error) {
	nominal := a.cfg.Strategy.TickInterval
	pending := a.cfg.Strategy.PendingTickInterval
	if a.tracker.State() == strategy.StatePending {
		return a.pollPending(ctx), nil
	}

	if err := market.UpdatePrices(a.prices, a.pairs, feed.Books()); err != nil {
		a.metrics.TickErrors.Inc()
		a.log.Warn("price update skipped", zap.Error(err))
		return nominal, nil
	}
	raw, err := a.account.Refresh(ctx)
	if err != nil {
		if errors.Is(err, account.ErrBalanceDeferred) {
			a.metrics.TickErrors.Inc()
			return nominal, nil
		}
		return 0, fmt.Errorf("%w: %w", ErrFatal, err)
	}

	prices := a.prices.Snapshot()
	balance := strategy.Balance(raw)
	record := a.tracker.Current()
	pos := strategy.ClassifyPosition(balance, prices, a.params.Assets)
	gain, hasGain := strategy.EvaluateGain(pos, record, prices)
	a.observe(prices, balance, pos, record, gain, hasGain)
	if !hasGain {
		return nominal, nil
	}
	decision, ok := strategy.DecideHop(pos, gain, balance, prices.Cross, a.params)
	if !ok {
		return nominal, nil
	}
	if a.isPaused() {
		a.log.Info("hop skipped: trading paused", zap.String("from", string(decision.From)), zap.Float64("gain", decision.Gain))
		return nominal, nil
	}
	risk := a.riskConfig()
	if err := strategy.CheckConnectivity(risk, feed.LastUpdate(), a.now()); err != nil {
		a.metrics.TickErrors.Inc()
		a.log.Warn("hop skipped", zap.Error(err))
		return nominal, nil
	}
	if err := strategy.CheckRisk(risk, decision); err != nil {
		a.log.Warn("hop skipped", zap.Error(err), zap.String("volume", decision.Volume.String()))
		return nominal, nil
	}
	if err := a.submitHop(ctx, decision); err != nil {
		return 0, err
	}
	return pending, nil
}

func (a *App) pollPending(ctx context.Context) time.Duration {
	nominal := a.cfg.Strategy.TickInterval
	pending := a.cfg.Strategy.PendingTickInterval
	open, err := a.executor.OpenOrders(ctx)
	if err != nil {
		a.metrics.TickErrors.Inc()
		a.log.Warn("open orders poll failed", zap.Error(err))
		return pending
	}
	if len(open) > 0 {
		a.log.Debug("order still open", zap.Strings("txids", open))
		return pending
	}
	filled, err := a.tracker.Complete(ctx)
	if err != nil {
		a.metrics.TickErrors.Inc()
		a.log.Error("failed to record fill", zap.Error(err))
		return pending
	}
	if !filled {
		// Reverted, or claimed by a revert, since the state check.
		return nominal
	}
	rec := a.tracker.Current()
	a.metrics.OrdersFilled.Inc()
	a.log.Info("order filled", zap.Float64("price", rec.Price))
	a.notify(ctx, "Last order seems to have been filled 🎉💰")
	a.recordOrder(timescale.OrderEvent{Kind: "filled", Pair: a.params.Pair, Price: rec.Price})
	return nominal
}

func (a *App) submitHop(ctx context.Context, decision strategy.HopDecision) error {
	order := exchange.LimitOrder{
		Pair:          decision.Pair,
		Side:          exchange.Side(decision.Side),
		Volume:        decision.Volume,
		Price:         decimal.NewFromFloat(decision.LimitPrice).Round(a.params.PriceDecimals),
		ClientOrderID: exec.NewClientOrderID(),
	}
	intent := state.InflightOrder{
		ClientOrderID: order.ClientOrderID,
		Pair:          order.Pair,
		Side:          string(order.Side),
		Volume:        order.Volume.String(),
		Price:         decision.LimitPrice,
		CreatedAt:     a.now(),
	}
	if err := a.orders.SaveInflight(ctx, intent); err != nil {
		return fmt.Errorf("%w: persist order intent: %w", ErrFatal, err)
	}
	// A failed submission keeps the intent so the next start can tell whether
	// the order reached the exchange.
	desc, err := a.executor.PlaceOrder(ctx, order)
	if err != nil {
		a.metrics.OrdersFailed.Inc()
		return fmt.Errorf("%w: submit %s %s: %w", ErrFatal, order.Side, order.Pair, err)
	}
	a.metrics.OrdersPlaced.Inc()
	if err := a.tracker.Submitted(ctx, decision.LimitPrice); err != nil {
		return fmt.Errorf("%w: order %s placed but not recorded: %w", ErrFatal, desc, err)
	}
	a.finishInflight(ctx, intent.ClientOrderID)
	a.account.MarkStale()
	a.log.Info("hop order placed",
		zap.String("order", desc.String()),
		zap.Strings("txids", desc.TxIDs),
		zap.String("side", string(decision.Side)),
		zap.String("volume", decision.Volume.String()),
		zap.Float64("price", decision.LimitPrice),
		zap.Float64("gain", decision.Gain),
		zap.String("from", string(decision.From)),
		zap.String("to", string(decision.To)),
	)
	a.notify(ctx, formatOrderPlaced(desc, decision))
	txid := ""
	if len(desc.TxIDs) > 0 {
		txid = desc.TxIDs[0]
	}
	a.recordOrder(timescale.OrderEvent{
		Kind:   "placed",
		Side:   string(decision.Side),
		Pair:   decision.Pair,
		Volume: decision.Volume.InexactFloat64(),
		Price:  decision.LimitPrice,
		TxID:   txid,
		Gain:   decision.Gain,
	})
	return nil
}

func formatOrderPlaced(desc exchange.OrderDescriptor, decision strategy.HopDecision) string {
	return strings.Join([]string{
		"Placed an order: 💰",
		desc.String(),
		"Summary: 📂",
		fmt.Sprintf("PRICE: %s", decimal.NewFromFloat(decision.LimitPrice).String()),
		fmt.Sprintf("GAIN: %.3f%%", decision.Gain*100),
		fmt.Sprintf("POSITION: %s -> %s", decision.From, decision.To),
		fmt.Sprintf("VOLUME: %s", decision.Volume.StringFixed(5)),
	}, "\n")
}

// checkExchange logs the exchange status and warns when the order pair's
// precision differs from the configured rounding. Failures are not fatal.
func (a *App) checkExchange(ctx context.Context) {
	if a.public == nil {
		return
	}
	status, err := a.public.SystemStatus(ctx)
	switch {
	case err != nil:
		a.log.Warn("system status check failed", zap.Error(err))
	case !status.Online():
		a.log.Warn("exchange not online", zap.String("status", status.Status))
	default:
		a.log.Info("exchange online", zap.String("timestamp", status.Timestamp))
	}
	pairName := a.params.Pair
	pairs, err := a.public.AssetPairs(ctx, pairName)
	if err != nil {
		a.log.Warn("asset pair lookup failed", zap.String("pair", pairName), zap.Error(err))
		return
	}
	pair, ok := rest.FindPair(pairs, pairName)
	if !ok {
		a.log.Warn("order pair not listed", zap.String("pair", pairName))
		return
	}
	if pair.PairDecimals != a.params.PriceDecimals {
		a.log.Warn("price precision mismatch",
			zap.String("pair", pairName),
			zap.Int32("exchange", pair.PairDecimals),
			zap.Int32("configured", a.params.PriceDecimals),
		)
	}
	if pair.LotDecimals != a.params.VolumeDecimals {
		a.log.Warn("volume precision mismatch",
			zap.String("pair", pairName),
			zap.Int32("exchange", pair.LotDecimals),
			zap.Int32("configured", a.params.VolumeDecimals),
		)
	}
}

func (a *App) startMetrics(ctx context.Context) {
	if a.prom == nil {
		return
	}
	go func() {
		if err := a.prom.Serve(ctx, a.cfg.Metrics.Address, a.cfg.Metrics.Path, a.log); err != nil {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

func (a *App) notify(ctx context.Context, message string) {
	if a.alerts == nil {
		return
	}
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("telegram notify failed", zap.Error(err))
	}
}

func (a *App) notifyFatal(ctx context.Context, err error) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	a.notify(sendCtx, fmt.Sprintf("Bot stopped: %v", err))
}

func (a *App) close() {
	if a.timescale != nil {
		if err := a.timescale.Close(); err != nil {
			a.log.Warn("timescale close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("state store close failed", zap.Error(err))
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
