package market

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"kraken-hop-bot/internal/kraken/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BookFeed maintains depth-limited books for a set of pairs from one
// websocket session. Once the session ends the feed reports Closed and a new
// feed must be started.
type BookFeed struct {
	ws    *ws.Client
	pairs []string
	depth int
	log   *zap.Logger

	mu         sync.RWMutex
	books      map[string]*orderBook
	lastUpdate time.Time

	closed  atomic.Bool
	started atomic.Bool
	done    chan struct{}
}

type orderBook struct {
	asks map[string]bookLevel
	bids map[string]bookLevel
}

func NewBookFeed(client *ws.Client, pairs []string, depth int, log *zap.Logger) *BookFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &BookFeed{
		ws:    client,
		pairs: append([]string(nil), pairs...),
		depth: depth,
		log:   log,
		books: make(map[string]*orderBook),
		done:  make(chan struct{}),
	}
}

// Start connects, subscribes to the book channel and runs the read loop in
// the background.
func (f *BookFeed) Start(ctx context.Context) error {
	if f.ws == nil {
		return errors.New("book feed has no websocket client")
	}
	if !f.started.CompareAndSwap(false, true) {
		return errors.New("book feed already started")
	}
	if err := f.ws.Connect(ctx); err != nil {
		f.finish()
		return err
	}
	sub := map[string]any{
		"event": "subscribe",
		"pair":  f.pairs,
		"subscription": map[string]any{
			"name":  "book",
			"depth": f.depth,
		},
	}
	if err := f.ws.Subscribe(ctx, sub); err != nil {
		f.ws.Close()
		f.finish()
		return err
	}
	go func() {
		defer f.finish()
		if err := f.ws.Run(ctx, f.handleMessage); err != nil && ctx.Err() == nil {
			f.log.Warn("book feed closed", zap.Error(err))
		}
	}()
	return nil
}

func (f *BookFeed) finish() {
	if f.closed.CompareAndSwap(false, true) {
		close(f.done)
	}
}

func (f *BookFeed) Closed() bool {
	return f.closed.Load()
}

// Close ends the session and waits for the read loop to stop.
func (f *BookFeed) Close() {
	if f.ws != nil {
		f.ws.Close()
	}
	if !f.started.Load() {
		f.finish()
	}
	<-f.done
}

func (f *BookFeed) LastUpdate() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastUpdate
}

// Books returns a copy of every book that has received its snapshot.
func (f *BookFeed) Books() map[string]Book {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Book, len(f.books))
	for pair, book := range f.books {
		out[pair] = Book{Asks: sidePrices(book.asks), Bids: sidePrices(book.bids)}
	}
	return out
}

func (f *BookFeed) handleMessage(raw json.RawMessage) {
	if isEventFrame(raw) {
		f.handleEvent(raw)
		return
	}
	msg, ok, err := parseBookMessage(raw)
	if err != nil {
		f.log.Warn("book frame dropped", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	f.apply(msg, time.Now().UTC())
}

func (f *BookFeed) handleEvent(raw json.RawMessage) {
	evt, err := parseEvent(raw)
	if err != nil {
		f.log.Warn("ws event dropped", zap.Error(err))
		return
	}
	switch evt.Event {
	case "heartbeat", "pong":
	case "systemStatus":
		f.log.Info("exchange system status", zap.String("status", evt.Status))
	case "subscriptionStatus":
		if evt.Status == "error" {
			f.log.Error("subscription rejected", zap.String("pair", evt.Pair), zap.String("error", evt.ErrorMessage))
			return
		}
		f.log.Info("subscription status",
			zap.String("pair", evt.Pair),
			zap.String("status", evt.Status),
			zap.String("channel", evt.Subscription.Name),
		)
	default:
		f.log.Debug("ws event ignored", zap.String("event", evt.Event))
	}
}

func (f *BookFeed) apply(msg bookMessage, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book, ok := f.books[msg.Pair]
	if msg.Snapshot || !ok {
		if !msg.Snapshot {
			// Updates before the snapshot cannot be applied.
			return
		}
		book = &orderBook{asks: make(map[string]bookLevel), bids: make(map[string]bookLevel)}
		f.books[msg.Pair] = book
	}
	applyLevels(book.asks, msg.Asks)
	applyLevels(book.bids, msg.Bids)
	if f.depth > 0 {
		truncateSide(book.asks, f.depth, false)
		truncateSide(book.bids, f.depth, true)
	}
	f.lastUpdate = now
}

func applyLevels(side map[string]bookLevel, levels []bookLevel) {
	for _, lvl := range levels {
		key := lvl.Price.String()
		if lvl.Volume.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = lvl
	}
}

// truncateSide keeps the depth best levels: lowest asks or highest bids.
func truncateSide(side map[string]bookLevel, depth int, descending bool) {
	if len(side) <= depth {
		return
	}
	prices := sortedPrices(side, descending)
	for _, p := range prices[depth:] {
		delete(side, p.String())
	}
}

func sortedPrices(side map[string]bookLevel, descending bool) []decimal.Decimal {
	prices := sidePrices(side)
	sort.Slice(prices, func(i, j int) bool {
		if descending {
			return prices[i].GreaterThan(prices[j])
		}
		return prices[i].LessThan(prices[j])
	})
	return prices
}

func sidePrices(side map[string]bookLevel) []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, len(side))
	for _, lvl := range side {
		prices = append(prices, lvl.Price)
	}
	return prices
}
