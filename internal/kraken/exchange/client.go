package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.kraken.com"

// Client calls the private REST endpoints. Nonces are strictly increasing
// and, once a NonceStore is attached, survive restarts.
type Client struct {
	baseURL       string
	http          *http.Client
	signer        *Signer
	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	nonceStore    NonceStore
	nonceKey      string
	log           *zap.Logger
	persistMu     sync.Mutex
	persistWarned atomic.Bool
}

type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type NonceState struct {
	Key       string
	Last      uint64
	Persisted uint64
}

func NewClient(baseURL string, timeout time.Duration, signer *Signer) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		signer: signer,
		log:    zap.NewNop(),
	}, nil
}

func (c *Client) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	c.log = log
}

// Balance returns every asset the account holds, keyed by Kraken asset code.
func (c *Client) Balance(ctx context.Context) (map[string]decimal.Decimal, error) {
	var raw map[string]string
	if err := c.private(ctx, "/0/private/Balance", url.Values{}, &raw); err != nil {
		return nil, err
	}
	balance := make(map[string]decimal.Decimal, len(raw))
	for asset, qty := range raw {
		val, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("balance %s %q: %w", asset, qty, err)
		}
		balance[asset] = val
	}
	return balance, nil
}

func (c *Client) AddOrder(ctx context.Context, order LimitOrder) (OrderDescriptor, error) {
	if order.Side != SideBuy && order.Side != SideSell {
		return OrderDescriptor{}, fmt.Errorf("invalid order side %q", order.Side)
	}
	if !order.Volume.IsPositive() || !order.Price.IsPositive() {
		return OrderDescriptor{}, errors.New("order volume and price must be positive")
	}
	form := url.Values{}
	form.Set("ordertype", "limit")
	form.Set("type", string(order.Side))
	form.Set("pair", order.Pair)
	form.Set("volume", order.Volume.String())
	form.Set("price", order.Price.String())
	if order.OFlags != "" {
		form.Set("oflags", order.OFlags)
	}
	if order.ClientOrderID != "" {
		form.Set("cl_ord_id", order.ClientOrderID)
	}
	var res addOrderResult
	if err := c.private(ctx, "/0/private/AddOrder", form, &res); err != nil {
		return OrderDescriptor{}, err
	}
	if len(res.TxID) == 0 {
		return OrderDescriptor{}, errors.New("kraken: order accepted without txid")
	}
	return OrderDescriptor{TxIDs: res.TxID, Description: res.Descr.Order}, nil
}

// OpenOrders returns the txids of every open order, sorted.
func (c *Client) OpenOrders(ctx context.Context) ([]string, error) {
	var res openOrdersResult
	if err := c.private(ctx, "/0/private/OpenOrders", url.Values{}, &res); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Open))
	for id := range res.Open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *Client) CancelAll(ctx context.Context) (int, error) {
	var res cancelAllResult
	if err := c.private(ctx, "/0/private/CancelAll", url.Values{}, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := nonceStoreKey(c.baseURL, c.signer)
	now := uint64(time.Now().UnixMilli())
	seed := now
	if raw, ok, err := store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		if parsed > seed {
			seed = parsed
		}
	}
	if current := c.lastNonce.Load(); current > seed {
		seed = current
	}
	c.nonceStore = store
	c.nonceKey = key
	c.lastNonce.Store(seed)
	c.lastPersisted.Store(seed)
	return nil
}

func (c *Client) NonceState() (NonceState, bool) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return NonceState{}, false
	}
	return NonceState{
		Key:       c.nonceKey,
		Last:      c.lastNonce.Load(),
		Persisted: c.lastPersisted.Load(),
	}, true
}

func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, next) {
			c.persistNonce(next)
			return next
		}
	}
}

func (c *Client) persistNonce(nonce uint64) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if nonce <= c.lastPersisted.Load() {
		return
	}
	if err := c.nonceStore.Set(context.Background(), c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		c.logPersistError(err)
		return
	}
	c.lastPersisted.Store(nonce)
	c.persistWarned.Store(false)
}

func (c *Client) logPersistError(err error) {
	if c.log == nil {
		return
	}
	if c.persistWarned.CompareAndSwap(false, true) {
		c.log.Warn("nonce persistence failed", zap.String("nonce_key", c.nonceKey), zap.Error(err))
	}
}

func nonceStoreKey(baseURL string, signer *Signer) string {
	key := "unknown"
	if signer != nil && signer.Key() != "" {
		key = signer.Key()
		if len(key) > 8 {
			key = key[:8]
		}
	}
	return fmt.Sprintf("exchange:nonce:%s:%s", strings.ToLower(strings.TrimSpace(baseURL)), key)
}

func (c *Client) private(ctx context.Context, path string, form url.Values, out any) error {
	nonce := c.nextNonce()
	form.Set("nonce", strconv.FormatUint(nonce, 10))
	body := form.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	httpReq.Header.Set("API-Key", c.signer.Key())
	httpReq.Header.Set("API-Sign", c.signer.Sign(path, nonce, body))
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(payload) > 2048 {
			payload = payload[:2048]
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(payload))
	}
	if err := decodeEnvelope(payload, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
