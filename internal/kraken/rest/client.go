package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client reads Kraken public endpoints. It needs no credentials.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type SystemStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s SystemStatus) Online() bool {
	return s.Status == "online"
}

// AssetPair holds the precision rules of one tradable pair.
type AssetPair struct {
	Altname      string `json:"altname"`
	WSName       string `json:"wsname"`
	Base         string `json:"base"`
	Quote        string `json:"quote"`
	PairDecimals int32  `json:"pair_decimals"`
	LotDecimals  int32  `json:"lot_decimals"`
	OrderMin     string `json:"ordermin"`
}

func (c *Client) SystemStatus(ctx context.Context) (SystemStatus, error) {
	var status SystemStatus
	if err := c.get(ctx, "/0/public/SystemStatus", nil, &status); err != nil {
		return SystemStatus{}, err
	}
	return status, nil
}

// AssetPairs returns pair info keyed by the exchange pair name.
func (c *Client) AssetPairs(ctx context.Context, pairs ...string) (map[string]AssetPair, error) {
	query := url.Values{}
	if len(pairs) > 0 {
		query.Set("pair", strings.Join(pairs, ","))
	}
	out := make(map[string]AssetPair)
	if err := c.get(ctx, "/0/public/AssetPairs", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindPair looks a pair up by key, altname or websocket name.
func FindPair(pairs map[string]AssetPair, name string) (AssetPair, bool) {
	if info, ok := pairs[name]; ok {
		return info, true
	}
	for _, info := range pairs {
		if info.Altname == name || info.WSName == name {
			return info, true
		}
	}
	return AssetPair{}, false
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var env struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if len(env.Error) > 0 {
		return fmt.Errorf("%s: kraken: %s", path, strings.Join(env.Error, "; "))
	}
	if len(env.Result) == 0 {
		return errors.New("kraken: empty result")
	}
	return json.Unmarshal(env.Result, out)
}
