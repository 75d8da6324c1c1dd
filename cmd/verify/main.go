package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kraken-hop-bot/internal/config"
	"kraken-hop-bot/internal/kraken/exchange"
	"kraken-hop-bot/internal/kraken/rest"
	"kraken-hop-bot/internal/logging"
	"kraken-hop-bot/internal/state/sqlite"
)

const (
	defaultRESTTimeout   = 10 * time.Second
	defaultVerifyEnvFile = ".env"
	defaultOrderPair     = "ETHXBT"
)

// verify checks that the configured API key can read balances and open
// orders, and prints the precision rules of the order pair. It never trades.
func main() {
	configPath := flag.String("config", "", "optional config path for REST settings")
	publicOnly := flag.Bool("public", false, "only run the public endpoint checks")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "info"}
	baseURL := exchange.DefaultBaseURL
	timeout := defaultRESTTimeout
	pair := defaultOrderPair
	statePath := ""
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
		logCfg = cfg.Log
		baseURL = cfg.REST.BaseURL
		timeout = cfg.REST.Timeout
		pair = cfg.Strategy.OrderPair
		statePath = cfg.State.SQLitePath
	}
	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	public := rest.New(baseURL, timeout, log)
	status, err := public.SystemStatus(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("system status: %s (%s)\n", status.Status, status.Timestamp)
	pairs, err := public.AssetPairs(ctx, pair)
	if err != nil {
		fatal(err)
	}
	info, ok := rest.FindPair(pairs, pair)
	if !ok {
		fatal(fmt.Errorf("asset pair %s not listed", pair))
	}
	fmt.Printf("pair %s: wsname=%s base=%s quote=%s price_decimals=%d lot_decimals=%d ordermin=%s\n",
		info.Altname, info.WSName, info.Base, info.Quote, info.PairDecimals, info.LotDecimals, info.OrderMin)
	if cfg != nil {
		if int(info.PairDecimals) != cfg.Strategy.PriceDecimals || int(info.LotDecimals) != cfg.Strategy.VolumeDecimals {
			fmt.Printf("warning: configured price_decimals=%d volume_decimals=%d differ from the exchange\n",
				cfg.Strategy.PriceDecimals, cfg.Strategy.VolumeDecimals)
		}
	}
	if *publicOnly {
		return
	}

	key := strings.TrimSpace(os.Getenv("KRAKEN_API_KEY"))
	secret := strings.TrimSpace(os.Getenv("KRAKEN_API_SECRET"))
	if cfg != nil {
		key, secret = cfg.REST.Key, cfg.REST.Secret
	}
	if key == "" || secret == "" {
		fatal(errors.New("KRAKEN_API_KEY and KRAKEN_API_SECRET are required"))
	}
	signer, err := exchange.NewSigner(key, secret)
	if err != nil {
		fatal(err)
	}
	exClient, err := exchange.NewClient(baseURL, timeout, signer)
	if err != nil {
		fatal(err)
	}
	exClient.SetLogger(log)
	// Share the bot's nonce high-water mark so this run cannot push the key's
	// nonce below what the bot will use next.
	if statePath != "" {
		if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
			log.Warn("nonce store init failed: " + err.Error())
		} else if store, err := sqlite.New(statePath); err != nil {
			log.Warn("nonce store init failed: " + err.Error())
		} else {
			defer store.Close()
			if err := exClient.InitNonceStore(ctx, store); err != nil {
				log.Warn("nonce store init failed: " + err.Error())
			}
		}
	}

	balance, err := exClient.Balance(ctx)
	if err != nil {
		fatal(err)
	}
	assets := make([]string, 0, len(balance))
	for asset := range balance {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	fmt.Printf("balance: %d assets\n", len(assets))
	for _, asset := range assets {
		fmt.Printf("  %-6s %s\n", asset, balance[asset].String())
	}
	open, err := exClient.OpenOrders(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("open orders: %d %v\n", len(open), open)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
