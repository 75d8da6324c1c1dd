package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	State     StateConfig     `yaml:"state"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// Key and Secret are usually supplied through KRAKEN_API_KEY / KRAKEN_API_SECRET.
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`
}

type WSConfig struct {
	URL          string        `yaml:"url"`
	BookDepth    int           `yaml:"book_depth"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type StrategyConfig struct {
	AssetA     string `yaml:"asset_a"`
	AssetB     string `yaml:"asset_b"`
	AssetAPair string `yaml:"asset_a_pair"`
	AssetBPair string `yaml:"asset_b_pair"`
	CrossPair  string `yaml:"cross_pair"`
	OrderPair  string `yaml:"order_pair"`
	Quote      string `yaml:"quote"`

	LeaveAThreshold float64 `yaml:"leave_a_threshold"`
	LeaveBThreshold float64 `yaml:"leave_b_threshold"`
	PriceDecimals   int     `yaml:"price_decimals"`
	VolumeDecimals  int     `yaml:"volume_decimals"`

	TickInterval        time.Duration `yaml:"tick_interval"`
	PendingTickInterval time.Duration `yaml:"pending_tick_interval"`
	ReconnectCooldown   time.Duration `yaml:"reconnect_cooldown"`
	BalanceMaxFailures  int           `yaml:"balance_max_failures"`
}

type RiskConfig struct {
	MinOrderVolume float64       `yaml:"min_order_volume"`
	MaxBookAge     time.Duration `yaml:"max_book_age"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.kraken.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://ws.kraken.com"
	}
	if cfg.WS.BookDepth == 0 {
		cfg.WS.BookDepth = 10
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hop-bot.db"
	}
	applyStrategyDefaults(&cfg.Strategy)
	if cfg.Risk.MaxBookAge == 0 {
		cfg.Risk.MaxBookAge = 2 * time.Minute
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func applyStrategyDefaults(s *StrategyConfig) {
	if s.AssetA == "" {
		s.AssetA = "XXBT"
	}
	if s.AssetB == "" {
		s.AssetB = "XETH"
	}
	if s.AssetAPair == "" {
		s.AssetAPair = "XBT/EUR"
	}
	if s.AssetBPair == "" {
		s.AssetBPair = "ETH/EUR"
	}
	if s.CrossPair == "" {
		s.CrossPair = "ETH/XBT"
	}
	if s.OrderPair == "" {
		s.OrderPair = strings.ReplaceAll(s.CrossPair, "/", "")
	}
	if s.Quote == "" {
		s.Quote = "EUR"
	}
	if s.LeaveAThreshold == 0 {
		s.LeaveAThreshold = 0.02
	}
	if s.LeaveBThreshold == 0 {
		s.LeaveBThreshold = 0.05
	}
	if s.PriceDecimals == 0 {
		s.PriceDecimals = 5
	}
	if s.VolumeDecimals == 0 {
		s.VolumeDecimals = 8
	}
	if s.TickInterval == 0 {
		s.TickInterval = 5 * time.Second
	}
	if s.PendingTickInterval == 0 {
		s.PendingTickInterval = 30 * time.Second
	}
	if s.ReconnectCooldown == 0 {
		s.ReconnectCooldown = 10 * time.Second
	}
	if s.BalanceMaxFailures == 0 {
		s.BalanceMaxFailures = 1
	}
}

func applyEnvOverrides(cfg *Config) {
	if val := strings.TrimSpace(os.Getenv("KRAKEN_API_KEY")); val != "" {
		cfg.REST.Key = val
	}
	if val := strings.TrimSpace(os.Getenv("KRAKEN_API_SECRET")); val != "" {
		cfg.REST.Secret = val
	}
	if val := strings.TrimSpace(os.Getenv("HOP_TELEGRAM_TOKEN")); val != "" {
		cfg.Telegram.Token = val
	}
	if val := strings.TrimSpace(os.Getenv("HOP_TELEGRAM_CHAT_ID")); val != "" {
		cfg.Telegram.ChatID = val
	}
	if val := strings.TrimSpace(os.Getenv("HOP_TIMESCALE_DSN")); val != "" {
		cfg.Timescale.DSN = val
	}
}

func validate(cfg *Config) error {
	s := cfg.Strategy
	if s.AssetA == s.AssetB {
		return errors.New("strategy.asset_a and strategy.asset_b must differ")
	}
	if s.AssetAPair == s.AssetBPair || s.AssetAPair == s.CrossPair || s.AssetBPair == s.CrossPair {
		return errors.New("strategy pairs must be distinct")
	}
	if s.LeaveAThreshold <= 0 || s.LeaveBThreshold <= 0 {
		return errors.New("strategy thresholds must be > 0")
	}
	if s.LeaveBThreshold <= s.LeaveAThreshold {
		return errors.New("strategy.leave_b_threshold must exceed strategy.leave_a_threshold")
	}
	if s.PriceDecimals < 0 || s.VolumeDecimals < 0 {
		return errors.New("strategy decimals must be >= 0")
	}
	if s.TickInterval < 0 || s.PendingTickInterval < 0 || s.ReconnectCooldown < 0 {
		return errors.New("strategy intervals must be >= 0")
	}
	if s.BalanceMaxFailures < 0 {
		return errors.New("strategy.balance_max_failures must be >= 0")
	}
	if cfg.Risk.MinOrderVolume < 0 {
		return errors.New("risk.min_order_volume must be >= 0")
	}
	if cfg.Risk.MaxBookAge < 0 {
		return errors.New("risk.max_book_age must be >= 0")
	}
	if cfg.WS.BookDepth < 0 {
		return errors.New("ws.book_depth must be >= 0")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Metrics.EnabledValue() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
