package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/websocket"
)

// EnvPrefix 环境变量覆盖 toml，例如 TOKENBAR_SETTINGS_QUOTE_MODE=USDC
const EnvPrefix = "TOKENBAR_"

type Config struct {
	App struct {
		LogLevel         string `toml:"log_level" env:"LOG_LEVEL"`
		RenderEverySec   int    `toml:"render_every_sec" env:"RENDER_EVERY_SEC"`
		PersistEverySec  int    `toml:"persist_every_sec" env:"PERSIST_EVERY_SEC"`
		SnapshotEveryMin int    `toml:"snapshot_every_min" env:"SNAPSHOT_EVERY_MIN"`
		NoColor          bool   `toml:"no_color" env:"NO_COLOR"`
	} `toml:"app" envPrefix:"APP_"`

	Tokens struct {
		List   []string `toml:"list" env:"LIST" envSeparator:","`
		Hidden []string `toml:"hidden" env:"HIDDEN" envSeparator:","`
	} `toml:"tokens" envPrefix:"TOKENS_"`

	Settings struct {
		QuoteMode  string `toml:"quote_mode" env:"QUOTE_MODE"`
		DataSource string `toml:"data_source" env:"DATA_SOURCE"`
		Scope      string `toml:"scope" env:"SCOPE"`
	} `toml:"settings" envPrefix:"SETTINGS_"`

	Connection struct {
		MaxRetries          int `toml:"max_retries" env:"MAX_RETRIES"`
		InitialDelayMs      int `toml:"initial_delay_ms" env:"INITIAL_DELAY_MS"`
		MaxDelaySec         int `toml:"max_delay_sec" env:"MAX_DELAY_SEC"`
		PingIntervalSec     int `toml:"ping_interval_sec" env:"PING_INTERVAL_SEC"`
		ReadTimeoutSec      int `toml:"read_timeout_sec" env:"READ_TIMEOUT_SEC"`
		HandshakeTimeoutSec int `toml:"handshake_timeout_sec" env:"HANDSHAKE_TIMEOUT_SEC"`
		WriteTimeoutSec     int `toml:"write_timeout_sec" env:"WRITE_TIMEOUT_SEC"`
		SettleDelayMs       int `toml:"settle_delay_ms" env:"SETTLE_DELAY_MS"`
	} `toml:"connection" envPrefix:"CONNECTION_"`

	Throttle struct {
		IntervalMs int `toml:"interval_ms" env:"INTERVAL_MS"`
	} `toml:"throttle" envPrefix:"THROTTLE_"`

	Aggregator struct {
		WatchdogIntervalSec int     `toml:"watchdog_interval_sec" env:"WATCHDOG_INTERVAL_SEC"`
		StaleThresholdSec   int     `toml:"stale_threshold_sec" env:"STALE_THRESHOLD_SEC"`
		StaleConfirmations  int     `toml:"stale_confirmations" env:"STALE_CONFIRMATIONS"`
		MaxFXDeviation      float64 `toml:"max_fx_deviation" env:"MAX_FX_DEVIATION"`
	} `toml:"aggregator" envPrefix:"AGGREGATOR_"`

	Sparkline struct {
		WindowSec int `toml:"window_sec" env:"WINDOW_SEC"`
		MaxPoints int `toml:"max_points" env:"MAX_POINTS"`
	} `toml:"sparkline" envPrefix:"SPARKLINE_"`

	Governor struct {
		MaxConnections   int `toml:"max_connections" env:"MAX_CONNECTIONS"`
		MaxSubscriptions int `toml:"max_subscriptions" env:"MAX_SUBSCRIPTIONS"`
	} `toml:"governor" envPrefix:"GOVERNOR_"`

	Exchange struct {
		Binance struct {
			WsURL string `toml:"ws_url" env:"WS_URL"` // e.g. wss://fstream.binance.com
		} `toml:"binance" envPrefix:"BINANCE_"`

		Coinbase struct {
			WsURL string `toml:"ws_url" env:"WS_URL"`
		} `toml:"coinbase" envPrefix:"COINBASE_"`

		Bitstamp struct {
			WsURL string `toml:"ws_url" env:"WS_URL"`
		} `toml:"bitstamp" envPrefix:"BITSTAMP_"`
	} `toml:"exchange" envPrefix:"EXCHANGE_"`

	Storage struct {
		Enabled bool `toml:"enabled" env:"ENABLED"`

		// MaxStatusEvents sqlite / postgres 每个 symbol 保留的状态事件条数
		MaxStatusEvents int `toml:"max_status_events" env:"MAX_STATUS_EVENTS"`

		Redis struct {
			Enabled       bool   `toml:"enabled" env:"ENABLED"`
			Addr          string `toml:"addr" env:"ADDR"`
			Password      string `toml:"password" env:"PASSWORD"`
			DB            int    `toml:"db" env:"DB"`
			Prefix        string `toml:"prefix" env:"PREFIX"`
			TTLSeconds    int    `toml:"ttl_seconds" env:"TTL_SECONDS"`
			StatusStream  string `toml:"status_stream" env:"STATUS_STREAM"`
			StatusChannel string `toml:"status_channel" env:"STATUS_CHANNEL"`
			StreamMaxLen  int64  `toml:"stream_max_len" env:"STREAM_MAX_LEN"`
		} `toml:"redis" envPrefix:"REDIS_"`

		SQLite struct {
			Enabled bool   `toml:"enabled" env:"ENABLED"`
			Path    string `toml:"path" env:"PATH"`
		} `toml:"sqlite" envPrefix:"SQLITE_"`

		Postgres struct {
			Enabled bool   `toml:"enabled" env:"ENABLED"`
			DSN     string `toml:"dsn" env:"DSN"`
		} `toml:"postgres" envPrefix:"POSTGRES_"`
	} `toml:"storage" envPrefix:"STORAGE_"`
}

// Load toml -> .env / 环境变量覆盖 -> 默认值 -> 校验。path 为空时只用环境变量和默认值。
func Load(path string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// .env 可选
	_ = godotenv.Load()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.RenderEverySec <= 0 {
		cfg.App.RenderEverySec = 1
	}
	if cfg.App.PersistEverySec <= 0 {
		cfg.App.PersistEverySec = 5
	}
	if cfg.App.SnapshotEveryMin < 0 {
		cfg.App.SnapshotEveryMin = 0
	}

	def := domain.DefaultSettings()
	if cfg.Settings.QuoteMode == "" {
		cfg.Settings.QuoteMode = string(def.QuoteMode)
	}
	if cfg.Settings.DataSource == "" {
		cfg.Settings.DataSource = string(def.DataSource)
	}
	if cfg.Settings.Scope == "" {
		cfg.Settings.Scope = string(def.Scope)
	}

	conn := websocket.DefaultConfig()
	if cfg.Connection.MaxRetries <= 0 {
		cfg.Connection.MaxRetries = conn.Retry.MaxRetries
	}
	if cfg.Connection.InitialDelayMs <= 0 {
		cfg.Connection.InitialDelayMs = int(conn.Retry.InitialDel / time.Millisecond)
	}
	if cfg.Connection.MaxDelaySec <= 0 {
		cfg.Connection.MaxDelaySec = int(conn.Retry.MaxDelay / time.Second)
	}
	if cfg.Connection.PingIntervalSec <= 0 {
		cfg.Connection.PingIntervalSec = int(conn.PingInterval / time.Second)
	}
	if cfg.Connection.ReadTimeoutSec <= 0 {
		cfg.Connection.ReadTimeoutSec = int(conn.ReadTimeout / time.Second)
	}
	if cfg.Connection.HandshakeTimeoutSec <= 0 {
		cfg.Connection.HandshakeTimeoutSec = int(conn.HandshakeTimeout / time.Second)
	}
	if cfg.Connection.WriteTimeoutSec <= 0 {
		cfg.Connection.WriteTimeoutSec = int(conn.WriteTimeout / time.Second)
	}
	if cfg.Connection.SettleDelayMs <= 0 {
		cfg.Connection.SettleDelayMs = int(conn.SettleDelay / time.Millisecond)
	}

	if cfg.Throttle.IntervalMs <= 0 {
		cfg.Throttle.IntervalMs = 100
	}

	if cfg.Aggregator.WatchdogIntervalSec <= 0 {
		cfg.Aggregator.WatchdogIntervalSec = 10
	}
	if cfg.Aggregator.StaleThresholdSec <= 0 {
		cfg.Aggregator.StaleThresholdSec = 30
	}
	if cfg.Aggregator.StaleConfirmations <= 0 {
		cfg.Aggregator.StaleConfirmations = 2
	}
	if cfg.Aggregator.MaxFXDeviation <= 0 {
		cfg.Aggregator.MaxFXDeviation = 0.1
	}

	if cfg.Sparkline.WindowSec <= 0 {
		cfg.Sparkline.WindowSec = int(domain.DefaultSparklineWindow / time.Second)
	}
	if cfg.Sparkline.MaxPoints <= 0 {
		cfg.Sparkline.MaxPoints = domain.DefaultSparklineMaxPoints
	}

	if cfg.Governor.MaxConnections <= 0 {
		cfg.Governor.MaxConnections = 3
	}
	if cfg.Governor.MaxSubscriptions <= 0 {
		cfg.Governor.MaxSubscriptions = 200
	}

	if cfg.Storage.MaxStatusEvents <= 0 {
		cfg.Storage.MaxStatusEvents = 100
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "tokenbar"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/tokenbar.db"
	}
}

func validate(cfg *Config) error {
	cfg.Tokens.List = normalizeSymbols(cfg.Tokens.List)
	cfg.Tokens.Hidden = normalizeSymbols(cfg.Tokens.Hidden)
	if len(cfg.Tokens.List) == 0 {
		return errors.New("tokens.list is empty")
	}

	if _, err := domain.ParseQuoteMode(cfg.Settings.QuoteMode); err != nil {
		return fmt.Errorf("settings.quote_mode: %w", err)
	}
	if _, err := domain.ParseSource(cfg.Settings.DataSource); err != nil {
		return fmt.Errorf("settings.data_source: %w", err)
	}
	switch domain.SubscriptionScope(strings.ToLower(cfg.Settings.Scope)) {
	case domain.ScopeVisible, domain.ScopeAll:
	default:
		return fmt.Errorf("settings.scope %q must be visible or all", cfg.Settings.Scope)
	}

	if cfg.Aggregator.MaxFXDeviation >= 1 {
		return errors.New("aggregator.max_fx_deviation must be below 1")
	}

	if cfg.Storage.Enabled {
		if cfg.Storage.Redis.Enabled && strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			return errors.New("storage.redis.addr empty but enabled")
		}
		if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn empty but enabled")
		}
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// TokenList 按配置顺序生成 token，hidden 中的设为不可见
func (c *Config) TokenList() []domain.Token {
	hidden := make(map[string]struct{}, len(c.Tokens.Hidden))
	for _, s := range c.Tokens.Hidden {
		hidden[s] = struct{}{}
	}
	out := make([]domain.Token, 0, len(c.Tokens.List))
	for i, s := range c.Tokens.List {
		_, h := hidden[s]
		out = append(out, domain.NewToken(s, !h, i))
	}
	return out
}

// UserSettings validate 之后调用，不会失败
func (c *Config) UserSettings() domain.Settings {
	mode, _ := domain.ParseQuoteMode(c.Settings.QuoteMode)
	src, _ := domain.ParseSource(c.Settings.DataSource)
	return domain.Settings{
		QuoteMode:  mode,
		DataSource: src,
		Scope:      domain.SubscriptionScope(strings.ToLower(c.Settings.Scope)),
	}
}

func (c *Config) ConnConfig() websocket.Config {
	cc := c.Connection
	return websocket.Config{
		Retry: websocket.RetryConfig{
			MaxRetries: cc.MaxRetries,
			InitialDel: time.Duration(cc.InitialDelayMs) * time.Millisecond,
			MaxDelay:   time.Duration(cc.MaxDelaySec) * time.Second,
		},
		PingInterval:     time.Duration(cc.PingIntervalSec) * time.Second,
		ReadTimeout:      time.Duration(cc.ReadTimeoutSec) * time.Second,
		HandshakeTimeout: time.Duration(cc.HandshakeTimeoutSec) * time.Second,
		WriteTimeout:     time.Duration(cc.WriteTimeoutSec) * time.Second,
		SettleDelay:      time.Duration(cc.SettleDelayMs) * time.Millisecond,
	}
}

func (c *Config) ThrottleInterval() time.Duration {
	return time.Duration(c.Throttle.IntervalMs) * time.Millisecond
}

func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Aggregator.WatchdogIntervalSec) * time.Second
}

func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.Aggregator.StaleThresholdSec) * time.Second
}

func (c *Config) MaxFXDeviation() decimal.Decimal {
	return decimal.NewFromFloat(c.Aggregator.MaxFXDeviation)
}

func (c *Config) SparklineWindow() time.Duration {
	return time.Duration(c.Sparkline.WindowSec) * time.Second
}

func (c *Config) RenderEvery() time.Duration {
	return time.Duration(c.App.RenderEverySec) * time.Second
}

func (c *Config) PersistEvery() time.Duration {
	return time.Duration(c.App.PersistEverySec) * time.Second
}

func (c *Config) SnapshotEvery() time.Duration {
	return time.Duration(c.App.SnapshotEveryMin) * time.Minute
}

// WsURL 某个数据源配置的地址，空串表示用交易所包的默认值
func (c *Config) WsURL(src domain.Source) string {
	switch src {
	case domain.SourceBinance:
		return c.Exchange.Binance.WsURL
	case domain.SourceCoinbase:
		return c.Exchange.Coinbase.WsURL
	case domain.SourceBitstamp:
		return c.Exchange.Bitstamp.WsURL
	default:
		return ""
	}
}
