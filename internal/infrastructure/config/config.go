package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		Name               string `toml:"name"`
		ShutdownTimeoutSec int    `toml:"shutdown_timeout_sec"`
	} `toml:"app"`

	Log struct {
		Level  string `toml:"level"`  // debug | info | warn | error
		Format string `toml:"format"` // console | json
	} `toml:"log"`

	HTTP struct {
		Addr                string `toml:"addr"`
		WsPath              string `toml:"ws_path"`
		OutboundQueueSize   int    `toml:"outbound_queue_size"`
		MaxMessageBytes     int64  `toml:"max_message_bytes"`
		MaxSymbolsPerClient int    `toml:"max_symbols_per_client"`
		WriteTimeoutSec     int    `toml:"write_timeout_sec"`
		PongWaitSec         int    `toml:"pong_wait_sec"`
		SnapshotOnSubscribe bool   `toml:"snapshot_on_subscribe"`
	} `toml:"http"`

	Upstream struct {
		Exchange        string   `toml:"exchange"` // binance | bybit | okx | bitget
		WsURL           string   `toml:"ws_url"`
		Symbols         []string `toml:"symbols"` // always kept subscribed
		DialTimeoutSec  int      `toml:"dial_timeout_sec"`
		IdleTimeoutSec  int      `toml:"idle_timeout_sec"`
		PingIntervalSec int      `toml:"ping_interval_sec"`
		BackoffBaseMs   int      `toml:"backoff_base_ms"`
		BackoffMaxMs    int      `toml:"backoff_max_ms"`
		BackoffFactor   float64  `toml:"backoff_factor"`
		BackoffJitter   float64  `toml:"backoff_jitter"`
		MaxAttempts     int      `toml:"max_attempts"` // 0 = retry forever
	} `toml:"upstream"`

	Alerts struct {
		Enabled       bool `toml:"enabled"`
		Workers       int  `toml:"workers"`
		SymbolSyncSec int  `toml:"symbol_sync_sec"`
		CacheTTLMs    int  `toml:"cache_ttl_ms"`
		QueueCapacity int  `toml:"queue_capacity"`
	} `toml:"alerts"`

	Storage struct {
		Driver string `toml:"driver"` // memory | sqlite | postgres

		SQLite struct {
			Path string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			DSN          string `toml:"dsn"`
			MaxOpenConns int    `toml:"max_open_conns"`
		} `toml:"postgres"`
	} `toml:"storage"`

	Redis struct {
		Enabled          bool   `toml:"enabled"`
		Addr             string `toml:"addr"`
		Password         string `toml:"password"`
		DB               int    `toml:"db"`
		Prefix           string `toml:"prefix"`
		TTLSeconds       int    `toml:"ttl_seconds"`
		TriggerStream    string `toml:"trigger_stream"`
		TriggerChannel   string `toml:"trigger_channel"`
		SnapshotEverySec int    `toml:"snapshot_every_sec"`
	} `toml:"redis"`

	Notify struct {
		Channels     []string `toml:"channels"` // in_app | push | email | console
		MutedUserIDs []string `toml:"muted_user_ids"`
	} `toml:"notify"`
}

const (
	ExchangeBinance = "binance"
	ExchangeBybit   = "bybit"
	ExchangeOKX     = "okx"
	ExchangeBitget  = "bitget"

	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied, used by tests and when no file is given.
func Default() *Config {
	var cfg Config
	cfg.Alerts.Enabled = true
	cfg.HTTP.SnapshotOnSubscribe = true
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "pricehub"
	}
	if cfg.App.ShutdownTimeoutSec <= 0 {
		cfg.App.ShutdownTimeoutSec = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.WsPath == "" {
		cfg.HTTP.WsPath = "/ws"
	}
	if cfg.HTTP.OutboundQueueSize <= 0 {
		cfg.HTTP.OutboundQueueSize = 256
	}
	if cfg.HTTP.MaxMessageBytes <= 0 {
		cfg.HTTP.MaxMessageBytes = 64 * 1024
	}
	if cfg.HTTP.MaxSymbolsPerClient <= 0 {
		cfg.HTTP.MaxSymbolsPerClient = 100
	}
	if cfg.HTTP.WriteTimeoutSec <= 0 {
		cfg.HTTP.WriteTimeoutSec = 5
	}
	if cfg.HTTP.PongWaitSec <= 0 {
		cfg.HTTP.PongWaitSec = 60
	}

	cfg.Upstream.Exchange = strings.ToLower(strings.TrimSpace(cfg.Upstream.Exchange))
	if cfg.Upstream.Exchange == "" {
		cfg.Upstream.Exchange = ExchangeBinance
	}
	if cfg.Upstream.WsURL == "" {
		switch cfg.Upstream.Exchange {
		case ExchangeBybit:
			cfg.Upstream.WsURL = "wss://stream.bybit.com/v5/public/spot"
		case ExchangeOKX:
			cfg.Upstream.WsURL = "wss://ws.okx.com:8443/ws/v5/public"
		case ExchangeBitget:
			cfg.Upstream.WsURL = "wss://ws.bitget.com/v2/ws/public"
		default:
			cfg.Upstream.WsURL = "wss://stream.binance.com:9443/ws"
		}
	}
	if cfg.Upstream.DialTimeoutSec <= 0 {
		cfg.Upstream.DialTimeoutSec = 10
	}
	if cfg.Upstream.IdleTimeoutSec <= 0 {
		cfg.Upstream.IdleTimeoutSec = 60
	}
	if cfg.Upstream.PingIntervalSec <= 0 {
		cfg.Upstream.PingIntervalSec = 25
	}
	if cfg.Upstream.BackoffBaseMs <= 0 {
		cfg.Upstream.BackoffBaseMs = 1000
	}
	if cfg.Upstream.BackoffMaxMs <= 0 {
		cfg.Upstream.BackoffMaxMs = 30000
	}
	if cfg.Upstream.BackoffFactor <= 1 {
		cfg.Upstream.BackoffFactor = 2
	}
	if cfg.Upstream.BackoffJitter < 0 {
		cfg.Upstream.BackoffJitter = 0
	}

	if cfg.Alerts.Workers <= 0 {
		cfg.Alerts.Workers = 4
	}
	if cfg.Alerts.SymbolSyncSec <= 0 {
		cfg.Alerts.SymbolSyncSec = 30
	}
	if cfg.Alerts.QueueCapacity <= 0 {
		cfg.Alerts.QueueCapacity = 100000
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/pricehub.db"
	}
	if cfg.Storage.Postgres.MaxOpenConns <= 0 {
		cfg.Storage.Postgres.MaxOpenConns = 10
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "pricehub"
	}
	if cfg.Redis.SnapshotEverySec <= 0 {
		cfg.Redis.SnapshotEverySec = 5
	}

	if len(cfg.Notify.Channels) == 0 {
		cfg.Notify.Channels = []string{"in_app"}
	}
}

func validate(cfg *Config) error {
	cfg.Upstream.Symbols = NormalizeSymbols(cfg.Upstream.Symbols)
	cfg.Upstream.Exchange = strings.ToLower(strings.TrimSpace(cfg.Upstream.Exchange))
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))

	switch cfg.Upstream.Exchange {
	case ExchangeBinance, ExchangeBybit, ExchangeOKX, ExchangeBitget:
	default:
		return fmt.Errorf("upstream.exchange %q not supported", cfg.Upstream.Exchange)
	}
	if strings.TrimSpace(cfg.Upstream.WsURL) == "" {
		return errors.New("upstream.ws_url is empty")
	}
	if cfg.Upstream.BackoffMaxMs < cfg.Upstream.BackoffBaseMs {
		return errors.New("upstream.backoff_max_ms must be >= backoff_base_ms")
	}
	if cfg.Upstream.BackoffJitter > 1 {
		return errors.New("upstream.backoff_jitter must be within [0, 1]")
	}
	if !strings.HasPrefix(cfg.HTTP.WsPath, "/") {
		return errors.New("http.ws_path must start with /")
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(cfg.Storage.SQLite.Path) == "" {
			return errors.New("storage.sqlite.path empty but sqlite driver selected")
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn empty but postgres driver selected")
		}
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but redis enabled")
	}
	return nil
}

// NormalizeSymbols upper-cases, trims and de-duplicates, keeping the first occurrence order.
func NormalizeSymbols(in []string) []string {
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

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.App.ShutdownTimeoutSec) * time.Second
}

func (c *Config) SymbolSyncInterval() time.Duration {
	return time.Duration(c.Alerts.SymbolSyncSec) * time.Second
}

func (c *Config) AlertCacheTTL() time.Duration {
	return time.Duration(c.Alerts.CacheTTLMs) * time.Millisecond
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

func (c *Config) RedisSnapshotInterval() time.Duration {
	return time.Duration(c.Redis.SnapshotEverySec) * time.Second
}
