package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/astroquant/confluence/internal/db"
	"github.com/astroquant/confluence/internal/domain"
)

// Config is the full application configuration, loaded from YAML with
// environment overrides.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  db.Config       `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Symbols   []SymbolConfig  `yaml:"symbols"`
	Producers ProducerConfig  `yaml:"producers"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig configures the snapshot/ingest cache. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SchedulerConfig configures the lease-based scheduler.
type SchedulerConfig struct {
	Workers      int           `yaml:"workers"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	// ConfluenceDelay sequences confluence after producers firing at the
	// same instant.
	ConfluenceDelay time.Duration `yaml:"confluence_delay"`
}

// SymbolConfig declares one tracked pair and its scored timeframes.
type SymbolConfig struct {
	Symbol     string             `yaml:"symbol"`
	Timeframes []domain.Timeframe `yaml:"timeframes"`
}

// ProducerConfig carries the tunable scoring rule parameters. Zero values
// fall back to the documented defaults at load.
type ProducerConfig struct {
	TA struct {
		ZigZagBars   int     `yaml:"zigzag_bars"`
		FibATRFactor float64 `yaml:"fib_atr_factor"`
	} `yaml:"ta"`
	Numerology struct {
		WatchedNumbers []int `yaml:"watched_numbers"`
	} `yaml:"numerology"`
	Political struct {
		RelevanceFloor    float64 `yaml:"relevance_floor"`
		VelocityThreshold float64 `yaml:"velocity_threshold"`
	} `yaml:"political"`
}

// AlertConfig carries alert engine thresholds.
type AlertConfig struct {
	ConfluenceThreshold float64 `yaml:"confluence_threshold"`
	AlignmentMinLayers  int     `yaml:"alignment_min_layers"`
}

// IngestConfig configures the vendor adapters.
type IngestConfig struct {
	BinanceBaseURL   string        `yaml:"binance_base_url"`
	FearGreedBaseURL string        `yaml:"feargreed_base_url"`
	FredBaseURL      string        `yaml:"fred_base_url"`
	FredAPIKey       string        `yaml:"fred_api_key"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	RatePerSecond    float64       `yaml:"rate_per_second"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// Load reads the YAML file at path, applies environment overrides and fills
// defaults. A missing file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	// .env is a developer convenience; absence is fine.
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []SymbolConfig{{Symbol: "BTC/USDT", Timeframes: []domain.Timeframe{domain.TF1h, domain.TF4h, domain.TF1d}}}
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ReadTimeout = 15 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second
	cfg.Database = db.DefaultConfig()
	cfg.Scheduler.Workers = 0 // 0 = CPU count
	cfg.Scheduler.DrainTimeout = 30 * time.Second
	cfg.Scheduler.ConfluenceDelay = 15 * time.Second
	cfg.Producers.TA.ZigZagBars = 20
	cfg.Producers.TA.FibATRFactor = 0.25
	cfg.Producers.Political.RelevanceFloor = 0.3
	cfg.Producers.Political.VelocityThreshold = 5.0
	cfg.Alerts.ConfluenceThreshold = 0.5
	cfg.Alerts.AlignmentMinLayers = 4
	cfg.Ingest.BinanceBaseURL = "https://api.binance.com"
	cfg.Ingest.FearGreedBaseURL = "https://api.alternative.me"
	cfg.Ingest.FredBaseURL = "https://api.stlouisfed.org"
	cfg.Ingest.RequestTimeout = 10 * time.Second
	cfg.Ingest.RatePerSecond = 5
	cfg.Ingest.CacheTTL = 5 * time.Minute
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PG_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("FRED_API_KEY"); v != "" {
		cfg.Ingest.FredAPIKey = v
	}
}
