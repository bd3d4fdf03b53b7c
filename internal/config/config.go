package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MARKETPLACE_"

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		Env      string `koanf:"env"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	Storage struct {
		Driver string `koanf:"driver"`
	} `koanf:"storage"`

	Postgres struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
		LockTimeout     time.Duration `koanf:"lock_timeout"`
		Migrate         bool          `koanf:"migrate"`
	} `koanf:"postgres"`

	Memory struct {
		LockTimeout time.Duration `koanf:"lock_timeout"`
		Seed        []SeedProduct `koanf:"seed"`
	} `koanf:"memory"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
		Channel  string `koanf:"channel"`
	} `koanf:"redis"`

	Pricing struct {
		TaxRateBPS                 int64 `koanf:"tax_rate_bps"`
		ShippingCents              int64 `koanf:"shipping_cents"`
		FreeShippingThresholdCents int64 `koanf:"free_shipping_threshold_cents"`
	} `koanf:"pricing"`

	Checkout struct {
		MaxAttempts  int           `koanf:"max_attempts"`
		RetryBackoff time.Duration `koanf:"retry_backoff"`
	} `koanf:"checkout"`

	Events struct {
		PublishTimeout time.Duration `koanf:"publish_timeout"`
	} `koanf:"events"`

	Telemetry struct {
		Exporter     string  `koanf:"exporter"`
		OTLPEndpoint string  `koanf:"otlp_endpoint"`
		SampleRatio  float64 `koanf:"sample_ratio"`
		Namespace    string  `koanf:"namespace"`
	} `koanf:"telemetry"`
}

// SeedProduct preloads the memory store's catalog.
type SeedProduct struct {
	ID            string `koanf:"id"`
	StockQuantity int    `koanf:"stock_quantity"`
	PriceCents    int64  `koanf:"price_cents"`
	Status        string `koanf:"status"`
}

func defaults() map[string]any {
	return map[string]any{
		"app.name":                      "marketplace",
		"app.env":                       "dev",
		"app.http_addr":                 ":8080",
		"app.log_level":                 "info",
		"http.read_timeout":             10 * time.Second,
		"http.write_timeout":            10 * time.Second,
		"http.shutdown_timeout":         10 * time.Second,
		"storage.driver":                DriverMemory,
		"postgres.max_open_conns":       20,
		"postgres.max_idle_conns":       5,
		"postgres.conn_max_lifetime":    30 * time.Minute,
		"postgres.lock_timeout":         5 * time.Second,
		"postgres.migrate":              true,
		"memory.lock_timeout":           2 * time.Second,
		"redis.channel":                 "marketplace:realtime",
		"pricing.tax_rate_bps":          0,
		"pricing.shipping_cents":        0,
		"checkout.max_attempts":         3,
		"checkout.retry_backoff":        50 * time.Millisecond,
		"events.publish_timeout":        2 * time.Second,
		"telemetry.exporter":            "none",
		"telemetry.sample_ratio":        1.0,
		"telemetry.namespace":           "marketplace",

		"pricing.free_shipping_threshold_cents": 0,
	}
}

// Load layers defaults, an optional YAML file and MARKETPLACE_ environment variables,
// in that order. Nested keys use a double underscore, e.g. MARKETPLACE_POSTGRES__DSN.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn required when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverMemory, DriverPostgres, c.Storage.Driver)
	}
	if c.Checkout.MaxAttempts < 1 {
		return fmt.Errorf("checkout.max_attempts must be at least 1")
	}
	if c.Pricing.TaxRateBPS < 0 || c.Pricing.ShippingCents < 0 || c.Pricing.FreeShippingThresholdCents < 0 {
		return fmt.Errorf("pricing values must not be negative")
	}
	for i, p := range c.Memory.Seed {
		if p.ID == "" {
			return fmt.Errorf("memory.seed[%d].id required", i)
		}
		if p.StockQuantity < 0 {
			return fmt.Errorf("memory.seed[%d].stock_quantity must not be negative", i)
		}
	}
	return nil
}
