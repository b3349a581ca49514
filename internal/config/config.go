package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Storage   StorageConfig
	Ledger    LedgerConfig
	CoinGecko CoinGeckoConfig
}

type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	StaticDir       string        `envconfig:"STATIC_DIR" default:"web"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"8s"`
}

type StorageConfig struct {
	Driver        string `envconfig:"STORAGE_DRIVER" default:"sqlite"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"./papertrade.db"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"papertrade:"`
}

type LedgerConfig struct {
	Key           string `envconfig:"LEDGER_KEY" default:"cryptoPortfolio"`
	StrictPersist bool   `envconfig:"LEDGER_STRICT_PERSIST" default:"false"`
}

type CoinGeckoConfig struct {
	BaseURL           string        `envconfig:"COINGECKO_BASE_URL" default:"https://api.coingecko.com/api/v3"`
	RequestsPerMinute int           `envconfig:"COINGECKO_REQUESTS_PER_MINUTE" default:"30"`
	PerPage           int           `envconfig:"COINGECKO_PER_PAGE" default:"50"`
	Timeout           time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
}

// Load reads an optional .env file, then the process environment.
// Environment variables win over .env entries.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Ledger.Key == "" {
		return fmt.Errorf("LEDGER_KEY must not be empty")
	}
	if c.HTTP.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}
	if c.CoinGecko.PerPage <= 0 || c.CoinGecko.PerPage > 250 {
		return fmt.Errorf("COINGECKO_PER_PAGE must be within 1..250")
	}
	return nil
}
