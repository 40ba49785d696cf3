// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type WebConfig struct {
	Port            int           `yaml:"port"`
	JWTSecret       string        `yaml:"jwt_secret"`        // signs ops session tokens
	OpsKey          string        `yaml:"ops_key"`           // shared key for the ops login route
	FrontendBaseURL string        `yaml:"frontend_base_url"` // wallet page the callback redirects back to
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"` // base delay, doubled per attempt
}

type MellatConfig struct {
	TerminalID   string `yaml:"terminal_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	BaseURL      string `yaml:"base_url"`
	GatewayURL   string `yaml:"gateway_url"` // hosted payment page the payer is sent to
	CallbackHost string `yaml:"callback_host"`
}

type SamanConfig struct {
	TerminalID   string `yaml:"terminal_id"`
	BaseURL      string `yaml:"base_url"`
	GatewayURL   string `yaml:"gateway_url"`
	CallbackHost string `yaml:"callback_host"`
}

type SnappPayConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	BaseURL      string `yaml:"base_url"`
	CallbackHost string `yaml:"callback_host"`
}

type PaymentConfig struct {
	Mellat   MellatConfig   `yaml:"mellat"`
	Saman    SamanConfig    `yaml:"saman"`
	SnappPay SnappPayConfig `yaml:"snappay"`
	Retry    RetryConfig    `yaml:"retry"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Payment  PaymentConfig  `yaml:"payment"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string = ""
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Web.Port <= 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Web.ShutdownTimeout <= 0 {
		cfg.Web.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Payment.Retry.MaxAttempts <= 0 {
		cfg.Payment.Retry.MaxAttempts = 2
	}
	if cfg.Payment.Retry.Backoff <= 0 {
		cfg.Payment.Retry.Backoff = time.Second
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Web.JWTSecret == "" {
		return nil, errors.New("web.jwt_secret is required")
	}
	if cfg.Web.FrontendBaseURL == "" {
		return nil, errors.New("web.frontend_base_url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
