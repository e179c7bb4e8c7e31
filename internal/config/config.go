package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string    `yml:"env" default:"local"`
	Postgres  Postgres  `yml:"postgres"`
	Server    Server    `yml:"server" env-required:"true"`
	Platform  Platform  `yml:"platform"`
	Sync      Sync      `yml:"sync"`
	RateLimit RateLimit `yml:"rate_limit"`
}

type Postgres struct {
	Username        string        `env:"POSTGRES_USER" env-required:"true"`
	Password        string        `env:"POSTGRES_PASSWORD" env-required:"true"`
	Host            string        `yml:"host" env-required:"true"`
	Port            string        `env:"POSTGRES_PORT" env-required:"true"`
	Database        string        `env:"POSTGRES_DB" env-required:"true"`
	MaxOpenConns    int           `yml:"max_open_conns" default:"50"`
	MaxIdleConns    int           `yml:"max_idle_conns" default:"10"`
	ConnMaxLifetime time.Duration `yml:"conn_max_lifetime" default:"5m"`
	ConnMaxIdleTime time.Duration `yml:"conn_max_idle_time" default:"1m"`
}

type Server struct {
	Host    string        `yml:"host" default:"localhost"`
	Port    string        `yml:"port" default:"8080"`
	Timeout time.Duration `yml:"timeout" default:"5s"`
}

// Platform holds access to the external hosting platform. The token and
// organization are supplied externally, never computed.
type Platform struct {
	Token        string        `env:"PLATFORM_TOKEN" env-required:"true"`
	Organization string        `yml:"organization" env:"PLATFORM_ORG" env-required:"true"`
	BaseURL      string        `yml:"base_url" default:"https://api.gitprovider.example"`
	GraphURL     string        `yml:"graph_url" default:"https://api.gitprovider.example/graphql"`
	PageSize     int           `yml:"page_size" default:"100"`
	GraphTimeout time.Duration `yml:"graph_timeout" default:"25s"`
}

type Sync struct {
	FullInterval        time.Duration `yml:"full_interval" default:"6h"`
	IncrementalInterval time.Duration `yml:"incremental_interval" default:"30m"`
	IncrementalLookback time.Duration `yml:"incremental_lookback" default:"2h"`
	DefaultWindowMonths int           `yml:"default_window_months" default:"3"`
	CourtesyDelay       time.Duration `yml:"courtesy_delay" default:"250ms"`
}

type RateLimit struct {
	LowWaterMark int           `yml:"low_water_mark" default:"10"`
	MaxRetries   int           `yml:"max_retries" default:"3"`
	BackoffBase  time.Duration `yml:"backoff_base" default:"1s"`
	BackoffCap   time.Duration `yml:"backoff_cap" default:"8s"`
}

func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		return nil, errors.New("CONFIG_PATH is not set")
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file does not exist: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	return &cfg, nil
}

// DefaultWindow converts the configured month window into a concrete lower
// bound relative to now.
func (s Sync) DefaultWindow(now time.Time) time.Time {
	months := s.DefaultWindowMonths
	if months <= 0 {
		months = 3
	}
	return now.AddDate(0, -months, 0)
}
