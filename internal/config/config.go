package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port                   string `mapstructure:"PORT"`
	AllowedOrigin          string `mapstructure:"ALLOWED_ORIGIN"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RedisAddr              string `mapstructure:"REDIS_ADDR"`
	RedisPassword          string `mapstructure:"REDIS_PASSWORD"`
	RedisDB                int    `mapstructure:"REDIS_DB"`
	LocationID             string `mapstructure:"DEFAULT_LOCATION_ID"`
	CatalogCacheTTLSeconds int    `mapstructure:"CATALOG_CACHE_TTL_SECONDS"`
	BackendTimeoutMS       int    `mapstructure:"BACKEND_TIMEOUT_MS"`
	AuthSecret             string `mapstructure:"AUTH_SECRET"`
	AccessTokenTTLMinutes  int    `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
	ManagerPIN             string `mapstructure:"MANAGER_PIN"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	EventExchange          string `mapstructure:"EVENT_EXCHANGE"`
	SweepIntervalSeconds   int    `mapstructure:"SWEEP_INTERVAL_SECONDS"`
	SweepGraceSeconds      int    `mapstructure:"SWEEP_GRACE_SECONDS"`
	LogLevel               string `mapstructure:"LOG_LEVEL"`
}

// Load reads pekseg.env from the working directory when present, then the
// environment. Secrets have no defaults.
func Load() (Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("pekseg")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEFAULT_LOCATION_ID", "main-bakery")
	v.SetDefault("CATALOG_CACHE_TTL_SECONDS", 30)
	v.SetDefault("BACKEND_TIMEOUT_MS", 3000)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("MANAGER_PIN", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("EVENT_EXCHANGE", "pekseg.events")
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 60)
	v.SetDefault("SWEEP_GRACE_SECONDS", 120)
	v.SetDefault("LOG_LEVEL", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		log.Debug().Msg("no config file found, using environment variables and defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	cfg.LocationID = strings.TrimSpace(cfg.LocationID)
	if cfg.LocationID == "" {
		cfg.LocationID = "main-bakery"
	}
	if cfg.CatalogCacheTTLSeconds < 1 {
		cfg.CatalogCacheTTLSeconds = 30
	}
	if cfg.BackendTimeoutMS < 1 {
		cfg.BackendTimeoutMS = 3000
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.SweepIntervalSeconds < 1 {
		cfg.SweepIntervalSeconds = 60
	}
	if cfg.SweepGraceSeconds < 1 {
		cfg.SweepGraceSeconds = 120
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutMS) * time.Millisecond
}

func (c Config) CatalogCacheTTL() time.Duration {
	return time.Duration(c.CatalogCacheTTLSeconds) * time.Second
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c Config) SweepGrace() time.Duration {
	return time.Duration(c.SweepGraceSeconds) * time.Second
}
