package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable, e.g. TINADMIN_PG_DSN.
const EnvPrefix = "TINADMIN"

type Config struct {
	HTTP HTTPConfig
	DB   DBConfig
	Auth AuthConfig
	Rate RateConfig
	Log  LogConfig
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AllowedOrigins  []string
	TrustedProxies  []string
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type AuthConfig struct {
	Secret    string
	Issuer    string
	TokenTTL  time.Duration
	DevTokens bool
}

type RateConfig struct {
	PerSecond float64
	Burst     int
}

type LogConfig struct {
	Level string
}

// Load reads configuration from the environment and an optional .env file in the
// working directory. Keys in .env are unprefixed (PG_DSN=...); environment
// variables carry the TINADMIN_ prefix and win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{}
	cfg.HTTP.Addr = v.GetString("HTTP_ADDR")
	cfg.HTTP.ReadTimeout = v.GetDuration("HTTP_READ_TIMEOUT")
	cfg.HTTP.WriteTimeout = v.GetDuration("HTTP_WRITE_TIMEOUT")
	cfg.HTTP.IdleTimeout = v.GetDuration("HTTP_IDLE_TIMEOUT")
	cfg.HTTP.ShutdownTimeout = v.GetDuration("HTTP_SHUTDOWN_TIMEOUT")
	cfg.HTTP.MaxBodyBytes = v.GetInt64("HTTP_MAX_BODY_BYTES")
	cfg.HTTP.AllowedOrigins = splitList(v.GetString("HTTP_ALLOWED_ORIGINS"))

	cfg.HTTP.TrustedProxies = splitList(v.GetString("HTTP_TRUSTED_PROXIES"))

	cfg.DB.DSN = v.GetString("PG_DSN")
	cfg.DB.MaxOpenConns = v.GetInt("PG_MAX_OPEN_CONNS")
	cfg.DB.MaxIdleConns = v.GetInt("PG_MAX_IDLE_CONNS")
	cfg.DB.ConnMaxLifetime = v.GetDuration("PG_CONN_MAX_LIFETIME")
	cfg.DB.ConnMaxIdleTime = v.GetDuration("PG_CONN_MAX_IDLE_TIME")

	cfg.Auth.Secret = v.GetString("AUTH_SECRET")
	cfg.Auth.Issuer = v.GetString("AUTH_ISSUER")
	cfg.Auth.TokenTTL = v.GetDuration("AUTH_TOKEN_TTL")
	cfg.Auth.DevTokens = v.GetBool("DEV_TOKENS")

	cfg.Rate.PerSecond = v.GetFloat64("RATE_PER_SEC")
	cfg.Rate.Burst = v.GetInt("RATE_BURST")

	cfg.Log.Level = v.GetString("LOG_LEVEL")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("HTTP_READ_TIMEOUT", "15s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "15s")
	v.SetDefault("HTTP_IDLE_TIMEOUT", "60s")
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("HTTP_MAX_BODY_BYTES", 1<<20)
	v.SetDefault("HTTP_ALLOWED_ORIGINS", "")

	v.SetDefault("HTTP_TRUSTED_PROXIES", "")

	v.SetDefault("PG_DSN", "")
	v.SetDefault("PG_MAX_OPEN_CONNS", 50)
	v.SetDefault("PG_MAX_IDLE_CONNS", 25)
	v.SetDefault("PG_CONN_MAX_LIFETIME", "15m")
	v.SetDefault("PG_CONN_MAX_IDLE_TIME", "5m")

	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("AUTH_ISSUER", "tinadmin")
	v.SetDefault("AUTH_TOKEN_TTL", "1h")
	v.SetDefault("DEV_TOKENS", false)

	v.SetDefault("RATE_PER_SEC", 20.0)
	v.SetDefault("RATE_BURST", 40)

	v.SetDefault("LOG_LEVEL", "info")
}

// Validate rejects values the service cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http addr is required")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return errors.New("http max body bytes must be positive")
	}
	if c.DB.MaxOpenConns <= 0 || c.DB.MaxIdleConns < 0 || c.DB.MaxIdleConns > c.DB.MaxOpenConns {
		return errors.New("pg pool: need 0 <= max idle <= max open and max open > 0")
	}
	if c.Rate.PerSecond <= 0 || c.Rate.Burst <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}
	if c.Auth.DevTokens && c.Auth.Secret == "" {
		return errors.New("dev tokens need AUTH_SECRET")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
