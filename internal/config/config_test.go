package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q, want :8080", cfg.HTTP.Addr)
	}
	if cfg.Auth.Issuer != "tinadmin" || cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if cfg.Rate.Burst != 40 || cfg.Rate.PerSecond != 20 {
		t.Errorf("unexpected rate defaults: %+v", cfg.Rate)
	}
	if cfg.HTTP.MaxBodyBytes != 1<<20 {
		t.Errorf("HTTP.MaxBodyBytes = %d", cfg.HTTP.MaxBodyBytes)
	}
	if cfg.Auth.DevTokens {
		t.Errorf("dev tokens must be off by default")
	}
	if cfg.DB.MaxOpenConns != 50 || cfg.DB.MaxIdleConns != 25 || cfg.DB.ConnMaxLifetime != 15*time.Minute {
		t.Errorf("unexpected pool defaults: %+v", cfg.DB)
	}
	if len(cfg.HTTP.TrustedProxies) != 0 {
		t.Errorf("no proxy should be trusted by default: %v", cfg.HTTP.TrustedProxies)
	}
}

func TestLoadPrefixedEnv(t *testing.T) {
	t.Setenv("TINADMIN_PG_DSN", "postgres://localhost/tinadmin")
	t.Setenv("TINADMIN_HTTP_ADDR", ":9090")
	t.Setenv("TINADMIN_RATE_BURST", "5")
	t.Setenv("TINADMIN_AUTH_SECRET", "s3cret")
	t.Setenv("TINADMIN_DEV_TOKENS", "true")
	t.Setenv("TINADMIN_HTTP_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("TINADMIN_HTTP_TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.5")
	t.Setenv("TINADMIN_PG_MAX_OPEN_CONNS", "8")
	t.Setenv("TINADMIN_PG_MAX_IDLE_CONNS", "4")
	t.Setenv("PG_DSN", "ignored-without-prefix")

	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB.DSN != "postgres://localhost/tinadmin" {
		t.Errorf("DB.DSN = %q", cfg.DB.DSN)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.Rate.Burst != 5 {
		t.Errorf("env overrides not applied: %+v %+v", cfg.HTTP, cfg.Rate)
	}
	if !cfg.Auth.DevTokens || cfg.Auth.Secret != "s3cret" {
		t.Errorf("unexpected auth config: %+v", cfg.Auth)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "https://admin.example.com" {
		t.Errorf("unexpected origins: %v", cfg.HTTP.AllowedOrigins)
	}
	if len(cfg.HTTP.TrustedProxies) != 2 || cfg.DB.MaxOpenConns != 8 || cfg.DB.MaxIdleConns != 4 {
		t.Errorf("unexpected proxy/pool config: %v %+v", cfg.HTTP.TrustedProxies, cfg.DB)
	}
}

func TestPoolLimitsValidated(t *testing.T) {
	t.Setenv("TINADMIN_PG_MAX_OPEN_CONNS", "4")
	t.Setenv("TINADMIN_PG_MAX_IDLE_CONNS", "10")
	if _, err := load(viper.New()); err == nil {
		t.Fatalf("expected validation error for idle > open")
	}
}

func TestDevTokensNeedSecret(t *testing.T) {
	t.Setenv("TINADMIN_DEV_TOKENS", "true")
	t.Setenv("TINADMIN_AUTH_SECRET", "")
	if _, err := load(viper.New()); err == nil {
		t.Fatalf("expected validation error")
	}
}
