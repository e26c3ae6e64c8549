package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tinadmin.org/internal/actions"
	"tinadmin.org/internal/audit"
	"tinadmin.org/internal/auth"
	"tinadmin.org/internal/config"
	"tinadmin.org/internal/httpapi"
	"tinadmin.org/internal/obs"
	"tinadmin.org/internal/store/pg"
	"tinadmin.org/internal/tenant"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	log := obs.Logger()
	if err := run(); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.Log.Level)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	if cfg.DB.DSN == "" {
		return errors.New("TINADMIN_PG_DSN is required")
	}
	store, err := pg.Open(cfg.DB.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	auditLog := audit.NewLogger(store)
	evaluator, err := auth.NewEvaluator(store, auth.WithRecorder(auditLog))
	if err != nil {
		return err
	}
	resolver, err := tenant.NewResolver(store)
	if err != nil {
		return err
	}
	svc, err := actions.NewService(store, evaluator)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Options{
		Version:        version,
		Ready:          httpapi.ReadyProbe{DB: store.DB()},
		Tokens:         tokens,
		TokenTTL:       cfg.Auth.TokenTTL,
		DevTokens:      cfg.Auth.DevTokens,
		Users:          store,
		Resolver:       resolver,
		Authz:          evaluator,
		Actions:        svc,
		Audit:          auditLog,
		RateBurst:      cfg.Rate.Burst,
		RatePerSec:     cfg.Rate.PerSecond,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	if cfg.Auth.DevTokens {
		log.Warn("dev token issuance is enabled")
	}
	log.Info("starting tinadmin-api", zap.String("version", version), zap.String("addr", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
