package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"tinadmin.org/internal/auth"
	"tinadmin.org/internal/config"
	"tinadmin.org/internal/migrate"
	"tinadmin.org/internal/obs"
	"tinadmin.org/internal/store/pg"
)

func main() {
	log := obs.Logger()
	var (
		dsn     = flag.String("dsn", "", "PostgreSQL DSN (defaults to TINADMIN_PG_DSN)")
		timeout = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-dsn DSN] up|down|status|seed")
		os.Exit(2)
	}
	if *dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatal("load config", zap.Error(err))
		}
		*dsn = cfg.DB.DSN
		obs.SetLevel(cfg.Log.Level)
	}
	if *dsn == "" {
		log.Fatal("missing DSN: provide -dsn or TINADMIN_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer store.Close()

	cmd := flag.Arg(0)
	if err := run(ctx, cmd, store, migrate.NewManager(store.DB())); err != nil {
		log.Error("migrate failed", zap.String("command", cmd), zap.Error(err))
		store.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, store *pg.Store, mgr *migrate.Manager) error {
	log := obs.Logger()
	switch cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		for _, name := range applied {
			log.Info("migration applied", zap.String("name", name))
		}
		return err
	case "down":
		name, err := mgr.Down(ctx)
		if err == nil {
			log.Info("migration rolled back", zap.String("name", name))
		}
		return err
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, name := range history {
			fmt.Println(name)
		}
		return nil
	case "seed":
		// seeds reference built-in roles by name
		if err := store.EnsureBuiltinRoles(ctx, auth.BuiltinRoles); err != nil {
			return fmt.Errorf("builtin roles: %w", err)
		}
		applied, err := mgr.Seed(ctx)
		for _, name := range applied {
			log.Info("seed applied", zap.String("name", name))
		}
		return err
	default:
		return errors.New("unknown command " + cmd)
	}
}
