package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/outcome-ledger/internal/account"
	"github.com/atmx/outcome-ledger/internal/auth"
	"github.com/atmx/outcome-ledger/internal/config"
	"github.com/atmx/outcome-ledger/internal/market"
	"github.com/atmx/outcome-ledger/internal/portfolio"
	"github.com/atmx/outcome-ledger/internal/server"
	"github.com/atmx/outcome-ledger/internal/settlement"
	"github.com/atmx/outcome-ledger/internal/store"
	"github.com/atmx/outcome-ledger/internal/trade"
)

func main() {
	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("outcome-ledger exited", "err", err)
		os.Exit(1)
	}
	fmt.Println("outcome-ledger stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	hub := trade.NewWSHub()
	authn := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
	markets := market.NewRegistry(st, hub)
	if err := markets.SyncMetrics(ctx); err != nil {
		slog.Warn("active market gauge not initialised", "err", err)
	}

	handler := server.NewRouter(server.Deps{
		Accounts:       account.NewLedger(st, cfg.Ledger.StartingBalance, authn),
		Markets:        markets,
		Trades:         trade.NewExecutor(st, hub, cfg.Ledger.MaxSharesPerTrade),
		Settlement:     settlement.NewEngine(st, hub),
		Portfolio:      portfolio.NewAggregator(st),
		Hub:            hub,
		Auth:           authn,
		RequestTimeout: cfg.Server.RequestTimeout.Duration,
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("outcome-ledger listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down outcome-ledger...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore picks PostgreSQL when a database URL is configured, optionally
// fronted by the Redis market cache, and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	lockTimeout := cfg.Ledger.LockTimeout.Duration

	if cfg.Database.URL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore().WithLockTimeout(lockTimeout), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	cleanup := []func(){pool.Close}
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	pg := store.NewPostgresStore(pool, lockTimeout)
	if cfg.Database.RunMigrations {
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL.Duration)
		slog.Info("Redis cache enabled")
	}

	return st, closeAll, nil
}
