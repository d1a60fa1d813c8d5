package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rwastockholm/custody-engine/internal/api"
	"github.com/rwastockholm/custody-engine/internal/config"
	"github.com/rwastockholm/custody-engine/internal/dispatch"
	"github.com/rwastockholm/custody-engine/internal/host"
	"github.com/rwastockholm/custody-engine/internal/market"
	"github.com/rwastockholm/custody-engine/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "custody-engine",
	Short:         "RWA marketplace and staking engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL ledger schema and exit",
	RunE:  runMigrate,
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("custody-engine failed", "err", err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	if err := store.Migrate(cmd.Context(), pool); err != nil {
		return err
	}
	slog.Info("schema applied")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Host ---
	g, gctx := errgroup.WithContext(ctx)

	var exec host.Executor
	var owners market.OwnerQuerier
	if len(cfg.KafkaBrokers) > 0 {
		relay := host.NewKafkaRelay(cfg.KafkaBrokers, cfg.KafkaInstructionTopic)
		defer relay.Close()
		feed := host.NewOwnershipFeed(cfg.KafkaBrokers, cfg.KafkaOwnershipTopic, cfg.KafkaGroupID)
		g.Go(func() error { return feed.Run(gctx) })
		exec, owners = relay, feed
		slog.Info("relaying instructions to Kafka",
			"brokers", cfg.KafkaBrokers,
			"topic", cfg.KafkaInstructionTopic,
		)
	} else {
		slog.Warn("KAFKA_BROKERS not set, using simulated host (balances will not persist)")
		sim := host.NewSimulator()
		exec, owners = sim, sim
	}

	// --- WebSocket hub ---
	hub := api.NewWSHub()
	g.Go(func() error { return hub.Run(gctx) })

	// --- Dispatcher ---
	disp := dispatch.New(st, exec, owners, dispatch.Options{
		Contract: cfg.ContractAddress,
		OnCommit: hub.Broadcast,
	})
	created, err := disp.Instantiate(ctx, cfg.Contract())
	if err != nil {
		return fmt.Errorf("instantiate contract: %w", err)
	}
	if !created {
		slog.Info("using existing contract config")
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(api.NewService(disp), hub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		slog.Info("custody-engine listening", "port", cfg.Port, "contract", cfg.ContractAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down custody-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("custody-engine stopped")
	return nil
}

// openStore picks the ledger backend: PostgreSQL (optionally behind Redis),
// then Badger, then memory.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		var st store.Store = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				st.Close()
				return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			st = store.NewCachedStore(st, redis.NewClient(opt), cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
		return st, nil

	case cfg.BadgerPath != "":
		st, err := store.NewBadgerStore(cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("open badger at %s: %w", cfg.BadgerPath, err)
		}
		slog.Info("using Badger ledger", "path", cfg.BadgerPath)
		return st, nil
	}

	slog.Warn("DATABASE_URL and BADGER_PATH not set, using in-memory store (data will not persist)")
	return store.NewMemoryStore(), nil
}
