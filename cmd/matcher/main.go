package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nemesis/matcher/internal/matching"
	"github.com/nemesis/matcher/internal/messaging"
	"github.com/nemesis/matcher/internal/metrics"
	"github.com/nemesis/matcher/internal/ratelimit"
	"github.com/nemesis/matcher/internal/store"
)

type options struct {
	redisAddr     string
	natsURL       string
	databaseURL   string
	scorer        string
	workers       int
	roundInterval time.Duration
	maxWait       time.Duration
	topDiffs      int
	metricsAddr   string
	logLevel      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaults := matching.DefaultConfig()
	opts := options{}

	cmd := &cobra.Command{
		Use:           "matcher",
		Short:         "Pair pooled users with maximally opposed opinions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := setupLogging(opts.logLevel); err != nil {
				return err
			}
			if err := run(opts); err != nil {
				log.Error().Err(err).Msg("matcher exited")
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.redisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address for the waiting pool")
	f.StringVar(&opts.natsURL, "nats-url", envOr("NATS_URL", messaging.DefaultNATSConfig().URL), "NATS server URL")
	f.StringVar(&opts.databaseURL, "database-url", envOr("DATABASE_URL", ""), "PostgreSQL URL for match records (empty disables persistence)")
	f.StringVar(&opts.scorer, "scorer", envOr("SCORER", matching.ScorerPolarization), "scoring strategy: difference, euclidean or polarization")
	f.IntVar(&opts.workers, "workers", envInt("SCORING_WORKERS", defaults.Workers), "goroutines used to score candidate pairs")
	f.DurationVar(&opts.roundInterval, "round-interval", envDuration("ROUND_INTERVAL", defaults.RoundInterval), "time between matching rounds")
	f.DurationVar(&opts.maxWait, "max-wait", envDuration("MAX_WAIT", defaults.MaxWait), "how long a user may wait in the pool")
	f.IntVar(&opts.topDiffs, "top-differences", defaults.TopDifferences, "differences attached to each match result")
	f.StringVar(&opts.metricsAddr, "metrics-addr", envOr("METRICS_ADDR", ":9102"), "listen address for /metrics (empty disables)")
	f.StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level")

	return cmd
}

func run(opts options) error {
	logger := log.With().Str("component", "main").Logger()
	logger.Info().Msg("starting nemesis matching service")

	scorer, err := matching.ScorerByName(opts.scorer)
	if err != nil {
		return err
	}

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(ctx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}
	defer rdb.Close()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = opts.natsURL
	natsConfig.Name = "nemesis-matcher"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer natsClient.Close()

	// Optional PostgreSQL persistence.
	var recorder matching.Recorder
	if opts.databaseURL != "" {
		db, err := sql.Open("postgres", opts.databaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := store.Migrate(db); err != nil {
			return err
		}
		recorder = store.New(db)
	}

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
	}

	cfg := matching.DefaultConfig()
	cfg.Scorer = scorer
	cfg.Throttle = ratelimit.NewLimiter(rdb, ratelimit.RuleSubmit)
	cfg.Workers = opts.workers
	cfg.RoundInterval = opts.roundInterval
	cfg.MaxWait = opts.maxWait
	cfg.TopDifferences = opts.topDiffs

	svc := matching.NewService(matching.NewPool(rdb, matching.PoolTTLFor(cfg.MaxWait)), natsClient, recorder, cfg)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start matching service: %w", err)
	}

	logger.Info().
		Str("redis_addr", opts.redisAddr).
		Str("nats_url", natsConfig.URL).
		Str("scorer", opts.scorer).
		Bool("persistence", recorder != nil).
		Msg("nemesis matching service running")

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	svc.Stop()
	return nil
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
