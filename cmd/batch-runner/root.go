package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/batch-api-runner/internal/config"
	"github.com/Sternrassler/batch-api-runner/pkg/catalog"
	"github.com/Sternrassler/batch-api-runner/pkg/logging"
	"github.com/Sternrassler/batch-api-runner/pkg/progress"
)

// version is set at build time via -ldflags.
var version = "0.1.0"

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "batch-runner",
		Short:         "Fetch one API response per input row and export the merged results",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (optional)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-pretty", false, "human-readable console logs")
	root.PersistentFlags().String("catalog", "", "YAML endpoint catalog")
	root.PersistentFlags().Int("workers", 5, "concurrent requests (1-20)")
	root.PersistentFlags().Duration("timeout", 150*time.Second, "per-attempt request timeout")
	root.PersistentFlags().Int("retries", 3, "retries after the first attempt")
	root.PersistentFlags().Float64("backoff", 0.3, "backoff factor in seconds (factor * 2^(retry-1))")
	root.PersistentFlags().IntSlice("retry-statuses", []int{500, 502, 504}, "HTTP statuses that are retried")
	root.PersistentFlags().String("user-agent", "batch-api-runner/"+version, "User-Agent header")
	root.PersistentFlags().String("redis-addr", "", "publish progress to this Redis server")
	root.PersistentFlags().String("redis-channel", progress.DefaultChannel, "Redis pub/sub channel for progress")

	root.AddCommand(newRunCmd(&cfgFile))
	root.AddCommand(newServeCmd(&cfgFile))

	return root
}

// loadConfig loads configuration for cmd and installs the global logger.
func loadConfig(cmd *cobra.Command, cfgFile string) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)
	return cfg, nil
}

// loadCatalog returns nil when no catalog is configured.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Fetch.Catalog == "" {
		if cfg.Fetch.Endpoint != "" {
			return nil, fmt.Errorf("endpoint %q requires --catalog", cfg.Fetch.Endpoint)
		}
		return nil, nil
	}
	return catalog.Load(cfg.Fetch.Catalog)
}

// newReporter builds the progress reporter chain: periodic log lines plus
// Redis pub/sub when configured. An unreachable Redis only costs the
// pub/sub updates. The returned cleanup stops the publisher and closes the
// Redis client.
func newReporter(ctx context.Context, cfg *config.Config) (progress.Reporter, *progress.RedisReporter, func()) {
	logger := logging.NewLogger(logging.ComponentProgress)
	reporters := progress.Multi{progress.NewLogReporter(logger, cfg.Progress.LogEvery)}

	if cfg.Progress.RedisAddr == "" {
		return reporters, nil, func() {}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Progress.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn().
			Err(err).
			Str("redis_addr", cfg.Progress.RedisAddr).
			Msg("Redis not reachable - progress will not be published")
		redisClient.Close()
		return reporters, nil, func() {}
	}

	logger.Info().
		Str("redis_addr", cfg.Progress.RedisAddr).
		Str("channel", cfg.Progress.RedisChannel).
		Msg("Publishing progress to Redis")

	redisReporter := progress.NewRedisReporter(redisClient, cfg.Progress.RedisChannel, logger)
	return append(reporters, redisReporter), redisReporter, func() {
		redisReporter.Close()
		redisClient.Close()
	}
}
