package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/go-batches/pkg/cache"
	"github.com/Sternrassler/go-batches/pkg/logging"
)

// newRootCmd creates the batch-proxy command.
func newRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		redisURL   string
		mode       string
		firstPage  int
		merge      string
		baseURL    string
		endpoint   string
		userAgent  string
		source     string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "batch-proxy",
		Short: "Serve a paged upstream as a batch source over HTTP",
		Long: "batch-proxy loads a paged or token-based JSON upstream batch by batch and exposes\n" +
			"the accumulated items, the loading state and a server-sent event stream.",
		Example: "  batch-proxy --upstream-url https://api.example.com --endpoint /v1/orders --user-agent 'orders/1.0 (ops@example.com)'\n" +
			"  batch-proxy --config proxy.yaml --mode token",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := defaultConfig()
			if configPath != "" {
				if err := loadConfigFile(configPath, &cfg); err != nil {
					return err
				}
			}

			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Listen = listen
			}
			if flags.Changed("redis-url") {
				cfg.RedisURL = redisURL
			}
			if flags.Changed("mode") {
				cfg.Mode = mode
			}
			if flags.Changed("first-page") {
				cfg.First = firstPage
			}
			if flags.Changed("merge") {
				cfg.Merge = merge
			}
			if flags.Changed("upstream-url") {
				cfg.Upstream.BaseURL = baseURL
			}
			if flags.Changed("endpoint") {
				cfg.Upstream.Endpoint = endpoint
			}
			if flags.Changed("user-agent") {
				cfg.Upstream.UserAgent = userAgent
			}
			if flags.Changed("source") {
				cfg.Cache.Source = source
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logging.LogLevel(logLevel)
			}

			if err := cfg.validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&listen, "listen", "", "listen address (default from PORT)")
	flags.StringVar(&redisURL, "redis-url", "", "Redis address for the shared cache tier (default from REDIS_URL)")
	flags.StringVar(&mode, "mode", modePage, "upstream mode: page or token")
	flags.IntVar(&firstPage, "first-page", 1, "first page number in page mode")
	flags.StringVar(&merge, "merge", "append", "merge strategy: append or prepend")
	flags.StringVar(&baseURL, "upstream-url", "", "upstream base URL (default from UPSTREAM_URL)")
	flags.StringVar(&endpoint, "endpoint", "", "upstream endpoint path (default from UPSTREAM_ENDPOINT)")
	flags.StringVar(&userAgent, "user-agent", "", "User-Agent sent upstream (default from USER_AGENT)")
	flags.StringVar(&source, "source", "", "source name used in metrics and cache keys (default from SOURCE_NAME)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default from LOG_LEVEL)")

	return cmd
}

// run serves the proxy until ctx is cancelled.
func run(ctx context.Context, cfg proxyConfig) error {
	logger := logging.Setup(cfg.Log).With().Str("component", "proxy").Logger()

	var manager *cache.Manager
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
		logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")
		manager = cache.NewManager(redisClient)
	}

	srv, err := newServer(cfg, manager, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:        cfg.Listen,
		Handler:     srv.routes(),
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Listen).
			Str("upstream", cfg.Upstream.BaseURL+cfg.Upstream.Endpoint).
			Str("mode", cfg.Mode).
			Str("user_agent", cfg.Upstream.UserAgent).
			Msg("Starting batch proxy")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down batch proxy")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Batch proxy failed")
		return err
	}
	return nil
}
