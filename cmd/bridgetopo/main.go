package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/automaxprocs/maxprocs"

	"bridgetopo/internal/config"
	"bridgetopo/internal/db"
	"bridgetopo/internal/discoveryworker"
	"bridgetopo/internal/httpapi"
	"bridgetopo/internal/metrics"
)

var version = "dev"

type options struct {
	Config   string `short:"c" long:"config" description:"config file path (overrides BRIDGETOPO_CONFIG)"`
	LogLevel string `short:"l" long:"log-level" description:"log level (overrides LOG_LEVEL)"`
	Version  bool   `short:"v" long:"version" description:"display the version and exit"`
}

func main() {
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(2)
	}
	if opts.Version {
		fmt.Printf("bridgetopo, version: %s\n", version)
		return
	}

	cfg, cfgPath, err := loadConfig(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridgetopo: %v\n", err)
		os.Exit(1)
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	logger := httpapi.NewLogger(cfg.LogLevel)
	if cfgPath != "" {
		logger.Info().Str("path", cfgPath).Int("bridges", len(cfg.Bridges)).Msg("config loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	registry := discoveryworker.NewRegistry(logger)
	for _, b := range cfg.Bridges {
		if _, err := registry.Assign(b.NodeID, b.Domain, b.Identifiers...); err != nil {
			logger.Fatal().Err(err).Int("node_id", b.NodeID).Msg("failed to register bridge")
		}
	}

	var pool *db.Pool
	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
	}

	if pool != nil {
		wopts := cfg.WorkerOptions()
		wopts.Store = pool
		worker := discoveryworker.New(logger, pool.Queries(), registry, wopts, m)
		go worker.Run(ctx)
	} else {
		logger.Warn().Msg("no database configured; discovery runs and link persistence disabled")
	}

	h := httpapi.NewHandler(logger, pool, registry, m)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("bridgetopo listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		if err := os.Setenv(config.EnvConfigPath, path); err != nil {
			return nil, path, err
		}
		if _, err := os.Stat(path); err != nil {
			return nil, path, fmt.Errorf("read config: %w", err)
		}
	}
	return config.Load()
}
