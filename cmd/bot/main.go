// Gammabot — an intraday options-trading control plane built as a pipeline
// of stages connected only by the stream fabric.
//
// Architecture:
//
//	main.go            — entry point: config, logger, fabric, engine, signal wait
//	engine/engine.go   — orchestrator: runs every stage in one errgroup
//	bus/               — stream fabric: in-memory or Redis streams, JSONL audit
//	ingest/            — market-data edge: Polygon websockets or synthetic feed
//	features/          — per-second feature packets: VWAP bands, ATR, ADX, IV
//	signals/           — gate chain + playbook selection → entry intents
//	risk/              — admission, sizing, econ halts, position lifecycle
//	oms/               — OTOCO routing and status lifecycle against the venue
//	broker/            — venue adapters: in-memory paper book and Tradier HTTP
//	portfolio/         — fills → positions and PnL
//	execution/         — slippage and spread analytics, defensive-mode flags
//	learner/           — calibration, bandit sizing, change-point watch
//	api/               — ops surface: snapshot, SSE stream tail, Prometheus
//
// Stages share no state beyond the fabric streams, so any stage can be
// restarted or replayed from the bus alone.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gammabot/internal/api"
	"gammabot/internal/bus"
	"gammabot/internal/config"
	"gammabot/internal/engine"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "config YAML path (GAMMABOT_CONFIG or defaults when empty)")
		paper   = flag.Bool("paper", false, "force paper mode regardless of config")
	)
	flag.Parse()

	path := *cfgPath
	if path == "" {
		path = os.Getenv("GAMMABOT_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", path)
		os.Exit(1)
	}
	if *paper {
		cfg.Paper = true
		cfg.OMS.Paper = true
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Optional JSONL mirror of selected streams
	var auditor *bus.Auditor
	auditCfg := bus.AuditConfig{
		Dir:         cfg.Fabric.AuditPath,
		Streams:     cfg.Fabric.AuditStreams,
		RotateBytes: cfg.Fabric.AuditRotateBytes,
	}
	if auditCfg.Enabled() {
		auditor, err = bus.NewAuditor(auditCfg, logger)
		if err != nil {
			logger.Error("failed to open stream audit", "error", err)
			os.Exit(1)
		}
	}

	fabric, err := newFabric(cfg, auditor, logger)
	if err != nil {
		logger.Error("failed to open fabric", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg, fabric, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	// Start ops API server if enabled
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, eng, fabric, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
		logger.Info("ops server enabled", "url", fmt.Sprintf("http://localhost:%d", cfg.API.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.OMS.Paper {
		logger.Warn("PAPER MODE — orders fill against the in-memory venue")
	}

	logger.Info("gammabot started",
		"feed", eng.FeedMode(),
		"stocks", cfg.Ingest.Stocks,
		"indices", cfg.Ingest.Indices,
		"fabric", fabricKind(cfg),
		"paper", cfg.OMS.Paper,
	)

	// Wait for shutdown signal or an engine-side failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-eng.Done():
		logger.Error("engine stopped on its own", "error", eng.Err())
	}

	// Stop ops server first so the snapshot surface never outlives the stages
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop ops server", "error", err)
		}
	}

	eng.Stop()

	if err := fabric.Close(); err != nil {
		logger.Error("failed to close fabric", "error", err)
	}
	if auditor != nil {
		auditor.Close()
	}

	if eng.Err() != nil {
		os.Exit(1)
	}
}

// newFabric opens the Redis streams backend when fabric.redis_url is set and
// the in-memory backend otherwise.
func newFabric(cfg *config.Config, auditor *bus.Auditor, logger *slog.Logger) (bus.Bus, error) {
	block := time.Duration(cfg.Fabric.BlockMS) * time.Millisecond

	if cfg.Fabric.RedisURL != "" {
		opts := []bus.RedisOption{
			bus.WithRedisMaxLen(int64(cfg.Fabric.MaxLen)),
			bus.WithRedisBlock(block),
		}
		if auditor != nil {
			opts = append(opts, bus.WithRedisAuditor(auditor))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return bus.NewRedis(ctx, cfg.Fabric.RedisURL, logger, opts...)
	}

	opts := []bus.MemoryOption{
		bus.WithMaxLen(cfg.Fabric.MaxLen),
		bus.WithBlock(block),
	}
	if auditor != nil {
		opts = append(opts, bus.WithAuditor(auditor))
	}
	return bus.NewMemory(logger, opts...), nil
}

func fabricKind(cfg *config.Config) string {
	if cfg.Fabric.RedisURL != "" {
		return "redis"
	}
	return "memory"
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
