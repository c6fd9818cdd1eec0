// FitTrust - trust and confidence scoring for fitness data
package main

import (
	"context"
	"os"

	"github.com/mbd888/fittrust/internal/config"
	"github.com/mbd888/fittrust/internal/logging"
	"github.com/mbd888/fittrust/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting fittrust",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"redis_cache", cfg.RedisAddr != "",
		"nats", cfg.NATSURL != "",
		"risk_interval", cfg.RiskRecomputeInterval,
		"consistency_interval", cfg.ConsistencyCheckInterval,
	)

	server.Version = Version

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
