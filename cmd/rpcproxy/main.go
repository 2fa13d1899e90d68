// Command rpcproxy is the EVM JSON-RPC reverse proxy server.
//
// It reads configuration from environment variables (or config.yaml) and
// starts a CORS-enabled HTTP proxy on the configured port, dispatching
// POST /{chainId} JSON-RPC calls to the best upstream endpoint from a
// per-chain whitelist.
//
// Quick-start (in-memory cache, no Redis required):
//
//	WHITELIST_PATH=whitelist.json ./rpcproxy
//
// See internal/config for all available configuration variables.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nulpointcorp/rpcproxy/internal/app"
	"github.com/nulpointcorp/rpcproxy/internal/config"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration — exits with a descriptive error if required vars
	// are missing or invalid.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Build the structured logger. All subsystems share this instance.
	logger := buildLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Initialise and run the application.
	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("rpcproxy stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// "none" disables logging entirely; unknown strings default to WARN.
func buildLogger(level string) *slog.Logger {
	if level == "none" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: silentLevel}))
	}

	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}

// silentLevel is set high enough that no slog record is ever emitted.
const silentLevel = slog.Level(12)
