package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shadspace/nodecore/internal/config"
	"github.com/shadspace/nodecore/internal/node"
)

func main() {
	configPath := flag.String("config", "configs/node.yaml", "path to node configuration file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Defaults()
		slog.Warn("falling back to default configuration", slog.String("path", *configPath), slog.String("error", err.Error()))
	}

	logger := newLogger(cfg.Log)

	n, err := node.New(cfg, logger)
	if err != nil {
		logger.Error("failed to construct node", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := n.Start(ctx); err != nil {
		logger.Error("failed to start node", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shadspace node running", slog.String("peer_id", n.PeerID()), slog.Int("port", cfg.Node.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down node")
	if err := n.Stop(); err != nil {
		logger.Error("error during shutdown", slog.String("error", err.Error()))
	}
	time.Sleep(500 * time.Millisecond)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
