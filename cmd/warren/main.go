package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vael/warren/internal/config"
	"github.com/vael/warren/internal/node"
	"github.com/vael/warren/internal/storage"
	globalconfig "github.com/vael/warren/pkg/config"
	"github.com/vael/warren/pkg/retry"
	"github.com/vael/warren/pkg/utils/logging"
)

func main() {
	configPath := flag.String("c", "", "path to a JSON config file (defaults built in if omitted)")
	flag.Parse()
	if *configPath == "" && flag.NArg() > 0 {
		*configPath = flag.Arg(0)
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("warren: config", "error", err)
		os.Exit(1)
	}
	// Published process-wide so a future config-reload signal handler
	// can Update it without plumbing a reference through Node.
	cfg := *globalconfig.Swap(loaded)

	logger := setupLogger(cfg)

	if err := os.MkdirAll(cfg.StorageDir, 0o700); err != nil {
		logger.Error("warren: create storage dir", "dir", cfg.StorageDir, "error", err)
		os.Exit(1)
	}

	store, err := openStorage(cfg)
	if err != nil {
		logger.Error("warren: open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	n, err := node.New(logger, cfg, store)
	if err != nil {
		logger.Error("warren: build node", "error", err)
		os.Exit(1)
	}
	n.Start()

	logger.Info("warren: node starting", "id", n.Identity().ID(), "v4", cfg.ListenAddrV4, "v6", cfg.ListenAddrV6)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("warren: node stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("warren: node stopped")
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupLogger(cfg config.Config) *slog.Logger {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = parseLevel(cfg.LogLevel)
	opts.UseColor = cfg.PrettyLog

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
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

// openStorage opens the node database with a short retry: a prior
// instance of this same node may still be releasing its boltdb file
// lock during a fast restart.
func openStorage(cfg config.Config) (storage.Storage, error) {
	var store storage.Storage
	err := retry.Do(context.Background(), func(ctx context.Context) error {
		db, err := storage.Open(filepath.Join(cfg.StorageDir, "node.db"))
		if err != nil {
			return err
		}
		store = db
		return nil
	}, retry.WithLinearBackoff(3, 200*time.Millisecond)...)
	return store, err
}
