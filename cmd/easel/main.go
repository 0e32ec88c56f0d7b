package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/easelhq/easel/internal/api"
	"github.com/easelhq/easel/internal/comfy"
	"github.com/easelhq/easel/internal/config"
	"github.com/easelhq/easel/internal/engine"
	"github.com/easelhq/easel/internal/optimize"
	"github.com/easelhq/easel/internal/storage"
	"github.com/easelhq/easel/internal/store"
)

const engineShutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("easel: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"comfy_url", cfg.ComfyURL,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	objects, err := storage.NewFSStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to initialize object store: %v", err)
	}

	var assets storage.AssetLibrary
	if cfg.AssetLibraryURL != "" {
		assets = storage.NewHTTPAssetLibrary(cfg.AssetLibraryURL, cfg.AssetLibraryKey)
		logger.Info("asset library mirroring enabled", "url", cfg.AssetLibraryURL)
	}

	var optimizer engine.PromptOptimizer
	if cfg.OptimizerURL != "" {
		optimizer = optimize.NewHTTPOptimizer(cfg.OptimizerURL)
		logger.Info("prompt optimization enabled", "url", cfg.OptimizerURL)
	}

	compute := comfy.NewClient(cfg.ComfyURL, logger)

	eng := engine.NewEngine(db, compute, objects, assets, optimizer, logger, engine.Config{
		Workers:      cfg.Workers,
		QueueSize:    cfg.QueueSize,
		PollTimeout:  cfg.PollTimeout,
		PollInterval: cfg.PollInterval,
	})
	eng.Start()

	watcher := engine.NewWatcher(db, cfg.WatchInterval)

	srv := api.NewServer(cfg.ListenAddr, db, eng, watcher, logger)

	runErr := srv.Run()

	// Let in-flight runs finish before exiting.
	ctx, cancel := context.WithTimeout(context.Background(), engineShutdownTimeout)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		logger.Warn("engine shutdown incomplete", "error", err)
	}

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}
