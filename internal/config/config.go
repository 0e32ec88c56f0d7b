package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = "easel.db"
	defaultComfyURL      = "http://localhost:8188"
	defaultDataDir       = "data"
	defaultWorkers       = 4
	defaultQueueSize     = 64
	defaultPollTimeout   = 2 * time.Minute
	defaultPollInterval  = time.Second
	defaultWatchInterval = 500 * time.Millisecond

	envListenAddr      = "EASEL_LISTEN_ADDR"
	envDBPath          = "EASEL_DB_PATH"
	envLogLevel        = "EASEL_LOG_LEVEL"
	envComfyURL        = "EASEL_COMFY_URL"
	envDataDir         = "EASEL_DATA_DIR"
	envAssetLibraryURL = "EASEL_ASSET_LIBRARY_URL"
	envAssetLibraryKey = "EASEL_ASSET_LIBRARY_KEY"
	envOptimizerURL    = "EASEL_OPTIMIZER_URL"
	envWorkers         = "EASEL_WORKERS"
	envQueueSize       = "EASEL_QUEUE_SIZE"
	envPollTimeoutS    = "EASEL_POLL_TIMEOUT_S"
	envPollIntervalMS  = "EASEL_POLL_INTERVAL_MS"
	envWatchIntervalMS = "EASEL_WATCH_INTERVAL_MS"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// ComfyURL is the base URL of the compute backend.
	ComfyURL string
	// DataDir is the root of the filesystem object store.
	DataDir string
	// AssetLibraryURL enables asset-library mirroring when non-empty.
	AssetLibraryURL string
	AssetLibraryKey string
	// OptimizerURL enables prompt optimization when non-empty.
	OptimizerURL string

	Workers       int
	QueueSize     int
	PollTimeout   time.Duration
	PollInterval  time.Duration
	WatchInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:    defaultListenAddr,
		DBPath:        defaultDBPath,
		LogLevel:      slog.LevelInfo,
		ComfyURL:      defaultComfyURL,
		DataDir:       defaultDataDir,
		Workers:       defaultWorkers,
		QueueSize:     defaultQueueSize,
		PollTimeout:   defaultPollTimeout,
		PollInterval:  defaultPollInterval,
		WatchInterval: defaultWatchInterval,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envComfyURL); v != "" {
		cfg.ComfyURL = v
	}
	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	cfg.AssetLibraryURL = os.Getenv(envAssetLibraryURL)
	cfg.AssetLibraryKey = os.Getenv(envAssetLibraryKey)
	cfg.OptimizerURL = os.Getenv(envOptimizerURL)

	if n := parsePositiveInt(os.Getenv(envWorkers)); n > 0 {
		cfg.Workers = n
	}
	if n := parsePositiveInt(os.Getenv(envQueueSize)); n > 0 {
		cfg.QueueSize = n
	}
	if n := parsePositiveInt(os.Getenv(envPollTimeoutS)); n > 0 {
		cfg.PollTimeout = time.Duration(n) * time.Second
	}
	if n := parsePositiveInt(os.Getenv(envPollIntervalMS)); n > 0 {
		cfg.PollInterval = time.Duration(n) * time.Millisecond
	}
	if n := parsePositiveInt(os.Getenv(envWatchIntervalMS)); n > 0 {
		cfg.WatchInterval = time.Duration(n) * time.Millisecond
	}

	return cfg
}

// parsePositiveInt returns the parsed value, or 0 for anything empty,
// malformed, or non-positive.
func parsePositiveInt(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
