package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envListenAddr, "")
	t.Setenv(envDBPath, "")
	t.Setenv(envLogLevel, "")
	t.Setenv(envComfyURL, "")
	t.Setenv(envDataDir, "")
	t.Setenv(envAssetLibraryURL, "")
	t.Setenv(envOptimizerURL, "")
	t.Setenv(envWorkers, "")
	t.Setenv(envQueueSize, "")
	t.Setenv(envPollTimeoutS, "")
	t.Setenv(envPollIntervalMS, "")
	t.Setenv(envWatchIntervalMS, "")

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.ComfyURL != defaultComfyURL {
		t.Errorf("ComfyURL = %q, want %q", cfg.ComfyURL, defaultComfyURL)
	}
	if cfg.AssetLibraryURL != "" || cfg.OptimizerURL != "" {
		t.Error("optional integrations should default to disabled")
	}
	if cfg.Workers != defaultWorkers || cfg.QueueSize != defaultQueueSize {
		t.Errorf("pool = %d/%d, want %d/%d", cfg.Workers, cfg.QueueSize, defaultWorkers, defaultQueueSize)
	}
	if cfg.PollTimeout != defaultPollTimeout || cfg.PollInterval != defaultPollInterval {
		t.Errorf("poll = %v/%v, want defaults", cfg.PollTimeout, cfg.PollInterval)
	}
	if cfg.WatchInterval != defaultWatchInterval {
		t.Errorf("WatchInterval = %v, want %v", cfg.WatchInterval, defaultWatchInterval)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envComfyURL, "http://comfy:8188")
	t.Setenv(envDataDir, "/var/lib/easel")
	t.Setenv(envAssetLibraryURL, "http://assets:9000")
	t.Setenv(envAssetLibraryKey, "secret")
	t.Setenv(envOptimizerURL, "http://optimizer:7000")
	t.Setenv(envWorkers, "8")
	t.Setenv(envQueueSize, "128")
	t.Setenv(envPollTimeoutS, "300")
	t.Setenv(envPollIntervalMS, "250")
	t.Setenv(envWatchIntervalMS, "100")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ComfyURL != "http://comfy:8188" {
		t.Errorf("ComfyURL = %q", cfg.ComfyURL)
	}
	if cfg.DataDir != "/var/lib/easel" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.AssetLibraryURL != "http://assets:9000" || cfg.AssetLibraryKey != "secret" {
		t.Errorf("asset library = %q/%q", cfg.AssetLibraryURL, cfg.AssetLibraryKey)
	}
	if cfg.OptimizerURL != "http://optimizer:7000" {
		t.Errorf("OptimizerURL = %q", cfg.OptimizerURL)
	}
	if cfg.Workers != 8 || cfg.QueueSize != 128 {
		t.Errorf("pool = %d/%d, want 8/128", cfg.Workers, cfg.QueueSize)
	}
	if cfg.PollTimeout != 300*time.Second {
		t.Errorf("PollTimeout = %v, want 300s", cfg.PollTimeout)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval)
	}
	if cfg.WatchInterval != 100*time.Millisecond {
		t.Errorf("WatchInterval = %v, want 100ms", cfg.WatchInterval)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv(envWorkers, "not-a-number")
	t.Setenv(envQueueSize, "-5")
	t.Setenv(envPollTimeoutS, "0")

	cfg := Load()

	if cfg.Workers != defaultWorkers {
		t.Errorf("Workers = %d, want default on malformed input", cfg.Workers)
	}
	if cfg.QueueSize != defaultQueueSize {
		t.Errorf("QueueSize = %d, want default on negative input", cfg.QueueSize)
	}
	if cfg.PollTimeout != defaultPollTimeout {
		t.Errorf("PollTimeout = %v, want default on zero input", cfg.PollTimeout)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
