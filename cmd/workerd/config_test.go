package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cryguy/taskworker/internal/core"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TASKWORKER_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.AllowedOrigins) != 0 || len(cfg.wsock().OriginPatterns) != 0 {
		t.Errorf("origins allowed by default: %v", cfg.AllowedOrigins)
	}
	if cfg.Listen != "127.0.0.1:8790" || cfg.StreamTimeout != core.DefaultStreamTimeout || cfg.SourceMapDSN != core.DefaultSourceMapDSN {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "workerd.toml")
	body := "listen = \"0.0.0.0:9000\"\nstream_timeout = \"250ms\"\ncompress_threshold = 1024\nallowed_origins = [\"devtools.example.com\"]\n"
	if err := os.WriteFile(file, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKWORKER_CONFIG", file)
	t.Setenv("TASKWORKER_SOURCE_MAP_DSN", "/tmp/maps.db")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "0.0.0.0:9000" || cfg.StreamTimeout != 250*time.Millisecond || cfg.CompressThreshold != 1024 {
		t.Errorf("file values = %+v", cfg)
	}
	if got := cfg.wsock().OriginPatterns; len(got) != 1 || got[0] != "devtools.example.com" {
		t.Errorf("origin patterns = %v", got)
	}
	if cfg.SourceMapDSN != "/tmp/maps.db" {
		t.Errorf("env override = %q", cfg.SourceMapDSN)
	}
	if got := cfg.core(); got.ResourceRoot != core.DefaultResourceRoot {
		t.Errorf("core config = %+v", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("TASKWORKER_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
	if _, err := loadConfig(); err == nil {
		t.Error("missing explicit config file accepted")
	}
}
