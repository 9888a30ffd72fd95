package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"coscribe/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.BackupInterval() != 30*time.Second {
		t.Fatalf("backup interval = %v", cfg.BackupInterval())
	}
	if cfg.MaxInactive() != 30*time.Second {
		t.Fatalf("max inactive = %v", cfg.MaxInactive())
	}
	if cfg.CursorMaxAge() != 10*time.Second {
		t.Fatalf("cursor max age = %v", cfg.CursorMaxAge())
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("server:\n  addr: 0.0.0.0:9000\nsync:\n  backup_interval_seconds: 5\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.BackupInterval() != 5*time.Second {
		t.Fatalf("interval = %v", cfg.BackupInterval())
	}
	// untouched sections keep defaults
	if cfg.Presence.MaxInactiveMs != 30000 {
		t.Fatalf("max inactive = %d", cfg.Presence.MaxInactiveMs)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []string{
		"server:\n  addr: \"\"\n",
		"sync:\n  backup_interval_seconds: 0\n",
		"presence:\n  max_inactive_ms: -1\n",
		"{{nope",
	}
	for _, raw := range cases {
		if _, err := config.FromYAML([]byte(raw)); err == nil {
			t.Fatalf("config %q accepted", raw)
		}
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Server.Addr == "" {
		t.Fatal("defaults not applied")
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	raw := "server:\n  addr: 127.0.0.1:7777\n"
	if err := os.WriteFile(filepath.Join(dir, "coscribe.yml"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7777" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}
