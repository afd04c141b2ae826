package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Port != 11211 {
		t.Errorf("Port = %d, want 11211", cfg.Port)
	}
	if cfg.ConnectionLimit != 1024 {
		t.Errorf("ConnectionLimit = %d, want 1024", cfg.ConnectionLimit)
	}
	if cfg.ItemSizeLimit != defaultItemSizeLimit {
		t.Errorf("ItemSizeLimit = %d, want %d", cfg.ItemSizeLimit, defaultItemSizeLimit)
	}
	if cfg.RuntimeType != string(RuntimeSharedPool) {
		t.Errorf("RuntimeType = %q, want %q", cfg.RuntimeType, RuntimeSharedPool)
	}
}

func TestLoadFlagsOnly(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := Register(fs)
	if err := fs.Parse([]string{"-port", "11300", "-connections", "2048"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(fs, f)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 11300 {
		t.Errorf("Port = %d, want 11300", cfg.Port)
	}
	if cfg.ConnectionLimit != 2048 {
		t.Errorf("ConnectionLimit = %d, want 2048", cfg.ConnectionLimit)
	}
	// Untouched fields keep their defaults.
	if cfg.ListenBacklog != 1024 {
		t.Errorf("ListenBacklog = %d, want 1024", cfg.ListenBacklog)
	}
}

func TestLoadYAMLOverriddenByFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bincached.yaml")
	contents := "port: 12000\nconnection_limit: 500\nstore_engine: TinyLFU-capacity-bounded\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := Register(fs)
	if err := fs.Parse([]string{"-config", path, "-port", "13000"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(fs, f)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 13000 {
		t.Errorf("Port = %d, want 13000 (flag overrides file)", cfg.Port)
	}
	if cfg.ConnectionLimit != 500 {
		t.Errorf("ConnectionLimit = %d, want 500 (from file)", cfg.ConnectionLimit)
	}
	if cfg.StoreEngine != string(StoreTinyLFUCapacityBnd) {
		t.Errorf("StoreEngine = %q, want %q", cfg.StoreEngine, StoreTinyLFUCapacityBnd)
	}
}

func TestLoadRejectsItemSizeLimitOverCap(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := Register(fs)
	if err := fs.Parse([]string{"-item-size-limit", "2000"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := Load(fs, f); err == nil {
		t.Error("Load() error = nil, want error for item-size-limit over hard cap")
	}
}

func TestAddr(t *testing.T) {
	cfg := Config{ListenAddress: "", Port: 11211}
	if got := cfg.Addr(); got != ":11211" {
		t.Errorf("Addr() = %q, want %q", got, ":11211")
	}
	cfg.ListenAddress = "127.0.0.1"
	if got := cfg.Addr(); got != "127.0.0.1:11211" {
		t.Errorf("Addr() = %q, want %q", got, "127.0.0.1:11211")
	}
}
