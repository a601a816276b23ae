package main

import (
	"os"
	"path/filepath"
	"testing"

	"fingerviz/internal/config"
)

func TestLoadConfig_MissingDefaultUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "fingerviz.yaml"), false)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg.Source.Kind != "serial" || cfg.Web.Listen != ":8080" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadConfig_MissingExplicitFails(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"), true); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfig_InvalidFileFails(t *testing.T) {
	p := filepath.Join(t.TempDir(), "fingerviz.yaml")
	if err := os.WriteFile(p, []byte("source:\n  baud: 7\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := loadConfig(p, false); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	if err := applyOverrides(&cfg, "127.0.0.1:9000", "/dev/ttyUSB3"); err != nil {
		t.Fatalf("applyOverrides() error: %v", err)
	}
	if cfg.Web.Listen != "127.0.0.1:9000" || cfg.Source.Device != "/dev/ttyUSB3" {
		t.Fatalf("cfg web=%+v source=%+v", cfg.Web, cfg.Source)
	}

	cfg = config.Default()
	if err := applyOverrides(&cfg, "", ""); err != nil {
		t.Fatalf("applyOverrides() error: %v", err)
	}
	if cfg.Web.Listen != ":8080" || cfg.Source.Device != "" {
		t.Fatalf("empty flags changed config: %+v", cfg)
	}
}
