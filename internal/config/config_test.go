package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func loadFrom(t *testing.T, cfgFile string) Config {
	t.Helper()
	v, err := NewViper(cfgFile)
	if err != nil {
		t.Fatalf("new viper: %v", err)
	}
	return Load(v)
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AUTH_SECRET", "")

	cfg := loadFrom(t, "")
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := loadFrom(t, "")
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Address())
	}
	if cfg.FormIdleTTL() != 30*time.Minute || cfg.ReconcileTimeout() != 15*time.Second {
		t.Fatalf("unexpected durations %s %s", cfg.FormIdleTTL(), cfg.ReconcileTimeout())
	}
	if cfg.UpstreamEnabled() {
		t.Fatalf("expected upstream disabled without base urls")
	}
	if loc, err := cfg.Location(); err != nil || loc != time.Local {
		t.Fatalf("expected local zone, got %v %v", loc, err)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("TIMEZONE", "Asia/Manila")
	t.Setenv("POS_BASE_URL", "http://pos.local/")
	t.Setenv("SPILLAGE_BASE_URL", "http://spill.local")
	t.Setenv("INVENTORY_BASE_URL", "http://inv.local")

	cfg := loadFrom(t, "")
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected invalid ttl to fall back to 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.POSBaseURL != "http://pos.local" || !cfg.UpstreamEnabled() {
		t.Fatalf("unexpected upstream config %+v", cfg)
	}
	if _, err := cfg.Location(); err != nil {
		t.Fatalf("expected Asia/Manila to load: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "spillaged.yaml")
	body := "port: \"7000\"\nform_idle_ttl_minutes: 5\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := loadFrom(t, path)
	if cfg.Port != "7000" || cfg.FormIdleTTLMinutes != 5 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("expected config file %s, got %s", path, cfg.ConfigFile)
	}
}

func TestExplicitMissingConfigFileFails(t *testing.T) {
	if _, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}
