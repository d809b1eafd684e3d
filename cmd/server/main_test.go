package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wastedesk/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigRejectsUnknownZone(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", TimeZone: "Mars/Olympus"})
	if err == nil {
		t.Fatalf("expected unknown time zone to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", TimeZone: "Asia/Manila"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestCheckConfigPrintsEffectiveSettings(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("AUTH_SECRET", "")
	path := filepath.Join(t.TempDir(), "spillaged.yaml")
	content := "auth_secret: 0123456789abcdef0123456789abcdef\nport: \"9191\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check-config", "--config", path, "--loglevel", "error"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		cfgFile, logLevel = "", ""
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("check-config: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "listen: :9191") || !strings.Contains(got, "auth secret: (set)") || !strings.Contains(got, "log level: error") {
		t.Fatalf("unexpected output:\n%s", got)
	}
	if strings.Contains(got, "0123456789abcdef") {
		t.Fatalf("expected secret to be masked:\n%s", got)
	}
}
