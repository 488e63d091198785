package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "is_debug: true\nlisten:\n  port: \"5001\"\n")
	conf, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !conf.IsDebug {
		t.Error("is_debug not read")
	}
	if conf.Listen.Port != "5001" {
		t.Errorf("listen.port = %q, want 5001", conf.Listen.Port)
	}
	if conf.Ledger.IdleGap != 5*time.Minute {
		t.Errorf("ledger.idle_gap = %v, want 5m", conf.Ledger.IdleGap)
	}
	if conf.Commands.Timeout != 10*time.Second {
		t.Errorf("commands.timeout = %v, want 10s", conf.Commands.Timeout)
	}
}

func TestLoad_RejectsInvalidOcpi(t *testing.T) {
	path := writeConfig(t, "ocpi:\n  enabled: true\n  url: http://partner\n  token: abc\n  country_code: FRA\n  party_id: ABC\n  tenant: t\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "country_code") {
		t.Errorf("error = %v, want country_code message", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_RejectsNegativeDurations(t *testing.T) {
	path := writeConfig(t, "commands:\n  meter_trigger: -1s\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "meter_trigger") {
		t.Fatalf("error = %v, want meter_trigger message", err)
	}
}
