package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.DisableForwarding {
		t.Errorf("expected forwarding enabled by default")
	}
	if c.HeartbeatInterval != 5*time.Second {
		t.Errorf("expected 5s default heartbeat interval, got %v", c.HeartbeatInterval)
	}
	if c.InitialTTL == 0 {
		t.Errorf("expected nonzero default TTL")
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	content := "disable_forwarding: true\nconnection_timeout: 7\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.DisableForwarding {
		t.Errorf("expected disable_forwarding=true from YAML")
	}
	if cfg.ConnectionTimeout != 7 {
		t.Errorf("expected connection_timeout=7 from YAML, got %d", cfg.ConnectionTimeout)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConnectionTimeout != Default().ConnectionTimeout {
		t.Errorf("expected default connection_timeout when file is absent")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	if err := os.WriteFile(path, []byte("connection_timeout: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BROKER_CONNECTION_TIMEOUT", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConnectionTimeout != 9 {
		t.Errorf("expected env var to win over YAML, got %d", cfg.ConnectionTimeout)
	}
}

func TestLoad_OptionsOverrideEverything(t *testing.T) {
	t.Setenv("BROKER_DISABLE_FORWARDING", "false")

	cfg, err := Load("", WithDisableForwarding(true))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.DisableForwarding {
		t.Errorf("expected programmatic option to win over env var")
	}
}

func TestDumpContent_FieldsReportOwnValues(t *testing.T) {
	cfg := Default()
	cfg.DisableSSL = true
	cfg.DisableForwarding = false

	dump := cfg.DumpContent()
	if !contains(dump, "disable_ssl=true") {
		t.Errorf("expected disable_ssl=true in dump, got %q", dump)
	}
	if !contains(dump, "disable_forwarding=false") {
		t.Errorf("expected disable_forwarding=false in dump, got %q", dump)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
