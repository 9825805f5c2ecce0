package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Defaults()
	cfg.DefaultProfile = "work"
	cfg.Sync.Interval = Duration{90 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Sync.Interval.Duration != 90*time.Second {
		t.Errorf("Sync.Interval = %v, want 1m30s", loaded.Sync.Interval)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestResolveMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Resolve(filepath.Join(t.TempDir(), "none.toml"), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.Interval.Duration != 5*time.Minute {
		t.Errorf("interval = %v, want 5m", cfg.Sync.Interval)
	}
	if cfg.Browser.Driver != "chromedp" {
		t.Errorf("driver = %q, want chromedp", cfg.Browser.Driver)
	}
}

func TestResolveLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	envPath := filepath.Join(dir, ".env")

	if err := os.WriteFile(path, []byte(`
[sync]
interval = "30s"

[browser]
driver = "rod"
settle_delay = "2s"
`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(envPath, []byte("ENTERCHAT_NATIVE_TOKEN=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENTERCHAT_BROWSER_DRIVER", "chromedp")
	t.Setenv("ENTERCHAT_NATIVE_TOKEN", "")

	cfg, err := Resolve(path, envPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.Interval.Duration != 30*time.Second {
		t.Errorf("interval = %v, want 30s", cfg.Sync.Interval)
	}
	if cfg.Browser.SettleDelay.Duration != 2*time.Second {
		t.Errorf("settle delay = %v, want 2s", cfg.Browser.SettleDelay)
	}
	if cfg.Browser.Driver != "chromedp" {
		t.Errorf("driver = %q, want env override chromedp", cfg.Browser.Driver)
	}
	if cfg.Sync.MessageLimit != 50 {
		t.Errorf("unset keys must keep defaults, message_limit = %d", cfg.Sync.MessageLimit)
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected error for invalid duration")
	}
}
