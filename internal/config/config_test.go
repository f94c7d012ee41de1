package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "host: 127.0.0.1\nport: 9999\ndataDir: ./data\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxLineBytes != defaultMaxLineBytes {
		t.Fatalf("maxLineBytes default not applied: %d", cfg.MaxLineBytes)
	}
	if cfg.WALFsync != FsyncPeriodic {
		t.Fatalf("walFsync default not applied: %s", cfg.WALFsync)
	}
	if cfg.Auth != nil {
		t.Fatalf("expected no auth block")
	}
}

func TestLoadWithAuth(t *testing.T) {
	path := writeTemp(t, "host: 127.0.0.1\nport: 9999\ndataDir: ./data\nauth:\n  username: admin\n  password: secret\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth == nil || cfg.Auth.Username != "admin" || cfg.Auth.Password != "secret" {
		t.Fatalf("auth not parsed: %+v", cfg.Auth)
	}
}

func TestLoadRejectsBadFsyncPolicy(t *testing.T) {
	path := writeTemp(t, "host: 127.0.0.1\nport: 9999\ndataDir: ./data\nwalFsync: sometimes\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid walFsync")
	}
}

func TestLoadRequiresDataDir(t *testing.T) {
	path := writeTemp(t, "host: 127.0.0.1\nport: 9999\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing dataDir")
	}
}
