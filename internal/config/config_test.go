package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Backend.URL != "http://localhost:5000" {
		t.Errorf("expected backend url 'http://localhost:5000', got %q", cfg.Backend.URL)
	}
	if cfg.Backend.Timeout != 120*time.Second {
		t.Errorf("expected timeout 120s, got %v", cfg.Backend.Timeout)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Admin.UserEnv != "ADMIN_USER" {
		t.Errorf("expected user_env 'ADMIN_USER', got %q", cfg.Admin.UserEnv)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
backend:
  url: https://triage.internal:5443
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Backend.URL != "https://triage.internal:5443" {
		t.Errorf("expected custom backend url, got %q", cfg.Backend.URL)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Backend.Timeout != 120*time.Second {
		t.Errorf("expected default timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Admin.PassEnv != "ADMIN_PASS" {
		t.Errorf("expected default pass_env, got %q", cfg.Admin.PassEnv)
	}
}

func TestParseRejectsInvalidBackendURL(t *testing.T) {
	data := []byte(`
backend:
  url: not a url
`)
	if _, err := parse(data); err == nil {
		t.Error("expected validation error for invalid backend url")
	}
}

func TestParseRejectsInvalidPort(t *testing.T) {
	data := []byte(`
server:
  port: 70000
`)
	if _, err := parse(data); err == nil {
		t.Error("expected validation error for out-of-range port")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Backend.URL == "" {
		t.Error("expected backend url to be populated from file")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestAdminCredentials(t *testing.T) {
	cfg := &Config{Admin: Admin{UserEnv: "TRIAGEDESK_TEST_USER", PassEnv: "TRIAGEDESK_TEST_PASS"}}

	t.Setenv("TRIAGEDESK_TEST_USER", "")
	t.Setenv("TRIAGEDESK_TEST_PASS", "")
	if _, _, ok := cfg.AdminCredentials(); ok {
		t.Error("expected no credentials when env is empty")
	}

	t.Setenv("TRIAGEDESK_TEST_USER", "admin")
	t.Setenv("TRIAGEDESK_TEST_PASS", "s3cret")
	user, pass, ok := cfg.AdminCredentials()
	if !ok || user != "admin" || pass != "s3cret" {
		t.Errorf("expected admin/s3cret, got %q/%q (ok=%v)", user, pass, ok)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		t.Errorf("expected missing .env to be ignored, got %v", err)
	}

	good := filepath.Join(dir, "good.env")
	if err := os.WriteFile(good, []byte("TRIAGEDESK_TEST_DOTENV=loaded\n"), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("TRIAGEDESK_TEST_DOTENV", "")
	os.Unsetenv("TRIAGEDESK_TEST_DOTENV")
	if err := loadDotEnv(good); err != nil {
		t.Fatalf("failed to load env file: %v", err)
	}
	if got := os.Getenv("TRIAGEDESK_TEST_DOTENV"); got != "loaded" {
		t.Errorf("expected variable loaded, got %q", got)
	}

	bad := filepath.Join(dir, "bad.env")
	if err := os.WriteFile(bad, []byte("BAD-KEY=1\n"), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	if err := loadDotEnv(bad); err == nil {
		t.Error("expected malformed .env to be reported")
	}
}
