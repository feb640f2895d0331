package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONCLAVE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.MaxConcurrentCalls != 4 {
		t.Fatalf("expected default concurrency 4, got %d", cfg.Engine.MaxConcurrentCalls)
	}
	if cfg.Engine.CallTimeout != 5*time.Minute {
		t.Fatalf("unexpected default call timeout: %v", cfg.Engine.CallTimeout)
	}
	if cfg.Store.Path != "data/conclave.db" {
		t.Fatalf("unexpected default store path: %s", cfg.Store.Path)
	}
}

func TestLoadFileWithEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conclave.yaml")
	content := `
engine:
  max_concurrent_calls: 8
  call_timeout: 30s
web:
  auth: ${TEST_WEB_AUTH}
workers:
  - key: skeptic
    name: The Skeptic
    role: "You challenge every assumption."
    tier: thinking
  - key: optimist
    name: The Optimist
    role: "You look for what could go right."
    tier: thinking
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONCLAVE_CONFIG", path)
	t.Setenv("TEST_WEB_AUTH", "sekrit")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.MaxConcurrentCalls != 8 {
		t.Fatalf("expected 8, got %d", cfg.Engine.MaxConcurrentCalls)
	}
	if cfg.Engine.CallTimeout != 30*time.Second {
		t.Fatalf("expected 30s, got %v", cfg.Engine.CallTimeout)
	}
	if cfg.Web.Auth != "sekrit" {
		t.Fatalf("env expansion failed: %q", cfg.Web.Auth)
	}
	if len(cfg.Workers) != 2 || cfg.Workers[0].Key != "skeptic" {
		t.Fatalf("unexpected workers: %+v", cfg.Workers)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONCLAVE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("CONCLAVE_STORE_PATH", "/tmp/other.db")
	t.Setenv("CONCLAVE_MAX_CONCURRENT_CALLS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Path != "/tmp/other.db" {
		t.Fatalf("store path override failed: %s", cfg.Store.Path)
	}
	if cfg.Engine.MaxConcurrentCalls != 2 {
		t.Fatalf("concurrency override failed: %d", cfg.Engine.MaxConcurrentCalls)
	}
}

func TestValidateRejectsDuplicateWorkers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conclave.yaml")
	content := `
workers:
  - key: skeptic
  - key: skeptic
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONCLAVE_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected duplicate worker key error")
	}
}
