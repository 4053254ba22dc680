// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if cfg.GatewayURL != Default().GatewayURL {
		t.Errorf("gateway_url = %q", cfg.GatewayURL)
	}
}

func TestLoadFromPathFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
gateway_url = "https://gw.example.com"
wallet_address = "0xabc"
default_agents = ["codex", "scribe"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.GatewayURL != "https://gw.example.com" {
		t.Errorf("gateway_url = %q", cfg.GatewayURL)
	}
	if cfg.WalletAddress != "0xabc" {
		t.Errorf("wallet_address = %q", cfg.WalletAddress)
	}
	if !reflect.DeepEqual(cfg.DefaultAgents, []string{"codex", "scribe"}) {
		t.Errorf("default_agents = %v", cfg.DefaultAgents)
	}
	// Fields the file omitted keep their defaults.
	if cfg.ChainID != "hive-main" || cfg.RequestTimeoutSecs != 60 || cfg.LogLevel != "info" {
		t.Errorf("defaults not filled: %+v", cfg)
	}
	if cfg.Timeout() != 60*time.Second {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
}

func TestLoadFromPathRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("gateway_url = [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HIVEMIND_GATEWAY_URL", "https://override.example.com")
	t.Setenv("HIVEMIND_CHAIN_ID", "hive-test")
	t.Setenv("HIVEMIND_TIMEOUT_SECS", "15")
	t.Setenv("HIVEMIND_AGENTS", "codex, scribe ,")
	t.Setenv("HIVEMIND_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.GatewayURL != "https://override.example.com" {
		t.Errorf("gateway_url = %q", cfg.GatewayURL)
	}
	if cfg.ChainID != "hive-test" {
		t.Errorf("chain_id = %q", cfg.ChainID)
	}
	if cfg.RequestTimeoutSecs != 15 {
		t.Errorf("timeout = %d", cfg.RequestTimeoutSecs)
	}
	if !reflect.DeepEqual(cfg.DefaultAgents, []string{"codex", "scribe"}) {
		t.Errorf("agents = %v", cfg.DefaultAgents)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		GatewayURL:         "not-a-url",
		ChainID:            "",
		RequestTimeoutSecs: 0,
		MaxRetries:         0,
		RateLimitRPS:       -1,
		LogLevel:           "loud",
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	var errs ValidateErrors
	if !errors.As(err, &errs) {
		t.Fatalf("err type = %T", err)
	}
	if len(errs) != 6 {
		t.Errorf("errors = %d, want 6: %v", len(errs), errs)
	}
}

func TestValidateRejectsNonHTTPScheme(t *testing.T) {
	cfg := Default()
	cfg.GatewayURL = "ftp://gw.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("ftp scheme must be rejected")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.WalletAddress = "0xsaved"
	cfg.DefaultAgents = []string{"codex"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.WalletAddress != "0xsaved" || !reflect.DeepEqual(loaded.DefaultAgents, []string{"codex"}) {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestDataDirPathDefault(t *testing.T) {
	cfg := Default()
	dir, err := cfg.DataDirPath()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dir) != ".hivemind" {
		t.Errorf("data dir = %q", dir)
	}

	cfg.DataDir = "/tmp/custom"
	dir, err = cfg.DataDirPath()
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/tmp/custom" {
		t.Errorf("custom data dir = %q", dir)
	}
}
