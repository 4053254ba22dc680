// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// Config is the complete hivemind client configuration.
type Config struct {
	// GatewayURL is the base URL of the hivemind gateway.
	GatewayURL string `toml:"gateway_url"`

	// ChainID identifies the agent network the gateway fronts.
	ChainID string `toml:"chain_id"`

	// WalletAddress identifies the user to the gateway. Signing happens
	// outside this client; only the address travels with requests.
	WalletAddress string `toml:"wallet_address"`

	// DataDir holds conversations, telemetry and the config file itself.
	// Empty means ~/.hivemind.
	DataDir string `toml:"data_dir"`

	// RequestTimeoutSecs bounds synchronous gateway requests.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`

	// MaxRetries is the retry budget for synchronous sends.
	MaxRetries int `toml:"max_retries"`

	// RateLimitRPS throttles outgoing requests; 0 disables.
	RateLimitRPS float64 `toml:"rate_limit_rps"`

	// DefaultAgents seeds the selected-agents list on first run.
	DefaultAgents []string `toml:"default_agents"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		GatewayURL:         "http://localhost:8000",
		ChainID:            "hive-main",
		RequestTimeoutSecs: 60,
		MaxRetries:         3,
		LogLevel:           "info",
	}
}

// Timeout returns the request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// =============================================================================
// PATHS
// =============================================================================

const configFileName = "config.toml"

// DataDirPath resolves the data directory, defaulting to ~/.hivemind.
func (c *Config) DataDirPath() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".hivemind"), nil
}

// DefaultConfigPath returns the path of the config file under the
// default data directory.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".hivemind", configFileName), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file from the default location, falling back to
// defaults when no file exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file. A missing file
// is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.fillDefaults()
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults restores defaults for fields the file left zero.
func (c *Config) fillDefaults() {
	d := Default()
	if c.GatewayURL == "" {
		c.GatewayURL = d.GatewayURL
	}
	if c.ChainID == "" {
		c.ChainID = d.ChainID
	}
	if c.RequestTimeoutSecs == 0 {
		c.RequestTimeoutSecs = d.RequestTimeoutSecs
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// ApplyEnvOverrides applies HIVEMIND_* environment variables over the
// loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HIVEMIND_GATEWAY_URL"); v != "" {
		c.GatewayURL = v
	}
	if v := os.Getenv("HIVEMIND_CHAIN_ID"); v != "" {
		c.ChainID = v
	}
	if v := os.Getenv("HIVEMIND_WALLET"); v != "" {
		c.WalletAddress = v
	}
	if v := os.Getenv("HIVEMIND_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HIVEMIND_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.RequestTimeoutSecs = secs
		}
	}
	if v := os.Getenv("HIVEMIND_AGENTS"); v != "" {
		var agents []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				agents = append(agents, a)
			}
		}
		c.DefaultAgents = agents
	}
	if v := os.Getenv("HIVEMIND_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to path with owner-only permissions.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# hivemind configuration file")
	fmt.Fprintln(file, "# Generated by hivemind - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.GatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "gateway_url",
			Message: fmt.Sprintf("invalid URL %q, must include scheme and host", c.GatewayURL),
		})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, ValidationError{
			Field:   "gateway_url",
			Message: fmt.Sprintf("unsupported scheme %q, must be http or https", u.Scheme),
		})
	}

	if c.ChainID == "" {
		errs = append(errs, ValidationError{Field: "chain_id", Message: "must not be empty"})
	}
	if c.RequestTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{Field: "request_timeout_secs", Message: "must be positive"})
	}
	if c.MaxRetries < 1 {
		errs = append(errs, ValidationError{Field: "max_retries", Message: "must be at least 1"})
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, ValidationError{Field: "rate_limit_rps", Message: "must not be negative"})
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("invalid level %q, must be one of: debug, info, warn, error", c.LogLevel),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
