// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete sessionguard configuration.
type Config struct {
	Session SessionConfig `toml:"session" json:"session"`
	Routes  RoutesConfig  `toml:"routes" json:"routes"`
	Store   StoreConfig   `toml:"store" json:"store"`
	Audit   AuditConfig   `toml:"audit" json:"audit"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
	Auth    AuthConfig    `toml:"auth" json:"auth"`
}

// SessionConfig holds the inactivity schedule and sign-out timing.
type SessionConfig struct {
	// TimeoutSecs is the inactivity period before sign-out.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// WarningOffsetsSecs are the seconds-before-timeout at which warnings show.
	// Omit for the defaults; an empty list disables warnings.
	WarningOffsetsSecs []int `toml:"warning_offsets_secs" json:"warning_offsets_secs"`
	// SignOutDelayMs keeps the expired notice visible before navigating.
	SignOutDelayMs int `toml:"sign_out_delay_ms" json:"sign_out_delay_ms"`
	// SignOutTimeoutSecs bounds the sign-out call.
	SignOutTimeoutSecs int `toml:"sign_out_timeout_secs" json:"sign_out_timeout_secs"`
}

// RoutesConfig holds the route policy.
type RoutesConfig struct {
	// Excluded are sign-in and bootstrap route prefixes that are never tracked.
	Excluded []string `toml:"excluded" json:"excluded"`
	// Included are tracked even when below an excluded prefix.
	Included []string `toml:"included" json:"included"`
	// SignedOut is where the user lands after an expiry.
	SignedOut string `toml:"signed_out" json:"signed_out"`
	// Landing is the route shown after sign-in.
	Landing string `toml:"landing" json:"landing"`
}

// StoreConfig selects the shared activity record backend.
type StoreConfig struct {
	// Backend is one of memory, file, sqlite, redis, postgres.
	Backend string `toml:"backend" json:"backend"`
	// Path is the directory (file) or database file (sqlite). Empty uses
	// a location under the config directory.
	Path           string `toml:"path" json:"path"`
	Key            string `toml:"key" json:"key"`
	RedisURL       string `toml:"redis_url" json:"redis_url"`
	PostgresDSN    string `toml:"postgres_dsn" json:"postgres_dsn"`
	PollIntervalMs int    `toml:"poll_interval_ms" json:"poll_interval_ms"`
}

// AuditConfig controls the JSON-lines audit trail.
type AuditConfig struct {
	Enabled   bool   `toml:"enabled" json:"enabled"`
	Path      string `toml:"path" json:"path"`
	MaxSizeMB int    `toml:"max_size_mb" json:"max_size_mb"`
}

// MetricsConfig controls the HTTP status endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Addr    string `toml:"addr" json:"addr"`
}

// AuthConfig holds the TOTP sign-in settings.
type AuthConfig struct {
	Issuer     string `toml:"issuer" json:"issuer"`
	Account    string `toml:"account" json:"account"`
	TOTPSecret string `toml:"totp_secret" json:"totp_secret"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			TimeoutSecs:        600,
			WarningOffsetsSecs: []int{120, 60, 30},
			SignOutDelayMs:     2000,
			SignOutTimeoutSecs: 10,
		},
		Routes: RoutesConfig{
			Excluded:  []string{"/", "/login", "/auth"},
			Included:  []string{"/dashboard"},
			SignedOut: "/login",
			Landing:   "/dashboard",
		},
		Store: StoreConfig{
			Backend:        "file",
			Key:            "sessionguard.lastActivity",
			PollIntervalMs: 250,
		},
		Audit: AuditConfig{
			Enabled:   true,
			MaxSizeMB: 10,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Auth: AuthConfig{
			Issuer:  "sessionguard",
			Account: "operator",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.sessionguard.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".sessionguard"), nil
}

// ConfigPathTOML returns the TOML config file path.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the JSON config file path.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir creates the config directory with owner-only access.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens a config file to 0600; it may hold a TOTP secret.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0077 != 0 {
		return os.Chmod(path, 0600)
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadEnvFiles loads .env from the working directory and the config
// directory. Variables already set in the environment win.
func LoadEnvFiles() error {
	candidates := []string{".env"}
	if dir, err := ConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads .env files, then the TOML config, falling back to JSON and
// then to defaults, and applies environment overrides.
func Load() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cfg := Default()
	var loadErr error

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
				cfg = Default()
			} else {
				return finish(cfg)
			}
		}
	}

	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
				cfg = Default()
			} else {
				return finish(cfg)
			}
		}
	}

	cfg, err := finish(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadFromPath loads a specific config file. Files ending in .json are
// decoded as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// fillDefaults replaces zero values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	// Session
	if cfg.Session.TimeoutSecs == 0 {
		cfg.Session.TimeoutSecs = defaults.Session.TimeoutSecs
	}
	if cfg.Session.WarningOffsetsSecs == nil {
		cfg.Session.WarningOffsetsSecs = defaults.Session.WarningOffsetsSecs
	}
	if cfg.Session.SignOutDelayMs == 0 {
		cfg.Session.SignOutDelayMs = defaults.Session.SignOutDelayMs
	}
	if cfg.Session.SignOutTimeoutSecs == 0 {
		cfg.Session.SignOutTimeoutSecs = defaults.Session.SignOutTimeoutSecs
	}

	// Routes
	if cfg.Routes.Excluded == nil {
		cfg.Routes.Excluded = defaults.Routes.Excluded
	}
	if cfg.Routes.Included == nil {
		cfg.Routes.Included = defaults.Routes.Included
	}
	if cfg.Routes.SignedOut == "" {
		cfg.Routes.SignedOut = defaults.Routes.SignedOut
	}
	if cfg.Routes.Landing == "" {
		cfg.Routes.Landing = defaults.Routes.Landing
	}

	// Store
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = defaults.Store.Backend
	}
	if cfg.Store.Key == "" {
		cfg.Store.Key = defaults.Store.Key
	}
	if cfg.Store.PollIntervalMs == 0 {
		cfg.Store.PollIntervalMs = defaults.Store.PollIntervalMs
	}

	// Audit
	if cfg.Audit.MaxSizeMB == 0 {
		cfg.Audit.MaxSizeMB = defaults.Audit.MaxSizeMB
	}

	// Metrics
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = defaults.Metrics.Addr
	}

	// Auth
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = defaults.Auth.Issuer
	}
	if cfg.Auth.Account == "" {
		cfg.Auth.Account = defaults.Auth.Account
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# sessionguard configuration file")
	fmt.Fprintln(file, "# Generated by sessionguard - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validBackends = map[string]bool{
	"memory": true, "file": true, "sqlite": true, "redis": true, "postgres": true,
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Session
	if c.Session.TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.timeout_secs",
			Message: fmt.Sprintf("must be positive, got %d", c.Session.TimeoutSecs),
		})
	}
	for _, off := range c.Session.WarningOffsetsSecs {
		if off <= 0 || off >= c.Session.TimeoutSecs {
			errs = append(errs, ValidationError{
				Field:   "session.warning_offsets_secs",
				Message: fmt.Sprintf("offset %d must be between 1 and %d", off, c.Session.TimeoutSecs-1),
			})
		}
	}
	if c.Session.SignOutDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.sign_out_delay_ms",
			Message: "cannot be negative",
		})
	}
	if c.Session.SignOutTimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.sign_out_timeout_secs",
			Message: "cannot be negative",
		})
	}

	// Routes
	for field, route := range map[string]string{
		"routes.signed_out": c.Routes.SignedOut,
		"routes.landing":    c.Routes.Landing,
	} {
		if !strings.HasPrefix(route, "/") {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("route %q must start with /", route),
			})
		}
	}

	// Store
	backend := strings.ToLower(c.Store.Backend)
	if !validBackends[backend] {
		errs = append(errs, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: memory, file, sqlite, redis, postgres", c.Store.Backend),
		})
	}
	if backend == "redis" && c.Store.RedisURL == "" {
		errs = append(errs, ValidationError{Field: "store.redis_url", Message: "required for the redis backend"})
	}
	if backend == "postgres" && c.Store.PostgresDSN == "" {
		errs = append(errs, ValidationError{Field: "store.postgres_dsn", Message: "required for the postgres backend"})
	}
	if c.Store.PollIntervalMs < 0 {
		errs = append(errs, ValidationError{Field: "store.poll_interval_ms", Message: "cannot be negative"})
	}

	// Audit
	if c.Audit.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{Field: "audit.max_size_mb", Message: "cannot be negative"})
	}

	// Metrics
	if c.Metrics.Enabled && !strings.Contains(c.Metrics.Addr, ":") {
		errs = append(errs, ValidationError{
			Field:   "metrics.addr",
			Message: fmt.Sprintf("invalid listen address %q", c.Metrics.Addr),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies SESSIONGUARD_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	// SESSIONGUARD_TIMEOUT_SECS
	if v := os.Getenv("SESSIONGUARD_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.TimeoutSecs = n
		}
	}

	// SESSIONGUARD_WARNING_OFFSETS (comma separated seconds)
	if v, ok := os.LookupEnv("SESSIONGUARD_WARNING_OFFSETS"); ok {
		offsets := []int{}
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if n, err := strconv.Atoi(part); err == nil {
				offsets = append(offsets, n)
			}
		}
		c.Session.WarningOffsetsSecs = offsets
	}

	// SESSIONGUARD_STORE_BACKEND / SESSIONGUARD_STORE_PATH
	if v := os.Getenv("SESSIONGUARD_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("SESSIONGUARD_STORE_PATH"); v != "" {
		c.Store.Path = v
	}

	// SESSIONGUARD_REDIS_URL / SESSIONGUARD_POSTGRES_DSN
	if v := os.Getenv("SESSIONGUARD_REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv("SESSIONGUARD_POSTGRES_DSN"); v != "" {
		c.Store.PostgresDSN = v
	}

	// SESSIONGUARD_AUDIT / SESSIONGUARD_AUDIT_PATH
	if v := os.Getenv("SESSIONGUARD_AUDIT"); v != "" {
		c.Audit.Enabled = v == "1" || strings.ToLower(v) == "true"
	}
	if v := os.Getenv("SESSIONGUARD_AUDIT_PATH"); v != "" {
		c.Audit.Path = v
	}

	// SESSIONGUARD_METRICS_ADDR enables the endpoint.
	if v := os.Getenv("SESSIONGUARD_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.Addr = v
	}

	// SESSIONGUARD_TOTP_SECRET / SESSIONGUARD_ACCOUNT
	if v := os.Getenv("SESSIONGUARD_TOTP_SECRET"); v != "" {
		c.Auth.TOTPSecret = v
	}
	if v := os.Getenv("SESSIONGUARD_ACCOUNT"); v != "" {
		c.Auth.Account = v
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Timeout returns the inactivity timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Session.TimeoutSecs) * time.Second
}

// WarningOffsets returns the warning offsets as durations.
func (c *Config) WarningOffsets() []time.Duration {
	out := make([]time.Duration, 0, len(c.Session.WarningOffsetsSecs))
	for _, s := range c.Session.WarningOffsetsSecs {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

// SignOutDelay returns the delay between the expired notice and navigation.
func (c *Config) SignOutDelay() time.Duration {
	return time.Duration(c.Session.SignOutDelayMs) * time.Millisecond
}

// SignOutTimeout returns the sign-out call bound.
func (c *Config) SignOutTimeout() time.Duration {
	return time.Duration(c.Session.SignOutTimeoutSecs) * time.Second
}

// PollInterval returns the polling interval for polling store backends.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Store.PollIntervalMs) * time.Millisecond
}

// StorePath returns the configured store path, or a default under the
// config directory for the file and sqlite backends.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	switch strings.ToLower(c.Store.Backend) {
	case "file":
		return filepath.Join(dir, "shared"), nil
	case "sqlite":
		return filepath.Join(dir, "activity.db"), nil
	default:
		return "", nil
	}
}

// AuditMaxSize returns the rotation size in bytes.
func (c *Config) AuditMaxSize() int64 {
	return int64(c.Audit.MaxSizeMB) * 1024 * 1024
}

// =============================================================================
// GLOBAL INSTANCE
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// ErrNoConfig is returned by ReloadGlobal when loading produced nothing.
var ErrNoConfig = errors.New("no configuration loaded")

// Global returns the global configuration, loading it on first access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if cfg == nil {
		if err == nil {
			err = ErrNoConfig
		}
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return err
}

// SetGlobal replaces the global configuration.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state between tests.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
