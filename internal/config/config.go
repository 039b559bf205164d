// Package config provides the configuration schema for the scan server.
//
// Configuration is file-based (sentinel-scan.yaml) with environment variable
// overrides. The schema intentionally stays small: one scanner backend, one
// listener, in-memory resilience state, and an optional SQLite audit trail.
package config

import (
	"strings"
	"time"
)

// ProCredentialPrefix marks a credential for the cloud (Pro) scanner
// dialect. Credentials without it select the local sidecar dialect.
const ProCredentialPrefix = "ss-pro-"

// Config is the top-level configuration for the scan server.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Scanner configures the content-safety backend.
	Scanner ScannerConfig `yaml:"scanner" mapstructure:"scanner"`

	// Cache configures the fingerprint result cache.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Breaker configures the circuit breaker guarding the backend.
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// Backoff configures per-tenant rate-limit backoff.
	Backoff BackoffConfig `yaml:"backoff" mapstructure:"backoff"`

	// FailOpen configures the fail-open/fail-closed policy.
	FailOpen FailOpenConfig `yaml:"fail_open" mapstructure:"fail_open"`

	// Limits configures payload size bounds.
	Limits LimitsConfig `yaml:"limits" mapstructure:"limits"`

	// Bypass defines CEL rules that let matching traffic skip scanning.
	Bypass []BypassRuleConfig `yaml:"bypass" mapstructure:"bypass" validate:"omitempty,dive"`

	// Audit configures the SQLite audit trail.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Auth configures inbound API-key authentication.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// HTTPAddr is the address to listen on.
	// Defaults to "127.0.0.1:8484" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info". DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// TLSCert and TLSKey enable TLS when both are set.
	TLSCert string `yaml:"tls_cert" mapstructure:"tls_cert"`
	TLSKey  string `yaml:"tls_key" mapstructure:"tls_key"`
}

// ScannerConfig configures the content-safety backend.
// The credential shape selects the dialect: an "ss-pro-" prefix means the
// cloud API; otherwise the local sidecar at Endpoint is used.
type ScannerConfig struct {
	// Credential authenticates against the cloud API. Optional.
	Credential string `yaml:"credential" mapstructure:"credential"`

	// Endpoint is the scanner URL. Required for the local dialect;
	// for the Pro dialect it overrides the default cloud endpoint.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`

	// Timeout bounds one backend call (e.g. "10s").
	// Defaults to "10s" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// UsesProDialect reports whether the credential selects the cloud dialect.
func (s ScannerConfig) UsesProDialect() bool {
	return strings.HasPrefix(s.Credential, ProCredentialPrefix)
}

// TimeoutDuration returns the parsed timeout. Call after SetDefaults and
// Validate; an unparsable value falls back to 10s.
func (s ScannerConfig) TimeoutDuration() time.Duration {
	return parseDuration(s.Timeout, 10*time.Second)
}

// CacheConfig configures the fingerprint result cache.
type CacheConfig struct {
	// Enabled turns result caching on. Defaults to true (see SetDefaults).
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// TTL is how long a cached result stays valid (e.g. "5m").
	// Defaults to "5m".
	TTL string `yaml:"ttl" mapstructure:"ttl" validate:"omitempty,duration"`

	// MaxSize bounds the number of cached results. Defaults to 1000.
	MaxSize int `yaml:"max_size" mapstructure:"max_size" validate:"omitempty,min=1"`

	// MaxCacheableBytes is the largest payload stored in the cache.
	// Defaults to 10 KiB.
	MaxCacheableBytes int `yaml:"max_cacheable_bytes" mapstructure:"max_cacheable_bytes" validate:"omitempty,min=1"`
}

// TTLDuration returns the parsed TTL.
func (c CacheConfig) TTLDuration() time.Duration {
	return parseDuration(c.TTL, 5*time.Minute)
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Defaults to 5.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"omitempty,min=1"`

	// ResetTimeout is how long the breaker stays open (e.g. "30s").
	// Defaults to "30s".
	ResetTimeout string `yaml:"reset_timeout" mapstructure:"reset_timeout" validate:"omitempty,duration"`

	// HalfOpenMaxAttempts bounds trial calls per half-open episode.
	// Defaults to 3.
	HalfOpenMaxAttempts int `yaml:"half_open_max_attempts" mapstructure:"half_open_max_attempts" validate:"omitempty,min=1"`
}

// ResetTimeoutDuration returns the parsed reset timeout.
func (b BreakerConfig) ResetTimeoutDuration() time.Duration {
	return parseDuration(b.ResetTimeout, 30*time.Second)
}

// BackoffConfig configures per-tenant rate-limit backoff.
type BackoffConfig struct {
	// Initial is the backoff floor and starting window (e.g. "1s").
	// Defaults to "1s".
	Initial string `yaml:"initial" mapstructure:"initial" validate:"omitempty,duration"`

	// Max caps the backoff window (e.g. "60s"). Defaults to "60s".
	Max string `yaml:"max" mapstructure:"max" validate:"omitempty,duration"`

	// MaxTenants bounds the tenant-state map. Defaults to 10000.
	MaxTenants int `yaml:"max_tenants" mapstructure:"max_tenants" validate:"omitempty,min=1"`
}

// InitialDuration returns the parsed initial backoff.
func (b BackoffConfig) InitialDuration() time.Duration {
	return parseDuration(b.Initial, time.Second)
}

// MaxDuration returns the parsed backoff cap.
func (b BackoffConfig) MaxDuration() time.Duration {
	return parseDuration(b.Max, 60*time.Second)
}

// FailOpenConfig decides whether failed scans allow or block, globally and
// per call direction. Pointer fields distinguish "not set" from an explicit
// false, so an override can pin either value.
type FailOpenConfig struct {
	// Default applies when no per-direction override is set.
	// Defaults to false (fail closed).
	Default bool `yaml:"default" mapstructure:"default"`

	Inbound      *bool `yaml:"inbound" mapstructure:"inbound"`
	Outbound     *bool `yaml:"outbound" mapstructure:"outbound"`
	ToolArgument *bool `yaml:"tool_argument" mapstructure:"tool_argument"`
	ToolResult   *bool `yaml:"tool_result" mapstructure:"tool_result"`
}

// LimitsConfig configures payload size bounds.
type LimitsConfig struct {
	// MaxPayloadBytes is the hard payload ceiling. Defaults to 1 MiB.
	MaxPayloadBytes int `yaml:"max_payload_bytes" mapstructure:"max_payload_bytes" validate:"omitempty,min=1"`
}

// BypassRuleConfig defines one CEL bypass rule.
type BypassRuleConfig struct {
	// Name is a human-readable identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Expression is a CEL expression over scan metadata
	// (mode, tenant_id, session_id, text_size).
	Expression string `yaml:"expression" mapstructure:"expression" validate:"required"`
}

// AuditConfig configures the SQLite audit trail.
type AuditConfig struct {
	// Path is the SQLite database file. Empty disables the audit trail.
	Path string `yaml:"path" mapstructure:"path"`
}

// AuthConfig configures inbound API-key authentication.
// With no hashes configured the server accepts unauthenticated requests
// (local deployments behind a trusted boundary).
type AuthConfig struct {
	// APIKeyHashes holds accepted key hashes: argon2id, "sha256:"-prefixed,
	// or bare hex SHA-256. Generate with the hash-key subcommand.
	APIKeyHashes []string `yaml:"api_key_hashes" mapstructure:"api_key_hashes"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless explicitly configured otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8484"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.DevMode {
		c.Server.LogLevel = "debug"
	}

	if c.Scanner.Timeout == "" {
		c.Scanner.Timeout = "10s"
	}

	// Cache is on by default. viper.IsSet distinguishes "not set" from an
	// explicit false; the loader applies that before SetDefaults runs.
	if c.Cache.TTL == "" {
		c.Cache.TTL = "5m"
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = 1000
	}
	if c.Cache.MaxCacheableBytes == 0 {
		c.Cache.MaxCacheableBytes = 10 << 10
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.ResetTimeout == "" {
		c.Breaker.ResetTimeout = "30s"
	}
	if c.Breaker.HalfOpenMaxAttempts == 0 {
		c.Breaker.HalfOpenMaxAttempts = 3
	}

	if c.Backoff.Initial == "" {
		c.Backoff.Initial = "1s"
	}
	if c.Backoff.Max == "" {
		c.Backoff.Max = "60s"
	}
	if c.Backoff.MaxTenants == 0 {
		c.Backoff.MaxTenants = 10000
	}

	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits.MaxPayloadBytes = 1 << 20
	}
}

// parseDuration parses s, falling back to def when empty or invalid.
// Validation rejects invalid durations before this runs, so the fallback
// only covers programmatic construction.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
