// Package config provides configuration loading for the scan server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for sentinel-scan.yaml/.yml
// in standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("sentinel-scan")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SENTINEL_SCAN_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("SENTINEL_SCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a sentinel-scan config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".sentinel-scan"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "sentinel-scan"))
		}
	} else {
		paths = append(paths, "/etc/sentinel-scan")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for sentinel-scan.yaml
// or .yml. Returns the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "sentinel-scan"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: SENTINEL_SCAN_SCANNER_CREDENTIAL overrides scanner.credential
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.tls_cert")
	_ = viper.BindEnv("server.tls_key")

	_ = viper.BindEnv("scanner.credential")
	_ = viper.BindEnv("scanner.endpoint")
	_ = viper.BindEnv("scanner.timeout")

	_ = viper.BindEnv("cache.enabled")
	_ = viper.BindEnv("cache.ttl")
	_ = viper.BindEnv("cache.max_size")
	_ = viper.BindEnv("cache.max_cacheable_bytes")

	_ = viper.BindEnv("breaker.failure_threshold")
	_ = viper.BindEnv("breaker.reset_timeout")
	_ = viper.BindEnv("breaker.half_open_max_attempts")

	_ = viper.BindEnv("backoff.initial")
	_ = viper.BindEnv("backoff.max")
	_ = viper.BindEnv("backoff.max_tenants")

	_ = viper.BindEnv("fail_open.default")
	_ = viper.BindEnv("fail_open.inbound")
	_ = viper.BindEnv("fail_open.outbound")
	_ = viper.BindEnv("fail_open.tool_argument")
	_ = viper.BindEnv("fail_open.tool_result")

	_ = viper.BindEnv("limits.max_payload_bytes")

	_ = viper.BindEnv("audit.path")

	// bypass and auth.api_key_hashes are arrays; use the config file.

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, validates, and returns the Config.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Cache defaults to enabled unless explicitly disabled.
	// viper.IsSet distinguishes "not set" from an explicit false.
	if !viper.IsSet("cache.enabled") {
		cfg.Cache.Enabled = true
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
