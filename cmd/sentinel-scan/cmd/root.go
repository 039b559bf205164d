// Package cmd provides the CLI commands for the sentinel-scan server.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinelscan/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sentinel-scan",
	Short: "Sentinel Scan - resilient content-safety scan engine",
	Long: `Sentinel Scan sits between an AI agent and a remote content-safety
scanner, submitting intercepted text for evaluation and shielding the
agent from backend outages with caching, a circuit breaker, and
per-tenant backoff.

Quick start:
  1. Create a config file: sentinel-scan.yaml
  2. Run: sentinel-scan serve

Configuration:
  Config is loaded from sentinel-scan.yaml in the current directory,
  $HOME/.sentinel-scan/, or /etc/sentinel-scan/.

  Environment variables can override config values with the SENTINEL_SCAN_ prefix.
  Example: SENTINEL_SCAN_SCANNER_ENDPOINT=http://localhost:9090/scan

Commands:
  serve       Start the scan server
  scan        Evaluate one piece of text and print the result
  hash-key    Generate a hash for an API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sentinel-scan.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
