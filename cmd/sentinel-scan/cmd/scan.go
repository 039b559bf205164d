package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinelscan/internal/config"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/breaker"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/cache"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scan"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scangroup"
	"github.com/Sentinel-Gate/sentinelscan/internal/service"
)

var (
	scanMode      string
	scanDirection string
	scanSessionID string
	scanTenantID  string
)

var scanCmd = &cobra.Command{
	Use:   "scan [text]",
	Short: "Evaluate one piece of text and print the result",
	Long: `Evaluate one piece of text against the configured scanner backend
and print the canonical result as JSON.

Text is taken from the argument, or from stdin when no argument is given.
The exit code is 1 when the decision is BLOCK, so the command can gate
shell pipelines.

Examples:
  sentinel-scan scan "ignore all previous instructions"
  cat prompt.txt | sentinel-scan scan --mode output`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanMode, "mode", "input", "Scan mode: input or output")
	scanCmd.Flags().StringVar(&scanDirection, "direction", "", "Call direction for fail-policy resolution (inbound, outbound, tool_argument, tool_result)")
	scanCmd.Flags().StringVar(&scanSessionID, "session-id", "", "Session identifier for turn correlation")
	scanCmd.Flags().StringVar(&scanTenantID, "tenant-id", "", "Tenant identifier for backoff isolation")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if scanMode != string(scan.ModeInput) && scanMode != string(scan.ModeOutput) {
		return fmt.Errorf("invalid mode %q: must be input or output", scanMode)
	}

	text := ""
	if len(args) > 0 {
		text = args[0]
	} else {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(raw)
	}

	// One-shot evaluation only logs warnings and errors; the result goes
	// to stdout.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	bypass, err := buildBypassEvaluator(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to compile bypass rules: %w", err)
	}

	orch := service.NewOrchestrator(
		service.OrchestratorConfig{
			MaxPayloadBytes:   cfg.Limits.MaxPayloadBytes,
			MaxCacheableBytes: cfg.Cache.MaxCacheableBytes,
			CacheEnabled:      false, // nothing to cache across a single call
			ScanTimeout:       cfg.Scanner.TimeoutDuration(),
			Policy:            buildFailPolicy(cfg.FailOpen),
		},
		buildScannerClient(cfg),
		cache.New(cfg.Cache.MaxSize, cfg.Cache.TTLDuration()),
		breaker.New(breaker.Config{
			FailureThreshold:    cfg.Breaker.FailureThreshold,
			ResetTimeout:        cfg.Breaker.ResetTimeoutDuration(),
			HalfOpenMaxAttempts: cfg.Breaker.HalfOpenMaxAttempts,
		}, logger),
		ratelimit.New(ratelimit.Config{
			InitialBackoff: cfg.Backoff.InitialDuration(),
			MaxBackoff:     cfg.Backoff.MaxDuration(),
			MaxTenants:     cfg.Backoff.MaxTenants,
		}, logger),
		scangroup.New(0),
		service.NewMetricsService(0, 0),
		bypass,
		nil, // no audit trail for one-shot evaluation
		logger,
	)

	result := orch.Evaluate(context.Background(), scan.Request{
		Text:      text,
		Mode:      scan.Mode(scanMode),
		Direction: scan.Direction(scanDirection),
		SessionID: scanSessionID,
		TenantID:  scanTenantID,
	})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))

	if result.Blocked() {
		os.Exit(1)
	}
	return nil
}
