package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Sentinel-Gate/sentinelscan/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/sentinelscan/internal/adapter/outbound/scanner"
	"github.com/Sentinel-Gate/sentinelscan/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/sentinelscan/internal/config"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/breaker"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/cache"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scan"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scangroup"
	"github.com/Sentinel-Gate/sentinelscan/internal/port/outbound"
	"github.com/Sentinel-Gate/sentinelscan/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scan server",
	Long: `Start the sentinel-scan HTTP server.

The server exposes the scan engine over HTTP:
  POST /v1/evaluate   Submit text for evaluation
  GET  /v1/stats      In-memory statistics snapshot
  GET  /v1/audit      Recent audit entries (when audit is configured)
  GET  /health        Health check (unauthenticated)
  GET  /metrics       Prometheus metrics

Examples:
  # Start with config file settings
  sentinel-scan serve

  # Start with a specific config file
  sentinel-scan --config /path/to/config.yaml serve`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, trace export)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Setup logger to stderr.
	// Priority: DevMode=true -> debug, otherwise use configured log_level
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	return serve(ctx, cfg, logger)
}

// serve wires all components together and runs the HTTP server until the
// context is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Trace export goes to stderr in dev mode; otherwise the global noop
	// tracer provider stays in place and spans cost nothing.
	shutdownTracing, err := setupTracing(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	scannerClient := buildScannerClient(cfg)
	logger.Info("scanner backend configured",
		"dialect", scannerClient.Dialect(),
		"timeout", cfg.Scanner.TimeoutDuration(),
	)

	resultCache := cache.New(cfg.Cache.MaxSize, cfg.Cache.TTLDuration())
	cb := breaker.New(breaker.Config{
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		ResetTimeout:        cfg.Breaker.ResetTimeoutDuration(),
		HalfOpenMaxAttempts: cfg.Breaker.HalfOpenMaxAttempts,
	}, logger)
	limiter := ratelimit.New(ratelimit.Config{
		InitialBackoff: cfg.Backoff.InitialDuration(),
		MaxBackoff:     cfg.Backoff.MaxDuration(),
		MaxTenants:     cfg.Backoff.MaxTenants,
	}, logger)
	tracker := scangroup.New(0)
	stats := service.NewMetricsService(0, 0)

	bypass, err := buildBypassEvaluator(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to compile bypass rules: %w", err)
	}
	if bypass != nil {
		logger.Info("bypass rules compiled", "rules", len(cfg.Bypass))
	}

	var auditStore outbound.AuditStore
	if cfg.Audit.Path != "" {
		store, err := sqlite.NewAuditStore(cfg.Audit.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		defer func() { _ = store.Close() }()
		auditStore = store
		logger.Info("audit trail enabled", "path", cfg.Audit.Path)
	}

	orch := service.NewOrchestrator(
		service.OrchestratorConfig{
			MaxPayloadBytes:   cfg.Limits.MaxPayloadBytes,
			MaxCacheableBytes: cfg.Cache.MaxCacheableBytes,
			CacheEnabled:      cfg.Cache.Enabled,
			ScanTimeout:       cfg.Scanner.TimeoutDuration(),
			Policy:            buildFailPolicy(cfg.FailOpen),
		},
		scannerClient, resultCache, cb, limiter, tracker, stats, bypass, auditStore, logger,
	)

	serverOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithDialect(string(scannerClient.Dialect())),
		http.WithVersion(Version),
	}
	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		serverOpts = append(serverOpts, http.WithTLS(cfg.Server.TLSCert, cfg.Server.TLSKey))
	}
	if len(cfg.Auth.APIKeyHashes) > 0 {
		serverOpts = append(serverOpts, http.WithAPIKeyHashes(cfg.Auth.APIKeyHashes))
	} else {
		logger.Warn("no API key hashes configured, accepting unauthenticated requests")
	}
	if auditStore != nil {
		serverOpts = append(serverOpts, http.WithAuditStore(auditStore))
	}

	logger.Info("sentinel-scan starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"dialect", scannerClient.Dialect(),
		"cache_enabled", cfg.Cache.Enabled,
		"fail_open_default", cfg.FailOpen.Default,
		"audit_path", cfg.Audit.Path,
	)
	printBanner(Version, cfg.Server.HTTPAddr, cfg.DevMode, string(scannerClient.Dialect()), cfg.Cache.Enabled, len(cfg.Bypass))

	server := http.NewServer(orch, stats, serverOpts...)
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("sentinel-scan stopped")
	return nil
}

// buildScannerClient selects the backend dialect from the credential shape.
func buildScannerClient(cfg *config.Config) outbound.ScannerClient {
	timeout := cfg.Scanner.TimeoutDuration()
	if cfg.Scanner.UsesProDialect() {
		return scanner.NewProClient(cfg.Scanner.Credential, cfg.Scanner.Endpoint, timeout)
	}
	return scanner.NewLocalClient(cfg.Scanner.Endpoint, timeout)
}

// buildBypassEvaluator compiles the configured CEL bypass rules.
// Returns nil when no rules are configured.
func buildBypassEvaluator(cfg *config.Config, logger *slog.Logger) (*policy.BypassEvaluator, error) {
	if len(cfg.Bypass) == 0 {
		return nil, nil
	}
	rules := make([]policy.BypassRule, len(cfg.Bypass))
	for i, r := range cfg.Bypass {
		rules[i] = policy.BypassRule{Name: r.Name, Expression: r.Expression}
	}
	return policy.NewBypassEvaluator(rules, logger)
}

// buildFailPolicy converts the config's pointer-based per-direction
// overrides into the orchestrator's fail policy.
func buildFailPolicy(fo config.FailOpenConfig) service.FailPolicy {
	overrides := make(map[scan.Direction]bool)
	if fo.Inbound != nil {
		overrides[scan.DirectionInbound] = *fo.Inbound
	}
	if fo.Outbound != nil {
		overrides[scan.DirectionOutbound] = *fo.Outbound
	}
	if fo.ToolArgument != nil {
		overrides[scan.DirectionToolArgument] = *fo.ToolArgument
	}
	if fo.ToolResult != nil {
		overrides[scan.DirectionToolResult] = *fo.ToolResult
	}
	return service.FailPolicy{Default: fo.Default, Overrides: overrides}
}

// setupTracing installs a stdout trace exporter in dev mode. In production
// the global provider stays noop. The returned function flushes and shuts
// down the exporter.
func setupTracing(cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.DevMode {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr with version,
// address, mode, and engine settings.
func printBanner(version, httpAddr string, devMode bool, dialect string, cacheEnabled bool, bypassRules int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	baseURL := fmt.Sprintf("http://localhost%s", httpAddr)
	if !strings.HasPrefix(httpAddr, ":") {
		baseURL = fmt.Sprintf("http://%s", httpAddr)
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}

	cacheStr := "enabled"
	if !cacheEnabled {
		cacheStr = "disabled"
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s SentinelScan %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s/v1/evaluate\n", "Evaluate:", baseURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s/metrics\n", "Metrics:", baseURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Dialect:", dialect)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Cache:", cacheStr)
	fmt.Fprintf(os.Stderr, "  %-14s %d active\n", "Bypass rules:", bypassRules)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}
