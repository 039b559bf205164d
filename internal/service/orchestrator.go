package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/sentinelscan/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/breaker"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/cache"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scan"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scangroup"
	"github.com/Sentinel-Gate/sentinelscan/internal/port/inbound"
	"github.com/Sentinel-Gate/sentinelscan/internal/port/outbound"
)

// defaultMaxPayloadBytes is the hard payload ceiling.
const defaultMaxPayloadBytes = 1 << 20 // 1 MiB

// defaultMaxCacheableBytes is the largest payload stored in the cache.
// Bigger payloads always go to the backend so the cache stays small.
const defaultMaxCacheableBytes = 10 << 10 // 10 KiB

// defaultScanTimeout bounds one backend call.
const defaultScanTimeout = 10 * time.Second

// Reason codes carried on fallback results. Generic by design so internal
// error detail never reaches downstream presentation layers.
const (
	ReasonPayloadTooLarge     = "payload_too_large"
	ReasonCircuitOpen         = "circuit_breaker_open"
	ReasonCircuitTripped      = "circuit_breaker_tripped"
	ReasonRateLimitedBackoff  = "rate_limited_backoff"
	ReasonScanFailed          = "scan_failed"
	ReasonScannerUnavailable  = "scanner_unavailable"
	reasonBypassPrefix        = "bypass:"
)

// FailPolicy decides whether a failed scan allows or blocks, per call
// direction. The zero value fails closed everywhere.
type FailPolicy struct {
	// Default applies when no per-direction override is set.
	Default bool
	// Overrides maps a direction to its fail-open setting.
	Overrides map[scan.Direction]bool
}

// FailOpen reports whether the given direction fails open.
func (p FailPolicy) FailOpen(d scan.Direction) bool {
	if v, ok := p.Overrides[d]; ok {
		return v
	}
	return p.Default
}

// OrchestratorConfig holds orchestrator tuning.
type OrchestratorConfig struct {
	// MaxPayloadBytes is the hard payload ceiling. Zero means 1 MiB.
	MaxPayloadBytes int
	// MaxCacheableBytes is the cacheable-size threshold. Zero means 10 KiB.
	MaxCacheableBytes int
	// CacheEnabled turns the fingerprint cache on.
	CacheEnabled bool
	// ScanTimeout bounds one backend call. Zero means 10s.
	ScanTimeout time.Duration
	// Policy is the fail-open/fail-closed policy.
	Policy FailPolicy
}

// Orchestrator sequences one scan: payload gate, bypass rules, circuit
// breaker, tenant backoff, cache, backend call, normalization, metrics,
// audit. It implements inbound.Evaluator: every failure mode resolves into
// a Result via the fail policy; Evaluate never returns an error and never
// retries within one call.
type Orchestrator struct {
	cfg OrchestratorConfig

	scanner outbound.ScannerClient
	cache   *cache.FingerprintCache
	breaker *breaker.CircuitBreaker
	limiter *ratelimit.TenantLimiter
	tracker *scangroup.Tracker
	metrics *MetricsService
	bypass  *policy.BypassEvaluator
	audit   outbound.AuditStore
	logger  *slog.Logger
	tracer  trace.Tracer

	now func() time.Time
}

// NewOrchestrator wires the orchestrator. scanner, cache, breaker, limiter,
// tracker, and metrics are required; bypass and auditStore may be nil.
func NewOrchestrator(
	cfg OrchestratorConfig,
	scanner outbound.ScannerClient,
	resultCache *cache.FingerprintCache,
	cb *breaker.CircuitBreaker,
	limiter *ratelimit.TenantLimiter,
	tracker *scangroup.Tracker,
	metrics *MetricsService,
	bypass *policy.BypassEvaluator,
	auditStore outbound.AuditStore,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = defaultMaxPayloadBytes
	}
	if cfg.MaxCacheableBytes <= 0 {
		cfg.MaxCacheableBytes = defaultMaxCacheableBytes
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = defaultScanTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		scanner: scanner,
		cache:   resultCache,
		breaker: cb,
		limiter: limiter,
		tracker: tracker,
		metrics: metrics,
		bypass:  bypass,
		audit:   auditStore,
		logger:  logger,
		tracer:  otel.Tracer("sentinelscan/orchestrator"),
		now:     time.Now,
	}
}

// evalState carries per-call bookkeeping through the pipeline.
type evalState struct {
	req       scan.Request
	direction scan.Direction
	evalID    string
	digest    string
	cacheable bool
	cacheKey  string
	latency   time.Duration
	cacheHit  bool
}

// Evaluate runs one scan end to end. See the package pipeline order above.
func (o *Orchestrator) Evaluate(ctx context.Context, req scan.Request) scan.Result {
	ctx, span := o.tracer.Start(ctx, "scan.evaluate",
		trace.WithAttributes(
			attribute.String("scan.mode", string(req.Mode)),
			attribute.String("scan.tenant_id", req.TenantID),
		))
	defer span.End()

	direction := req.Direction
	if direction == "" {
		direction = scan.DirectionForMode(req.Mode)
	}

	st := &evalState{
		req:       req,
		direction: direction,
		evalID:    uuid.NewString(),
		digest:    fmt.Sprintf("%016x", xxhash.Sum64String(req.Text)),
	}
	span.SetAttributes(attribute.String("scan.eval_id", st.evalID))

	result := o.evaluate(ctx, st)

	span.SetAttributes(
		attribute.String("scan.decision", string(result.Decision)),
		attribute.Int("scan.score", result.Score),
		attribute.Bool("scan.cache_hit", st.cacheHit),
	)
	return result
}

func (o *Orchestrator) evaluate(ctx context.Context, st *evalState) scan.Result {
	req := st.req

	// Hard ceiling before anything else. Oversized payloads still go
	// through the fail policy.
	if len(req.Text) > o.cfg.MaxPayloadBytes {
		o.logger.Warn("payload exceeds ceiling",
			"eval_id", st.evalID,
			"size", len(req.Text),
			"max", o.cfg.MaxPayloadBytes)
		return o.failure(ctx, st, scan.ErrPayloadTooLarge, ReasonPayloadTooLarge)
	}

	if name, ok := o.bypass.Match(ctx, string(req.Mode), req.TenantID, req.SessionID, len(req.Text)); ok {
		return o.bypassed(ctx, st, name)
	}

	st.cacheable = o.cfg.CacheEnabled && o.cache != nil && len(req.Text) <= o.cfg.MaxCacheableBytes
	if st.cacheable {
		st.cacheKey = cache.GenerateKey(req.TenantID, req.Mode, req.SessionID, req.Text)
	}

	// Breaker open: serve from cache if possible, never dial.
	if o.breaker.State() == breaker.StateOpen {
		if result, ok := o.cachedResult(st); ok {
			return o.finish(ctx, st, result, nil)
		}
		return o.failure(ctx, st, scan.ErrCircuitOpen, ReasonCircuitOpen)
	}

	// Tenant inside its backoff window: same cache-first fallback.
	if o.limiter.ShouldBackoff(req.TenantID) {
		if result, ok := o.cachedResult(st); ok {
			return o.finish(ctx, st, result, nil)
		}
		return o.failure(ctx, st, scan.ErrRateLimitedBackoff, ReasonRateLimitedBackoff)
	}

	if st.cacheable {
		if result, ok := o.cachedResult(st); ok {
			return o.finish(ctx, st, result, nil)
		}
		o.metrics.RecordCacheMiss()
	}

	// Output scans reuse the scan-group token from the session's last
	// input scan, when one is tracked.
	scanGroupID := req.ScanGroupID
	if scanGroupID == "" && req.Mode == scan.ModeOutput && req.SessionID != "" {
		if gid, ok := o.tracker.Lookup(req.SessionID); ok {
			scanGroupID = gid
		}
	}

	var raw []byte
	start := o.now()
	err := o.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ScanTimeout)
		defer cancel()

		body, scanErr := o.scanner.Scan(callCtx, outbound.ScanRequest{
			Text:        req.Text,
			Mode:        req.Mode,
			SessionID:   req.SessionID,
			ScanGroupID: scanGroupID,
		})
		if scanErr != nil {
			return scanErr
		}
		raw = body
		return nil
	})
	st.latency = o.now().Sub(start)

	if err != nil {
		if errors.Is(err, scan.ErrBackendRateLimited) {
			o.limiter.RecordRateLimit(req.TenantID)
		}
		if errors.Is(err, breaker.ErrOpen) || errors.Is(err, breaker.ErrTrialsExhausted) {
			return o.failure(ctx, st, scan.ErrCircuitOpen, ReasonCircuitTripped)
		}
		o.logger.Warn("backend scan failed",
			"eval_id", st.evalID,
			"mode", req.Mode,
			"error_kind", scan.ErrorKind(err),
			"error", err)
		return o.failure(ctx, st, err, ReasonScanFailed)
	}

	result := scan.Normalize(raw, o.scanner.Dialect())
	o.limiter.RecordSuccess(req.TenantID)

	if req.Mode == scan.ModeInput && req.SessionID != "" && result.ScanGroupID != "" {
		o.tracker.Track(req.SessionID, result.ScanGroupID)
	}
	if st.cacheable {
		o.cache.Set(st.cacheKey, result)
	}
	return o.finish(ctx, st, result, nil)
}

// cachedResult looks up the fingerprint, counting a hit on success.
// Misses are not counted here; only the main-path lookup counts them.
func (o *Orchestrator) cachedResult(st *evalState) (scan.Result, bool) {
	if !st.cacheable {
		return scan.Result{}, false
	}
	result, ok := o.cache.Get(st.cacheKey)
	if !ok {
		return scan.Result{}, false
	}
	o.metrics.RecordCacheHit()
	st.cacheHit = true
	return result, true
}

// bypassed short-circuits scanning for a matched bypass rule.
func (o *Orchestrator) bypassed(ctx context.Context, st *evalState, rule string) scan.Result {
	o.logger.Debug("scan bypassed by rule", "eval_id", st.evalID, "rule", rule)
	result := scan.Result{
		Decision:  scan.DecisionAllow,
		SessionID: st.req.SessionID,
		Reason:    reasonBypassPrefix + rule,
		IsSafe:    true,
	}
	return o.finish(ctx, st, result, nil)
}

// failure resolves a failed scan through the fail policy. Fail-open returns
// ALLOW with the gate's reason; fail-closed returns BLOCK with a generic
// unavailability reason.
func (o *Orchestrator) failure(ctx context.Context, st *evalState, err error, reason string) scan.Result {
	var result scan.Result
	if o.cfg.Policy.FailOpen(st.direction) {
		result = scan.Result{
			Decision:  scan.DecisionAllow,
			SessionID: st.req.SessionID,
			Reason:    reason,
			IsSafe:    true,
		}
	} else {
		result = scan.Result{
			Decision:  scan.DecisionBlock,
			SessionID: st.req.SessionID,
			Reason:    ReasonScannerUnavailable,
			IsSafe:    false,
		}
	}
	return o.finish(ctx, st, result, err)
}

// finish records metrics and audit for the final result of one evaluation.
func (o *Orchestrator) finish(ctx context.Context, st *evalState, result scan.Result, err error) scan.Result {
	errKind := scan.ErrorKind(err)
	dialect := ""
	if o.scanner != nil {
		dialect = string(o.scanner.Dialect())
	}

	o.metrics.RecordScan(string(result.Decision), string(st.req.Mode), dialect, st.latency, errKind)
	o.metrics.RecordSession(st.req.SessionID, result.Blocked())

	if o.audit != nil {
		_ = o.audit.Record(ctx, audit.Entry{
			ID:         st.evalID,
			Timestamp:  o.now().UTC(),
			Mode:       string(st.req.Mode),
			Direction:  string(st.direction),
			TenantID:   st.req.TenantID,
			SessionID:  st.req.SessionID,
			TextDigest: st.digest,
			Decision:   string(result.Decision),
			Score:      result.Score,
			Reason:     result.Reason,
			Dialect:    dialect,
			CacheHit:   st.cacheHit,
			LatencyMs:  st.latency.Milliseconds(),
			ErrorKind:  errKind,
		})
	}
	return result
}

// Compile-time interface verification.
var _ inbound.Evaluator = (*Orchestrator)(nil)
