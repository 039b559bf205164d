// Package audit contains domain types for the scan decision audit trail.
package audit

import "time"

// Entry is one audited scan decision. The audit trail is a write-only log;
// it is not engine state and failures writing it never affect scan results.
type Entry struct {
	// ID is a unique identifier for the entry.
	ID string `json:"id"`
	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`
	// Mode is the scan mode (input/output).
	Mode string `json:"mode"`
	// Direction is the fail-policy bucket the call came from.
	Direction string `json:"direction"`
	// TenantID identifies the tenant, when known.
	TenantID string `json:"tenant_id,omitempty"`
	// SessionID identifies the conversation, when known.
	SessionID string `json:"session_id,omitempty"`
	// TextDigest is a short non-reversible digest of the scanned text.
	// The text itself is never audited.
	TextDigest string `json:"text_digest"`
	// Decision is the canonical verdict.
	Decision string `json:"decision"`
	// Score is the normalized 0-100 risk score.
	Score int `json:"score"`
	// Reason is the generic reason code attached to the result, if any.
	Reason string `json:"reason,omitempty"`
	// Dialect identifies the backend shape that produced the result.
	Dialect string `json:"dialect,omitempty"`
	// CacheHit is true when the result came from the fingerprint cache.
	CacheHit bool `json:"cache_hit"`
	// LatencyMs is the backend call latency, zero for cache hits and fallbacks.
	LatencyMs int64 `json:"latency_ms"`
	// ErrorKind is the failure category when the scan did not complete.
	ErrorKind string `json:"error_kind,omitempty"`
}
