// Package scan contains the domain types for content-safety scan requests,
// results, and the normalization of backend responses.
package scan

import "encoding/json"

// Decision is the canonical verdict of a content-safety scan.
type Decision string

const (
	// DecisionAllow lets the content proceed.
	DecisionAllow Decision = "ALLOW"
	// DecisionBlock stops the content.
	DecisionBlock Decision = "BLOCK"
	// DecisionWarn lets the content proceed but flags it for the caller.
	DecisionWarn Decision = "WARN"
)

// Mode identifies which side of the conversation a scan covers.
// The scanner backend only distinguishes input from output.
type Mode string

const (
	// ModeInput scans text flowing into the model (user messages, tool arguments).
	ModeInput Mode = "input"
	// ModeOutput scans text flowing out of the model (completions, tool results).
	ModeOutput Mode = "output"
)

// Direction is the finer-grained call site used for fail-policy resolution.
// Every direction maps onto a Mode for the backend, but fail-open can be
// configured per direction.
type Direction string

const (
	DirectionInbound      Direction = "inbound"
	DirectionOutbound     Direction = "outbound"
	DirectionToolArgument Direction = "tool_argument"
	DirectionToolResult   Direction = "tool_result"
)

// DirectionForMode returns the default direction when the caller did not
// specify one: plain message traffic.
func DirectionForMode(mode Mode) Direction {
	if mode == ModeOutput {
		return DirectionOutbound
	}
	return DirectionInbound
}

// Dialect identifies which of the two backend response shapes a payload uses.
type Dialect string

const (
	// DialectLocal is the local/OSS sidecar shape (decision + heuristic_score).
	DialectLocal Dialect = "local"
	// DialectPro is the remote/Pro cloud shape (action + risk_score).
	DialectPro Dialect = "pro"
)

// Request carries one piece of text through the orchestrator.
type Request struct {
	// Text is the content to scan.
	Text string
	// Mode selects input or output scanning on the backend.
	Mode Mode
	// Direction selects the fail-policy bucket. Empty means derive from Mode.
	Direction Direction
	// SessionID identifies the conversation, when known.
	SessionID string
	// TenantID identifies the tenant for cache/backoff isolation, when known.
	TenantID string
	// ScanGroupID correlates an output scan with an earlier input scan.
	// Usually left empty and filled from the tracker.
	ScanGroupID string
}

// Result is the canonical, immutable outcome of one scan.
// Score is always on a 0-100 integer scale regardless of backend dialect.
type Result struct {
	Decision    Decision        `json:"decision"`
	Score       int             `json:"score"`
	SessionID   string          `json:"session_id,omitempty"`
	TurnNumber  int             `json:"turn_number,omitempty"`
	ScanGroupID string          `json:"scan_group_id,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	IsSafe      bool            `json:"is_safe"`
	RiskLevel   string          `json:"risk_level,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// Blocked reports whether the result stops the content.
func (r Result) Blocked() bool {
	return r.Decision == DecisionBlock
}
