package scan

import (
	"encoding/json"
	"math"
	"strings"
)

// localPayload is the local/OSS sidecar response shape.
// heuristic_score is a 0-1 float; risk_score (0-100) is a fallback.
type localPayload struct {
	Decision       string   `json:"decision"`
	HeuristicScore *float64 `json:"heuristic_score"`
	RiskScore      *int     `json:"risk_score"`
	IsSafe         *bool    `json:"is_safe"`
	RiskLevel      string   `json:"risk_level"`
	Reason         string   `json:"reason"`
}

// proPayload is the remote/Pro cloud response shape.
// risk_score is already on the 0-100 integer scale.
type proPayload struct {
	Action      string `json:"action"`
	RiskScore   *int   `json:"risk_score"`
	SessionID   string `json:"session_id"`
	TurnNumber  int    `json:"turn_number"`
	ScanGroupID string `json:"scan_group_id"`
	IsSafe      *bool  `json:"is_safe"`
	RiskLevel   string `json:"risk_level"`
	Reason      string `json:"reason"`
}

// Normalize maps a raw backend payload in either dialect to the canonical
// Result. It is total: malformed or partial payloads never produce an error,
// only conservative defaults (ALLOW with score 0 when no risk signal is
// present). An explicit BLOCK or WARN in the payload is never dropped.
func Normalize(raw []byte, dialect Dialect) Result {
	if dialect == DialectPro {
		return normalizePro(raw)
	}
	return normalizeLocal(raw)
}

func normalizeLocal(raw []byte) Result {
	var p localPayload
	// Ignore decode errors: absent fields fall through to defaults below.
	_ = json.Unmarshal(raw, &p)

	score := 0
	switch {
	case p.HeuristicScore != nil:
		score = clampScore(int(math.Round(*p.HeuristicScore * 100)))
	case p.RiskScore != nil:
		score = clampScore(*p.RiskScore)
	}

	decision := NormalizeDecision(p.Decision)
	return Result{
		Decision:  decision,
		Score:     score,
		Reason:    p.Reason,
		IsSafe:    isSafe(p.IsSafe, decision),
		RiskLevel: p.RiskLevel,
		Raw:       raw,
	}
}

func normalizePro(raw []byte) Result {
	var p proPayload
	_ = json.Unmarshal(raw, &p)

	score := 0
	if p.RiskScore != nil {
		score = clampScore(*p.RiskScore)
	}

	decision := NormalizeDecision(p.Action)
	return Result{
		Decision:    decision,
		Score:       score,
		SessionID:   p.SessionID,
		TurnNumber:  p.TurnNumber,
		ScanGroupID: p.ScanGroupID,
		Reason:      p.Reason,
		IsSafe:      isSafe(p.IsSafe, decision),
		RiskLevel:   p.RiskLevel,
		Raw:         raw,
	}
}

// NormalizeDecision maps a raw decision/action field to a canonical Decision.
// Matching is case-insensitive; anything other than BLOCK or WARN (including
// an absent field) is ALLOW.
func NormalizeDecision(raw string) Decision {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BLOCK":
		return DecisionBlock
	case "WARN":
		return DecisionWarn
	default:
		return DecisionAllow
	}
}

// isSafe prefers the backend's explicit is_safe flag and otherwise derives
// safety from the decision.
func isSafe(explicit *bool, decision Decision) bool {
	if explicit != nil {
		return *explicit
	}
	return decision != DecisionBlock
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
