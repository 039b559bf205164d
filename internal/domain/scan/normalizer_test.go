package scan

import (
	"errors"
	"testing"
)

func TestNormalizeLocal_HeuristicScoreScaled(t *testing.T) {
	raw := []byte(`{"decision":"warn","heuristic_score":0.95,"risk_level":"high"}`)

	got := Normalize(raw, DialectLocal)

	if got.Decision != DecisionWarn {
		t.Errorf("decision = %q, want %q", got.Decision, DecisionWarn)
	}
	if got.Score != 95 {
		t.Errorf("score = %d, want 95", got.Score)
	}
	if got.RiskLevel != "high" {
		t.Errorf("risk_level = %q, want %q", got.RiskLevel, "high")
	}
}

func TestNormalizeLocal_RiskScoreFallback(t *testing.T) {
	raw := []byte(`{"decision":"BLOCK","risk_score":87}`)

	got := Normalize(raw, DialectLocal)

	if got.Decision != DecisionBlock {
		t.Errorf("decision = %q, want %q", got.Decision, DecisionBlock)
	}
	if got.Score != 87 {
		t.Errorf("score = %d, want 87", got.Score)
	}
	if got.IsSafe {
		t.Error("is_safe = true, want false for BLOCK")
	}
}

func TestNormalizePro_RiskScoreUsedAsIs(t *testing.T) {
	raw := []byte(`{"action":"BLOCK","risk_score":95,"session_id":"s1","turn_number":3,"scan_group_id":"g1"}`)

	got := Normalize(raw, DialectPro)

	if got.Decision != DecisionBlock {
		t.Errorf("decision = %q, want %q", got.Decision, DecisionBlock)
	}
	if got.Score != 95 {
		t.Errorf("score = %d, want 95", got.Score)
	}
	if got.SessionID != "s1" || got.TurnNumber != 3 || got.ScanGroupID != "g1" {
		t.Errorf("correlation fields = (%q, %d, %q), want (s1, 3, g1)",
			got.SessionID, got.TurnNumber, got.ScanGroupID)
	}
}

func TestNormalize_DialectEquivalence(t *testing.T) {
	local := Normalize([]byte(`{"decision":"block","heuristic_score":0.95}`), DialectLocal)
	pro := Normalize([]byte(`{"action":"BLOCK","risk_score":95}`), DialectPro)

	if local.Decision != pro.Decision {
		t.Errorf("decisions differ: local %q, pro %q", local.Decision, pro.Decision)
	}
	if local.Score != pro.Score {
		t.Errorf("scores differ: local %d, pro %d", local.Score, pro.Score)
	}
}

func TestNormalizeDecision(t *testing.T) {
	tests := []struct {
		raw  string
		want Decision
	}{
		{"BLOCK", DecisionBlock},
		{"block", DecisionBlock},
		{" Block ", DecisionBlock},
		{"WARN", DecisionWarn},
		{"warn", DecisionWarn},
		{"ALLOW", DecisionAllow},
		{"allow", DecisionAllow},
		{"", DecisionAllow},
		{"review", DecisionAllow},
		{"DENY", DecisionAllow},
	}

	for _, tt := range tests {
		if got := NormalizeDecision(tt.raw); got != tt.want {
			t.Errorf("NormalizeDecision(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalize_MalformedPayloadIsTotal(t *testing.T) {
	for _, raw := range [][]byte{
		nil,
		[]byte(``),
		[]byte(`not json`),
		[]byte(`{"decision":123}`),
		[]byte(`[]`),
	} {
		for _, dialect := range []Dialect{DialectLocal, DialectPro} {
			got := Normalize(raw, dialect)
			if got.Decision != DecisionAllow {
				t.Errorf("Normalize(%q, %s).Decision = %q, want ALLOW", raw, dialect, got.Decision)
			}
			if got.Score != 0 {
				t.Errorf("Normalize(%q, %s).Score = %d, want 0", raw, dialect, got.Score)
			}
		}
	}
}

func TestNormalize_ScoreClamped(t *testing.T) {
	got := Normalize([]byte(`{"decision":"warn","heuristic_score":1.7}`), DialectLocal)
	if got.Score != 100 {
		t.Errorf("score = %d, want 100 (clamped)", got.Score)
	}

	got = Normalize([]byte(`{"action":"WARN","risk_score":-5}`), DialectPro)
	if got.Score != 0 {
		t.Errorf("score = %d, want 0 (clamped)", got.Score)
	}
}

func TestNormalize_ExplicitIsSafeWins(t *testing.T) {
	got := Normalize([]byte(`{"decision":"allow","is_safe":false}`), DialectLocal)
	if got.IsSafe {
		t.Error("is_safe = true, want explicit false to win over ALLOW")
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrPayloadTooLarge, "payload_too_large"},
		{ErrCircuitOpen, "circuit_open"},
		{ErrBackendTimeout, "backend_timeout"},
		{&RateLimitedError{}, "backend_rate_limited"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
