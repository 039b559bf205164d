package policy

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBypass_MatchesFirstTrueRule(t *testing.T) {
	e, err := NewBypassEvaluator([]BypassRule{
		{Name: "trusted-tenant", Expression: `tenant_id == "internal"`},
		{Name: "tiny-output", Expression: `mode == "output" && text_size < 10`},
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewBypassEvaluator: %v", err)
	}

	name, ok := e.Match(context.Background(), "input", "internal", "s1", 500)
	if !ok {
		t.Fatal("Match = false, want trusted-tenant to match")
	}
	if name != "trusted-tenant" {
		t.Errorf("rule = %q, want %q", name, "trusted-tenant")
	}

	name, ok = e.Match(context.Background(), "output", "acme", "s1", 5)
	if !ok || name != "tiny-output" {
		t.Errorf("Match = (%q, %v), want (tiny-output, true)", name, ok)
	}
}

func TestBypass_NoMatch(t *testing.T) {
	e, err := NewBypassEvaluator([]BypassRule{
		{Name: "trusted-tenant", Expression: `tenant_id == "internal"`},
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewBypassEvaluator: %v", err)
	}

	if name, ok := e.Match(context.Background(), "input", "acme", "s1", 500); ok {
		t.Errorf("Match = (%q, true), want no match", name)
	}
}

func TestBypass_InvalidExpressionFailsConstruction(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"syntax error", `tenant_id ==`},
		{"unknown variable", `user_agent == "curl"`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBypassEvaluator([]BypassRule{{Name: "bad", Expression: tt.expr}}, quietLogger())
			if err == nil {
				t.Errorf("NewBypassEvaluator(%q) succeeded, want error", tt.expr)
			}
		})
	}
}

func TestBypass_NonBooleanResultIsNoMatch(t *testing.T) {
	e, err := NewBypassEvaluator([]BypassRule{
		{Name: "non-bool", Expression: `tenant_id`},
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewBypassEvaluator: %v", err)
	}

	if _, ok := e.Match(context.Background(), "input", "acme", "s1", 1); ok {
		t.Error("non-boolean rule matched")
	}
}

func TestBypass_NilEvaluatorNeverMatches(t *testing.T) {
	var e *BypassEvaluator
	if _, ok := e.Match(context.Background(), "input", "acme", "s1", 1); ok {
		t.Error("nil evaluator matched")
	}
}
