// Package policy provides CEL-based bypass rules that let configured
// traffic skip scanning entirely.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"
)

// maxExpressionLength is the maximum allowed length for bypass expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion DoS.
const maxCostBudget = 100_000

// evalTimeout is the maximum time allowed for a single rule evaluation.
const evalTimeout = time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// BypassRule pairs a rule name with a CEL expression over scan metadata.
// A rule that evaluates to true lets the request skip scanning.
type BypassRule struct {
	Name       string
	Expression string
}

// compiledRule holds a pre-compiled CEL program with its name.
type compiledRule struct {
	name    string
	program cel.Program
}

// BypassEvaluator evaluates configured bypass rules against scan metadata.
// Rules are compiled once at construction; Match is cheap and never errors
// (a rule that fails at runtime simply does not match).
type BypassEvaluator struct {
	rules  []compiledRule
	logger *slog.Logger
}

// newBypassEnvironment creates the CEL environment with the variables
// available to bypass expressions.
func newBypassEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("mode", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("text_size", cel.IntType),
	)
}

// NewBypassEvaluator compiles the given rules. Invalid expressions fail
// construction so misconfiguration is caught at startup, not per request.
func NewBypassEvaluator(rules []BypassRule, logger *slog.Logger) (*BypassEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := newBypassEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create bypass environment: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Expression == "" {
			return nil, fmt.Errorf("bypass rule %q: %w", r.Name, errors.New("expression is empty"))
		}
		if len(r.Expression) > maxExpressionLength {
			return nil, fmt.Errorf("bypass rule %q: expression too long: %d characters (max %d)",
				r.Name, len(r.Expression), maxExpressionLength)
		}

		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("bypass rule %q: compilation failed: %w", r.Name, issues.Err())
		}

		prg, err := env.Program(ast,
			cel.EvalOptions(cel.OptOptimize),
			cel.CostLimit(maxCostBudget),
			cel.InterruptCheckFrequency(interruptCheckFreq),
		)
		if err != nil {
			return nil, fmt.Errorf("bypass rule %q: program creation failed: %w", r.Name, err)
		}

		compiled = append(compiled, compiledRule{name: r.Name, program: prg})
	}

	return &BypassEvaluator{rules: compiled, logger: logger}, nil
}

// Match evaluates the rules in order and returns the name of the first rule
// that evaluates to true. Evaluation errors and non-boolean results are
// logged and treated as no match.
func (e *BypassEvaluator) Match(ctx context.Context, mode, tenantID, sessionID string, textSize int) (string, bool) {
	if e == nil || len(e.rules) == 0 {
		return "", false
	}

	activation := map[string]interface{}{
		"mode":       mode,
		"tenant_id":  tenantID,
		"session_id": sessionID,
		"text_size":  textSize,
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	for _, r := range e.rules {
		result, _, err := r.program.ContextEval(evalCtx, activation)
		if err != nil {
			e.logger.Warn("bypass rule evaluation failed", "rule", r.name, "error", err)
			continue
		}
		matched, ok := result.Value().(bool)
		if !ok {
			e.logger.Warn("bypass rule did not return a boolean", "rule", r.name)
			continue
		}
		if matched {
			return r.name, true
		}
	}
	return "", false
}

// Len returns the number of compiled rules.
func (e *BypassEvaluator) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}
