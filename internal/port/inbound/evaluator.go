// Package inbound defines the inbound port interfaces for the scan engine.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scan"
)

// Evaluator is the single entry point callers use to submit text for
// scanning. Implementations never return an error: every failure mode is
// resolved into a Result by the configured fail-open/fail-closed policy.
type Evaluator interface {
	Evaluate(ctx context.Context, req scan.Request) scan.Result
}
