// Package outbound defines the outbound port interfaces for the scan engine.
package outbound

import (
	"context"

	"github.com/Sentinel-Gate/sentinelscan/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scan"
)

// ScanRequest is the wire-agnostic request handed to a scanner adapter.
type ScanRequest struct {
	// Text is the content to scan.
	Text string
	// Mode selects input or output scanning.
	Mode scan.Mode
	// SessionID identifies the conversation, when known.
	SessionID string
	// ScanGroupID correlates an output scan with its input scan.
	// Only the Pro dialect understands it; the local adapter ignores it.
	ScanGroupID string
}

// ScannerClient is the outbound port for the remote content-safety scanner.
// Adapters implement one backend dialect each.
type ScannerClient interface {
	// Scan submits the request and returns the raw response payload in the
	// adapter's dialect. The call must respect ctx cancellation. Failures
	// are reported through the scan error taxonomy (scan.ErrBackend*,
	// scan.ErrNetwork, scan.ErrBackendTimeout).
	Scan(ctx context.Context, req ScanRequest) ([]byte, error)

	// Dialect identifies the response shape this client produces.
	Dialect() scan.Dialect
}

// AuditStore is the outbound port for the scan decision audit trail.
type AuditStore interface {
	// Record appends one entry. Implementations may buffer; a failed or
	// dropped write must never propagate into scan results.
	Record(ctx context.Context, e audit.Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)

	// Close flushes buffered entries and releases resources.
	Close() error
}
