package scanner

import (
	"context"
	"net/http"
	"time"

	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scan"
	"github.com/Sentinel-Gate/sentinelscan/internal/port/outbound"
)

// localRequest is the local/OSS sidecar request shape.
type localRequest struct {
	Text      string `json:"text"`
	Mode      string `json:"mode"`
	SessionID string `json:"session_id,omitempty"`
}

// LocalClient talks to the local/OSS sidecar scanner over HTTP.
// The sidecar has no credential; it is addressed by endpoint only.
// It implements outbound.ScannerClient with the local dialect.
type LocalClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewLocalClient creates a client for the local sidecar at endpoint.
func NewLocalClient(endpoint string, timeout time.Duration, opts ...ClientOption) *LocalClient {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = newHTTPClient(timeout)
	}
	return &LocalClient{
		endpoint:   endpoint,
		httpClient: o.httpClient,
	}
}

// Scan submits the text to the sidecar. The local dialect has no
// scan-group correlation; req.ScanGroupID is ignored.
func (c *LocalClient) Scan(ctx context.Context, req outbound.ScanRequest) ([]byte, error) {
	body := localRequest{
		Text:      req.Text,
		Mode:      string(req.Mode),
		SessionID: req.SessionID,
	}
	return postJSON(ctx, c.httpClient, c.endpoint, nil, body)
}

// Dialect returns the local response shape.
func (c *LocalClient) Dialect() scan.Dialect {
	return scan.DialectLocal
}

// Compile-time interface verification.
var _ outbound.ScannerClient = (*LocalClient)(nil)
