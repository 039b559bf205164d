package scanner

import (
	"context"
	"net/http"
	"time"

	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scan"
	"github.com/Sentinel-Gate/sentinelscan/internal/port/outbound"
)

// DefaultProEndpoint is the cloud scanning API endpoint.
const DefaultProEndpoint = "https://scan.sentinel-gate.com/v1/scan"

// apiKeyHeader carries the Pro credential.
const apiKeyHeader = "X-API-Key"

// proRequest is the remote/Pro cloud request shape.
type proRequest struct {
	Content     string `json:"content"`
	ScanPhase   string `json:"scan_phase"`
	SessionID   string `json:"session_id,omitempty"`
	ScanGroupID string `json:"scan_group_id,omitempty"`
}

// ProClient talks to the cloud scanning API. It implements
// outbound.ScannerClient with the Pro dialect.
type ProClient struct {
	endpoint   string
	credential string
	httpClient *http.Client
}

// NewProClient creates a client authenticated with the given credential.
// An empty endpoint means DefaultProEndpoint.
func NewProClient(credential, endpoint string, timeout time.Duration, opts ...ClientOption) *ProClient {
	if endpoint == "" {
		endpoint = DefaultProEndpoint
	}
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = newHTTPClient(timeout)
	}
	return &ProClient{
		endpoint:   endpoint,
		credential: credential,
		httpClient: o.httpClient,
	}
}

// Scan submits the text to the cloud API, carrying the scan-group token
// for multi-turn correlation when present.
func (c *ProClient) Scan(ctx context.Context, req outbound.ScanRequest) ([]byte, error) {
	body := proRequest{
		Content:     req.Text,
		ScanPhase:   string(req.Mode),
		SessionID:   req.SessionID,
		ScanGroupID: req.ScanGroupID,
	}
	headers := map[string]string{apiKeyHeader: c.credential}
	return postJSON(ctx, c.httpClient, c.endpoint, headers, body)
}

// Dialect returns the Pro response shape.
func (c *ProClient) Dialect() scan.Dialect {
	return scan.DialectPro
}

// Compile-time interface verification.
var _ outbound.ScannerClient = (*ProClient)(nil)
