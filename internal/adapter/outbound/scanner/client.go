// Package scanner provides HTTP client adapters for the two remote
// content-safety scanner dialects.
package scanner

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scan"
)

// maxResponseBodySize caps the response body read from the backend.
// Prevents OOM from a misbehaving backend sending unbounded responses.
const maxResponseBodySize = 1 * 1024 * 1024 // 1MB

// defaultTimeout is the fallback request timeout when none is configured.
const defaultTimeout = 10 * time.Second

// ClientOption is a functional option for configuring a scanner client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
}

// WithHTTPClient sets a custom HTTP client. Used by tests and by callers
// that need custom transport settings.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// newHTTPClient builds the default tuned HTTP client.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// postJSON sends one JSON request and returns the raw response body with
// backend failures mapped onto the scan error taxonomy:
// 401 -> ErrBackendUnauthorized, 429 -> RateLimitedError, other non-2xx ->
// ErrBackendHTTP, timeouts -> ErrBackendTimeout, anything else -> ErrNetwork.
func postJSON(ctx context.Context, hc *http.Client, url string, headers map[string]string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", scan.ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", scan.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", scan.ErrBackendTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", scan.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", scan.ErrBackendTimeout, err)
		}
		return nil, fmt.Errorf("%w: read response: %v", scan.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, scan.ErrBackendUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &scan.RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d", scan.ErrBackendHTTP, resp.StatusCode)
	}

	return raw, nil
}

// isTimeout reports whether err is a deadline/timeout failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter parses a Retry-After header given in seconds.
// HTTP-date values and garbage return zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
