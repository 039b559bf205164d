package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/Sentinel-Gate/sentinelscan/internal/domain/scan"
)

// maxRequestBodyBytes caps the evaluate request body. Larger than the scan
// payload ceiling to leave room for JSON framing and metadata.
const maxRequestBodyBytes = 4 << 20

// evaluateRequest is the JSON body accepted by POST /v1/evaluate.
type evaluateRequest struct {
	Text        string `json:"text"`
	Mode        string `json:"mode"`
	Direction   string `json:"direction,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
	ScanGroupID string `json:"scan_group_id,omitempty"`
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// handleEvaluate runs one scan and writes the canonical result.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req evaluateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	mode := scan.Mode(req.Mode)
	if mode != scan.ModeInput && mode != scan.ModeOutput {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "mode must be \"input\" or \"output\""})
		return
	}
	direction := scan.Direction(req.Direction)
	switch direction {
	case "", scan.DirectionInbound, scan.DirectionOutbound, scan.DirectionToolArgument, scan.DirectionToolResult:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown direction"})
		return
	}

	start := time.Now()
	result := s.evaluator.Evaluate(r.Context(), scan.Request{
		Text:        req.Text,
		Mode:        mode,
		Direction:   direction,
		SessionID:   req.SessionID,
		TenantID:    req.TenantID,
		ScanGroupID: req.ScanGroupID,
	})

	s.metrics.ScansTotal.WithLabelValues(string(mode), string(result.Decision)).Inc()
	s.metrics.ScanDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())

	LoggerFromContext(r.Context()).Debug("scan evaluated",
		"mode", mode,
		"decision", result.Decision,
		"score", result.Score)

	writeJSON(w, http.StatusOK, result)
}

// handleStats reports the in-process metrics snapshot.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// handleAudit returns recent audit entries, newest first.
// Query parameter: limit (default 100).
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	if s.audit == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "audit trail not configured"})
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		LoggerFromContext(r.Context()).Error("audit query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "audit query failed"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// handleHealth reports component health. The server is unhealthy only when
// the audit queue has started dropping entries en masse; everything else is
// informational.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	checks["scanner_dialect"] = s.dialect
	checks["goroutines"] = strconv.Itoa(runtime.NumGoroutine())
	if s.audit != nil {
		checks["audit"] = "ok"
	} else {
		checks["audit"] = "not configured"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Checks:  checks,
		Version: s.version,
	})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
