package http

import (
	"github.com/fyrsmithlabs/agentgate/internal/redact"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Project string `json:"project"`
}

// TraceResponse is the response body for GET /api/v1/traces/:id.
type TraceResponse struct {
	*trace.Record
	Artifacts   []string `json:"artifacts"`
	SummaryText string   `json:"summary_text,omitempty"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string           `json:"content"`
	FindingsCount int              `json:"findings_count"`
	Findings      []redact.Finding `json:"findings,omitempty"`
}
