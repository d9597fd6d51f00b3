// Package http provides the canopy admin HTTP API.
package http

import (
	"fmt"

	"github.com/fyrsmithlabs/canopy/internal/tree"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Telemetry string `json:"telemetry,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients"`
	Nodes   int    `json:"nodes"`
	Hash    string `json:"hash"`
	Uptime  string `json:"uptime"`
}

// TreeResponse is the response body for GET /api/v1/tree.
type TreeResponse struct {
	Hash string    `json:"hash"`
	Root tree.View `json:"root"`
}

// HashResponse is the response body for POST /api/v1/changes and
// POST /api/v1/nodes/:id/trigger.
type HashResponse struct {
	Hash string `json:"hash"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// FormatHash renders a tree hash the way the API reports it.
func FormatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}
