// Package handlers contains the HTTP handlers for the status API.
// Every endpoint is read-only: the API exposes crawl state for
// dashboards and operators but never triggers work.
package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// DBPinger is the database surface the health probe needs.
type DBPinger interface {
	Ping() error
}

// HealthzHandler answers the liveness/readiness probe.
type HealthzHandler struct {
	db DBPinger
}

// NewHealthzHandler creates a health probe handler.
func NewHealthzHandler(db DBPinger) *HealthzHandler {
	return &HealthzHandler{db: db}
}

// HealthzOutput represents the health probe response.
type HealthzOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Healthz reports whether the process is up and the database reachable.
func (h *HealthzHandler) Healthz(ctx context.Context, input *struct{}) (*HealthzOutput, error) {
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			return nil, huma.Error503ServiceUnavailable("database not reachable: " + err.Error())
		}
	}

	output := &HealthzOutput{}
	output.Body.Status = "ok"
	return output, nil
}
