package handlers

import (
	"context"

	"github.com/leftbrainit/supasaasy/internal/version"
)

// HealthHandler serves liveness checks.
type HealthHandler struct{}

// NewHealthHandler creates a health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// HealthOutput is the health check response.
type HealthOutput struct {
	Body struct {
		Status  string `json:"status" example:"ok"`
		Version string `json:"version" example:"1.0.0"`
	}
}

// Health reports process liveness and the build version.
func (h *HealthHandler) Health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{}
	out.Body.Status = "ok"
	out.Body.Version = version.Get().Short()
	return out, nil
}
