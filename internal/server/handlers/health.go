package handlers

import (
	"context"

	"github.com/invopop/jsonschema"
	"github.com/maruel/lookupd/internal/server/dto"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	version string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// Health handles health check requests.
func (h *HealthHandler) Health(ctx context.Context, _ *dto.EmptyRequest) (*dto.HealthResponse, error) {
	return &dto.HealthResponse{Status: "ok", Version: h.version}, nil
}

// Root answers GET / so a browser pointed at the server sees it runs.
func (h *HealthHandler) Root(ctx context.Context, _ *dto.EmptyRequest) (*dto.RootResponse, error) {
	return &dto.RootResponse{Message: "API server is running"}, nil
}

// Schema returns the JSON schema of every API type.
func (h *HealthHandler) Schema(ctx context.Context, _ *dto.EmptyRequest) (*map[string]*jsonschema.Schema, error) {
	s := dto.Schemas()
	return &s, nil
}
