// Handles secret key retrieval and rotation.

package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maruel/lookupd/internal/server/dto"
	"github.com/maruel/lookupd/internal/storage"
)

// KeyHandler handles secret key endpoints.
type KeyHandler struct {
	Svc *Services
}

// GetAPIKey returns both secrets.
//
// The route is unauthenticated; it is meant for the operator's dashboard on a
// trusted network.
func (h *KeyHandler) GetAPIKey(ctx context.Context, _ *dto.EmptyRequest) (*dto.GetAPIKeyResponse, error) {
	return &dto.GetAPIKeyResponse{
		APIKey:    h.Svc.Keys.InternalKey(),
		LookupKey: h.Svc.Keys.LookupKey(),
	}, nil
}

// SetAPIKey rotates the internal secret.
func (h *KeyHandler) SetAPIKey(ctx context.Context, req *dto.SetAPIKeyRequest) (*dto.SetAPIKeyResponse, error) {
	if err := h.rotate(ctx, storage.ScopeInternal, "API", req.NewAPIKey); err != nil {
		return nil, err
	}
	return &dto.SetAPIKeyResponse{Success: true, APIKey: h.Svc.Keys.InternalKey()}, nil
}

// SetLookupKey rotates the lookup secret.
func (h *KeyHandler) SetLookupKey(ctx context.Context, req *dto.SetLookupKeyRequest) (*dto.SetLookupKeyResponse, error) {
	if err := h.rotate(ctx, storage.ScopeLookup, "lookup", req.NewLookupKey); err != nil {
		return nil, err
	}
	return &dto.SetLookupKeyResponse{Success: true, LookupKey: h.Svc.Keys.LookupKey()}, nil
}

func (h *KeyHandler) rotate(ctx context.Context, s storage.Scope, label, secret string) error {
	if err := h.Svc.Keys.Rotate(s, secret); err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			return dto.BadRequest("Invalid new " + label + " key. Must be a string of at least 8 characters.")
		}
		return dto.StorageError("Failed to update "+label+" key.", err)
	}
	slog.InfoContext(ctx, "Key rotated", "scope", s)
	return nil
}
