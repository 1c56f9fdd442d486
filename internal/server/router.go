// Package server implements the HTTP server and routing logic.
package server

import (
	"net/http"

	"github.com/maruel/lookupd/internal/server/dto"
	"github.com/maruel/lookupd/internal/server/handlers"
	"github.com/maruel/lookupd/internal/server/ipgeo"
	"github.com/maruel/lookupd/internal/server/ratelimit"
	"github.com/maruel/lookupd/internal/storage"
)

// NewRouter creates and configures the HTTP router.
//
// lookupLimiter throttles /api/lookup and may be nil to disable limiting. geo
// may be nil.
func NewRouter(svc *handlers.Services, cfg *handlers.Config, lookupLimiter *ratelimit.Limiter, geo *ipgeo.Checker) http.Handler {
	mux := &http.ServeMux{}
	guard := NewGuard(svc.Keys)
	hh := handlers.NewHealthHandler(cfg.Version)
	kh := &handlers.KeyHandler{Svc: svc}
	dh := &handlers.DatasetHandler{Svc: svc}
	qh := &handlers.QueryHandler{Svc: svc}
	lh := &handlers.LogHandler{Svc: svc, Cfg: cfg}

	internal := storage.ScopeInternal

	// Public endpoints
	mux.Handle("GET /{$}", Wrap(hh.Root, cfg))
	mux.Handle("GET /api/health", Wrap(hh.Health, cfg))
	mux.Handle("GET /api/schema", Wrap(hh.Schema, cfg))
	mux.Handle("GET /api/get-api-key", Wrap(kh.GetAPIKey, cfg))
	mux.Handle("GET /api/logs", Wrap(lh.Logs, cfg))

	// Key rotation
	mux.Handle("POST /api/set-api-key", WrapAuth(kh.SetAPIKey, guard, internal, cfg, nil))
	mux.Handle("POST /api/set-lookup-key", WrapAuth(kh.SetLookupKey, guard, internal, cfg, nil))

	// Dataset
	mux.Handle("POST /api/upload", WrapAuth(dh.Upload, guard, internal, cfg, nil))
	mux.Handle("POST /api/upload-multipart", WrapAuthRaw(dh.UploadMultipart, guard, internal, cfg))
	mux.Handle("POST /api/clear", WrapAuth(dh.Clear, guard, internal, cfg, nil))
	mux.Handle("GET /api/data", WrapAuthRaw(dh.Data, guard, internal, cfg))

	// Queries
	mux.Handle("POST /api/search", WrapAuth(qh.Search, guard, internal, cfg, nil))
	mux.Handle("POST /api/check", WrapAuth(qh.Check, guard, internal, cfg, nil))
	mux.Handle("POST /api/lookup", WrapAuth(qh.Lookup, guard, storage.ScopeLookup, cfg, lookupLimiter))
	mux.Handle("GET /api/logs/verify", WrapAuth(lh.VerifyLogs, guard, internal, cfg, nil))

	mux.HandleFunc("/api/", notFound)

	return AccessLog(mux, svc.AccessLog, geo)
}

// notFound answers unknown /api paths with a JSON error, without reading the
// body.
func notFound(w http.ResponseWriter, _ *http.Request) {
	writeAPIError(w, dto.NotFound("Not Found"))
}
