// Handles access log replay and verification.

package handlers

import (
	"context"

	"github.com/maruel/lookupd/internal/accesslog"
	"github.com/maruel/lookupd/internal/jsonldb"
	"github.com/maruel/lookupd/internal/server/dto"
)

const defaultLogsLimit = 50

// LogHandler handles access log endpoints.
type LogHandler struct {
	Svc *Services
	Cfg *Config
}

// Logs returns the most recent query entries, most recent first.
func (h *LogHandler) Logs(ctx context.Context, req *dto.LogsRequest) (*dto.LogsResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLogsLimit
	}
	limit = min(limit, h.Cfg.Server.LogReplay.MaxLimit)
	entries := h.Svc.AccessLog.Recent(limit)
	out := make(dto.LogsResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.LogEntry{
			Time:     e.Time.UTC().Format(jsonldb.TimestampLayout),
			Method:   e.Method,
			Path:     e.Path,
			Status:   e.Status,
			Duration: e.DurationMs,
			IP:       accesslog.StripMappedPrefix(e.IP),
			Agent:    e.UserAgent,
			Token:    e.Token,
			Country:  e.Country,
		})
	}
	return &out, nil
}

// VerifyLogs checks the hash chain of the whole access log.
func (h *LogHandler) VerifyLogs(ctx context.Context, _ *dto.EmptyRequest) (*dto.VerifyLogsResponse, error) {
	res, err := h.Svc.AccessLog.Verify()
	if err != nil {
		return nil, dto.StorageError("Failed to read access log", err)
	}
	return &dto.VerifyLogsResponse{
		Valid:    res.Valid,
		Entries:  res.Entries,
		BrokenAt: res.BrokenAt,
		Reason:   res.Reason,
	}, nil
}
