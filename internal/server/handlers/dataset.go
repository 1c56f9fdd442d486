// Handles dataset upload, clearing and export.

package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/maruel/lookupd/internal/jsonldb"
	"github.com/maruel/lookupd/internal/server/dto"
)

// DatasetHandler handles dataset-related HTTP requests.
type DatasetHandler struct {
	Svc *Services
}

// Upload replaces the dataset with the rows of a JSON body.
func (h *DatasetHandler) Upload(ctx context.Context, req *dto.UploadRequest) (*dto.UploadResponse, error) {
	n, err := h.Svc.Dataset.Replace(slices.Values(req.Data))
	if err != nil {
		return nil, dto.StorageError("Failed to save data on server", err)
	}
	slog.InfoContext(ctx, "Dataset replaced", "rows", n)
	return &dto.UploadResponse{Saved: n}, nil
}

// UploadMultipart replaces the dataset with the CSV file of a
// multipart/form-data body.
//
// This is a raw http.HandlerFunc because the file is streamed into the
// dataset without buffering it. Only the first file part is read.
func (h *DatasetHandler) UploadMultipart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mr, err := r.MultipartReader()
	if err != nil {
		slog.WarnContext(ctx, "Not a multipart upload", "err", err)
		writeErrorResponse(w, dto.InternalWithError("Failed to parse upload", err))
		return
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.WarnContext(ctx, "Failed to read multipart body", "err", err)
			} else {
				slog.WarnContext(ctx, "Multipart upload without a file")
			}
			writeErrorResponse(w, dto.Internal("Failed to parse upload"))
			return
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		n, err := h.Svc.Dataset.ReplaceCSV(ctx, part)
		_ = part.Close()
		if err != nil {
			slog.ErrorContext(ctx, "Failed to ingest upload", "err", err, "file", part.FileName())
			if errors.Is(err, jsonldb.ErrIO) {
				writeErrorResponse(w, dto.StorageError("Failed to move uploaded file", err))
			} else {
				writeErrorResponse(w, dto.InternalWithError("Failed to parse upload", err))
			}
			return
		}
		slog.InfoContext(ctx, "Dataset replaced from CSV", "rows", n, "file", part.FileName())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(dto.UploadResponse{Saved: n}); err != nil {
			slog.ErrorContext(ctx, "Failed to encode response", "err", err)
		}
		return
	}
}

// Clear empties the dataset.
func (h *DatasetHandler) Clear(ctx context.Context, _ *dto.EmptyRequest) (*dto.ClearResponse, error) {
	if err := h.Svc.Dataset.Clear(); err != nil {
		return nil, dto.StorageError("Failed to clear server data", err)
	}
	slog.InfoContext(ctx, "Dataset cleared")
	return &dto.ClearResponse{Cleared: true}, nil
}

// Data streams every row as {"data": [...], "count": N}.
//
// Rows are written as they are read, so the status is committed with the
// first row. A failure after that point truncates the body and is only
// logged.
func (h *DatasetHandler) Data(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var bw *bufio.Writer
	count := 0
	for rec, err := range h.Svc.Dataset.Scan(ctx) {
		if err != nil {
			if bw == nil {
				writeErrorResponse(w, dto.StorageError("Failed to read data", err))
				return
			}
			slog.ErrorContext(ctx, "Data stream aborted", "err", err, "rows", count)
			_ = bw.Flush()
			return
		}
		line, err := json.Marshal(rec)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to encode row", "err", err)
			continue
		}
		if bw == nil {
			bw = startData(w)
		} else {
			_ = bw.WriteByte(',')
		}
		_, _ = bw.Write(line)
		count++
	}
	if bw == nil {
		bw = startData(w)
	}
	_, _ = bw.WriteString(`],"count":` + strconv.Itoa(count) + "}\n")
	if err := bw.Flush(); err != nil {
		slog.WarnContext(ctx, "Failed to write data", "err", err)
	}
}

func startData(w http.ResponseWriter) *bufio.Writer {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString(`{"data":[`)
	return bw
}
