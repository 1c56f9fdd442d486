// Handles dataset search, lookup and check.

package handlers

import (
	"context"
	"net/http"

	"github.com/maruel/lookupd/internal/jsonldb"
	"github.com/maruel/lookupd/internal/server/dto"
)

// QueryHandler handles query HTTP requests.
type QueryHandler struct {
	Svc *Services
}

// Search returns the rows whose first or second column contains the query.
func (h *QueryHandler) Search(ctx context.Context, req *dto.SearchRequest) (*dto.SearchResponse, error) {
	results, err := h.Svc.Search.Search(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, dto.StorageError("Search failed", err)
	}
	return &dto.SearchResponse{Query: req.Query, Count: len(results), Results: results}, nil
}

// Lookup reports whether a row matches both values, without revealing it.
func (h *QueryHandler) Lookup(ctx context.Context, req *dto.LookupRequest) (*dto.LookupResponse, error) {
	last := lastUpload(h.Svc.Dataset)
	if req.Email == "" || req.FirstName == "" {
		return nil, withState(missingValues(), http.StatusBadRequest, last)
	}
	_, ok, err := h.Svc.Search.Lookup(ctx, req.Email, req.FirstName)
	if err != nil {
		return nil, withState(dto.StorageError("Lookup failed", err), http.StatusInternalServerError, last)
	}
	if !ok {
		return nil, withState(noMatch(), http.StatusNotFound, last)
	}
	return &dto.LookupResponse{Status: http.StatusOK, LastUpload: last}, nil
}

// Check is Lookup returning a fixed projection of the matching row.
func (h *QueryHandler) Check(ctx context.Context, req *dto.LookupRequest) (*dto.CheckResponse, error) {
	last := lastUpload(h.Svc.Dataset)
	if req.Email == "" || req.FirstName == "" {
		return nil, withState(missingValues(), http.StatusBadRequest, last)
	}
	rec, ok, err := h.Svc.Search.Lookup(ctx, req.Email, req.FirstName)
	if err != nil {
		return nil, withState(dto.StorageError("Check failed", err), http.StatusInternalServerError, last)
	}
	if !ok {
		return nil, withState(noMatch(), http.StatusNotFound, last)
	}
	return &dto.CheckResponse{
		UserPrincipalName: rec.Field(0),
		FirstName:         rec.Field(1),
		LastName:          firstOf(rec, "", []string{"Last name", "LastName", "Surname"}, 2),
		Licenses:          firstOf(rec, "Unlicensed", []string{"Licenses", "License", "AssignedLicenses"}, -1),
		LastUpload:        last,
	}, nil
}

func noMatch() *dto.APIError {
	return dto.NotFound("No record found matching both values.")
}

func missingValues() *dto.APIError {
	return dto.MissingField("Provide two values: [col0, col1] or {\"email\":..., \"firstName\":...}.")
}

// withState attaches the status and the dataset timestamp, which lookup
// clients display alongside the error. They are set both in details and at
// the top level of the body, where older clients read them.
func withState(err *dto.APIError, status int, last *string) *dto.APIError {
	state := map[string]any{"status": status, "lastUpload": last}
	return err.WithDetails(state).WithFields(state)
}

// firstOf returns the first non-empty named column, then the column at
// position pos if pos >= 0, then def.
func firstOf(rec jsonldb.Record, def string, names []string, pos int) string {
	for _, n := range names {
		if v, ok := rec.Get(n); ok && v != "" {
			return v
		}
	}
	if pos >= 0 {
		if v := rec.Field(pos); v != "" {
			return v
		}
	}
	return def
}
