package storage

import (
	"context"
	"strings"

	"github.com/maruel/lookupd/internal/jsonldb"
	"golang.org/x/text/cases"
)

// SearchService answers queries over the active dataset.
//
// Only the first two columns, by position, take part in matching.
type SearchService struct {
	ds  *jsonldb.Dataset
	cfg SearchConfig
}

// NewSearchService creates a new search service.
func NewSearchService(ds *jsonldb.Dataset, cfg SearchConfig) *SearchService {
	return &SearchService{ds: ds, cfg: cfg}
}

// ClampLimit returns the effective result limit for a requested one.
func (s *SearchService) ClampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	return min(limit, s.cfg.MaxLimit)
}

// Search returns up to limit records whose column 0 or column 1 contains
// query, compared case-insensitively. An empty query matches every record.
//
// Scanning stops once limit records were found.
func (s *SearchService) Search(ctx context.Context, query string, limit int) ([]jsonldb.Record, error) {
	limit = s.ClampLimit(limit)
	fold := cases.Fold()
	q := fold.String(query)
	results := []jsonldb.Record{}
	for rec, err := range s.ds.Scan(ctx) {
		if err != nil {
			return nil, err
		}
		if strings.Contains(fold.String(rec.Field(0)), q) || strings.Contains(fold.String(rec.Field(1)), q) {
			results = append(results, rec)
			if len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

// Lookup returns the first record whose columns 0 and 1 equal v0 and v1,
// compared case-insensitively.
func (s *SearchService) Lookup(ctx context.Context, v0, v1 string) (jsonldb.Record, bool, error) {
	fold := cases.Fold()
	k0 := fold.String(v0)
	k1 := fold.String(v1)
	for rec, err := range s.ds.Scan(ctx) {
		if err != nil {
			return jsonldb.Record{}, false, err
		}
		if fold.String(rec.Field(0)) == k0 && fold.String(rec.Field(1)) == k1 {
			return rec, true, nil
		}
	}
	return jsonldb.Record{}, false, nil
}
