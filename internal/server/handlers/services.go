// Defines shared service dependencies for handlers.

package handlers

import (
	"github.com/maruel/lookupd/internal/accesslog"
	"github.com/maruel/lookupd/internal/jsonldb"
	"github.com/maruel/lookupd/internal/storage"
)

// Services holds all service dependencies for handlers.
type Services struct {
	Keys      *storage.KeyStore
	Dataset   *jsonldb.Dataset
	Search    *storage.SearchService
	AccessLog *accesslog.Log
}

// Config holds configuration values needed by handlers.
type Config struct {
	Version string
	// Dev exposes wrapped causes of internal errors to clients.
	Dev    bool
	Server *storage.ServerConfig
}

// lastUpload formats the dataset timestamp, or returns nil if no upload ever
// completed.
func lastUpload(ds *jsonldb.Dataset) *string {
	t, ok := ds.LastReplace()
	if !ok {
		return nil
	}
	s := t.UTC().Format(jsonldb.TimestampLayout)
	return &s
}
