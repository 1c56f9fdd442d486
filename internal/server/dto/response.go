package dto

import "github.com/maruel/lookupd/internal/jsonldb"

// RootResponse is returned by GET /.
type RootResponse struct {
	Message string `json:"message"`
}

// HealthResponse reports that the server runs.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// --- Keys ---

// GetAPIKeyResponse returns both secrets.
type GetAPIKeyResponse struct {
	APIKey    string `json:"apiKey"`
	LookupKey string `json:"lookupKey"`
}

// SetAPIKeyResponse confirms an internal secret rotation.
type SetAPIKeyResponse struct {
	Success bool   `json:"success"`
	APIKey  string `json:"apiKey"`
}

// SetLookupKeyResponse confirms a lookup secret rotation.
type SetLookupKeyResponse struct {
	Success   bool   `json:"success"`
	LookupKey string `json:"lookupKey"`
}

// --- Dataset ---

// UploadResponse reports the number of rows stored.
type UploadResponse struct {
	Saved int `json:"saved"`
}

// ClearResponse confirms the dataset was emptied.
type ClearResponse struct {
	Cleared bool `json:"cleared"`
}

// --- Queries ---

// SearchResponse lists the matching rows.
type SearchResponse struct {
	Query   string           `json:"query"`
	Count   int              `json:"count"`
	Results []jsonldb.Record `json:"results"`
}

// LookupResponse confirms a match without revealing the row.
//
// LastUpload is null when no upload ever completed.
type LookupResponse struct {
	Status     int     `json:"status"`
	LastUpload *string `json:"lastUpload"`
}

// CheckResponse is the projection of a matched row returned by /api/check.
type CheckResponse struct {
	UserPrincipalName string  `json:"User principal name"`
	FirstName         string  `json:"First name"`
	LastName          string  `json:"Last name"`
	Licenses          string  `json:"Licenses"`
	LastUpload        *string `json:"lastUpload"`
}

// --- Logs ---

// LogEntry is one request log entry as shown to clients.
type LogEntry struct {
	Time     string  `json:"time"`
	Method   string  `json:"method"`
	Path     string  `json:"path"`
	Status   int     `json:"status"`
	Duration float64 `json:"duration" jsonschema:"description=Milliseconds"`
	IP       string  `json:"ip"`
	Agent    string  `json:"agent"`
	Token    string  `json:"token" jsonschema:"description=Masked credential"`
	Country  string  `json:"country,omitempty"`
}

// LogsResponse lists entries, most recent first.
type LogsResponse []LogEntry

// VerifyLogsResponse is the outcome of a hash chain verification.
type VerifyLogsResponse struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt int    `json:"brokenAt,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
