package dto

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/maruel/lookupd/internal/jsonldb"
	"github.com/maruel/lookupd/internal/storage"
)

// Validatable is implemented by request types that can validate their fields.
// Wrap in handler_wrapper.go uses it as a type constraint so every request
// type provides validation.
type Validatable interface {
	Validate() error
}

// EmptyRequest is the request of endpoints without input.
type EmptyRequest struct{}

// Validate is a no-op for EmptyRequest.
func (r *EmptyRequest) Validate() error {
	return nil
}

// --- Keys ---

// SetAPIKeyRequest rotates the internal secret.
type SetAPIKeyRequest struct {
	NewAPIKey string `json:"newApiKey" jsonschema:"description=New internal secret; at least 8 characters"`
}

// Validate validates the new key length.
func (r *SetAPIKeyRequest) Validate() error {
	if len(storage.NormalizeKey(r.NewAPIKey)) < storage.MinKeyLength {
		return BadRequest("Invalid new API key. Must be a string of at least 8 characters.")
	}
	return nil
}

// SetLookupKeyRequest rotates the lookup secret.
type SetLookupKeyRequest struct {
	NewLookupKey string `json:"newLookupKey" jsonschema:"description=New lookup secret; at least 8 characters"`
}

// Validate validates the new key length.
func (r *SetLookupKeyRequest) Validate() error {
	if len(storage.NormalizeKey(r.NewLookupKey)) < storage.MinKeyLength {
		return BadRequest("Invalid new lookup key. Must be a string of at least 8 characters.")
	}
	return nil
}

// --- Dataset ---

// UploadRequest replaces the dataset.
//
// The body is either {"data": [...]} or a bare array of row objects.
type UploadRequest struct {
	Data []jsonldb.Record `json:"data" jsonschema:"description=Rows; the first row fixes the column order"`
}

// UnmarshalJSON accepts both the wrapped and the bare array form.
func (r *UploadRequest) UnmarshalJSON(b []byte) error {
	if b = bytes.TrimSpace(b); len(b) != 0 && b[0] == '[' {
		return json.Unmarshal(b, &r.Data)
	}
	var v struct {
		Data []jsonldb.Record `json:"data"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	r.Data = v.Data
	return nil
}

// Validate validates that rows were provided.
func (r *UploadRequest) Validate() error {
	if r.Data == nil {
		return BadRequest("Expected JSON body with an array of rows (data).")
	}
	return nil
}

// --- Queries ---

// SearchRequest is a substring search over the first two columns.
type SearchRequest struct {
	Query string `json:"query" jsonschema:"description=Case-insensitive substring; empty matches every row"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results; defaults to 50"`
}

// Validate validates the search request fields.
func (r *SearchRequest) Validate() error {
	if r.Limit < 0 {
		return BadRequest("limit must be non-negative")
	}
	return nil
}

// LookupRequest is an exact match on the first two columns.
//
// The body is either a [col0, col1] array or an object. Column 0 is read from
// "email", "col0" or "0", and column 1 from "firstName", "col1" or "1".
// Non-string values are converted to their JSON text.
//
// Missing values are checked by the handler, which reports them together
// with the dataset state.
type LookupRequest struct {
	Email     string `json:"email" jsonschema:"description=Value of column 0"`
	FirstName string `json:"firstName" jsonschema:"description=Value of column 1"`
}

var lookupAliases = [2][]string{
	{"email", "col0", "0"},
	{"firstName", "col1", "1"},
}

// UnmarshalJSON accepts both the array and the object form.
//
// In the object form the first alias holding a non-empty value wins.
func (r *LookupRequest) UnmarshalJSON(b []byte) error {
	var vals [2]string
	if b = bytes.TrimSpace(b); len(b) != 0 && b[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		for i := 0; i < len(vals) && i < len(arr); i++ {
			v, err := jsonldb.ValueString(arr[i])
			if err != nil {
				return err
			}
			vals[i] = v
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if obj == nil {
			return errors.New("lookup body must be an object or an array")
		}
		for i, names := range lookupAliases {
			for _, n := range names {
				raw, ok := obj[n]
				if !ok {
					continue
				}
				v, err := jsonldb.ValueString(raw)
				if err != nil {
					return err
				}
				if v != "" {
					vals[i] = v
					break
				}
			}
		}
	}
	r.Email, r.FirstName = vals[0], vals[1]
	return nil
}

// Validate is a no-op; see the type documentation.
func (r *LookupRequest) Validate() error {
	return nil
}

// --- Logs ---

// LogsRequest lists recent request log entries.
type LogsRequest struct {
	Limit int `query:"limit" json:"-"`
}

// Validate validates the logs request fields.
func (r *LogsRequest) Validate() error {
	if r.Limit < 0 {
		return BadRequest("limit must be non-negative")
	}
	return nil
}
