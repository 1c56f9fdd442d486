// Generates JSON schemas describing the API contract.

package dto

import (
	"reflect"

	"github.com/invopop/jsonschema"
)

// schemaTypes lists the types published by Schemas, by name.
var schemaTypes = map[string]any{
	"SetAPIKeyRequest":     SetAPIKeyRequest{},
	"SetLookupKeyRequest":  SetLookupKeyRequest{},
	"SearchRequest":        SearchRequest{},
	"LookupRequest":        LookupRequest{},
	"GetAPIKeyResponse":    GetAPIKeyResponse{},
	"SetAPIKeyResponse":    SetAPIKeyResponse{},
	"SetLookupKeyResponse": SetLookupKeyResponse{},
	"UploadResponse":       UploadResponse{},
	"ClearResponse":        ClearResponse{},
	"SearchResponse":       SearchResponse{},
	"LookupResponse":       LookupResponse{},
	"CheckResponse":        CheckResponse{},
	"LogEntry":             LogEntry{},
	"VerifyLogsResponse":   VerifyLogsResponse{},
	"HealthResponse":       HealthResponse{},
	"ErrorResponse":        ErrorResponse{},
}

// Schemas returns the JSON schema of every request and response type, with
// inline properties.
func Schemas() map[string]*jsonschema.Schema {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	out := make(map[string]*jsonschema.Schema, len(schemaTypes))
	for name, v := range schemaTypes {
		out[name] = r.ReflectFromType(reflect.TypeOf(v))
	}
	return out
}
