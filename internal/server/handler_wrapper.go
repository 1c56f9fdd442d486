// Provides middleware for standardizing HTTP handlers.

package server

import (
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/maruel/lookupd/internal/server/dto"
	"github.com/maruel/lookupd/internal/server/handlers"
	"github.com/maruel/lookupd/internal/server/ratelimit"
	"github.com/maruel/lookupd/internal/server/reqctx"
	"github.com/maruel/lookupd/internal/storage"
)

// addRequestMetadataToContext adds client IP and User-Agent to the context.
func addRequestMetadataToContext(ctx context.Context, r *http.Request) context.Context {
	ctx = reqctx.WithClientIP(ctx, reqctx.GetClientIP(r))
	ctx = reqctx.WithUserAgent(ctx, r.Header.Get("User-Agent"))
	return ctx
}

// checkRateLimit checks rate limit and wraps the response writer if needed.
// Returns the (possibly wrapped) writer and whether the request should proceed.
func checkRateLimit(ctx context.Context, w http.ResponseWriter, r *http.Request, limiter *ratelimit.Limiter) (http.ResponseWriter, bool) {
	if limiter == nil {
		return w, true
	}
	ip := reqctx.ClientIP(ctx)
	key := ratelimit.BuildKey(r.URL.Path, ip)
	result := limiter.Allow(key)
	w = ratelimit.NewResponseWriter(w, result)
	if !result.Allowed {
		slog.WarnContext(ctx, "Rate limit exceeded", "ip", ip, "country", reqctx.CountryCode(ctx), "token", reqctx.Token(ctx),
			"ua", reqctx.UserAgent(ctx), "retryAfter", result.RetryAfter)
		writeRateLimitError(w, result)
		return w, false
	}
	return w, true
}

// readAndDecodeBody reads the request body with size limit and decodes JSON into input.
// Returns false if an error occurred and was written to the response.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, cfg *handlers.Config) bool {
	// Limit request body size
	if cfg != nil && cfg.Server != nil && cfg.Server.MaxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxRequestBodyBytes)
	}

	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		if maxBytesErr := checkMaxBytesError(err); maxBytesErr != nil {
			writeAPIError(w, dto.PayloadTooLarge(maxBytesErr.Limit))
			return false
		}
		slog.ErrorContext(ctx, "Failed to read request body", "err", err)
		writeAPIError(w, dto.BadRequest("Failed to read request body"))
		return false
	}

	if len(body) > 0 {
		if err := json.Unmarshal(body, input); err != nil {
			slog.WarnContext(ctx, "Failed to decode request body", "err", err)
			writeAPIError(w, dto.InvalidJSON())
			return false
		}
	}
	return true
}

// writeJSONResponse writes a JSON response or error response.
//
// The cause wrapped in a 500 error is only sent to the client in dev mode.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, output *Out, err error, cfg *handlers.Config) {
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorCode := dto.ErrorCodeInternal
		message := "Internal server error"
		var details, fields map[string]any

		var apiErr *dto.APIError
		var ewsErr dto.ErrorWithStatus
		switch {
		case errors.As(err, &apiErr):
			statusCode = apiErr.StatusCode()
			errorCode = apiErr.Code()
			message = apiErr.Message()
			details = apiErr.Details()
			fields = apiErr.Fields()
		case errors.As(err, &ewsErr):
			statusCode = ewsErr.StatusCode()
			errorCode = ewsErr.Code()
			message = ewsErr.Error()
			details = ewsErr.Details()
		}
		if cfg != nil && cfg.Dev && statusCode >= http.StatusInternalServerError {
			message = err.Error()
		}

		lvl := slog.LevelDebug
		if statusCode >= http.StatusInternalServerError {
			lvl = slog.LevelError
		}
		slog.Log(ctx, lvl, "Handler error", "err", err, "statusCode", statusCode, "code", errorCode,
			"ip", reqctx.ClientIP(ctx), "token", reqctx.Token(ctx), "ua", reqctx.UserAgent(ctx))
		writeErrorBody(w, statusCode, errorCode, message, details, fields)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// checkMaxBytesError checks if an error is a MaxBytesError and returns it, or nil.
func checkMaxBytesError(err error) *http.MaxBytesError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return maxBytesErr
	}
	return nil
}

// serve decodes, validates and dispatches a request once access was granted.
func serve[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](ctx context.Context, w http.ResponseWriter, r *http.Request, fn func(context.Context, PtrIn) (*Out, error), cfg *handlers.Config) {
	input := new(In)
	if !readAndDecodeBody(ctx, w, r, input, cfg) {
		return
	}

	populateQueryParams(r, input)

	if err := PtrIn(input).Validate(); err != nil {
		handleValidationError(ctx, w, err)
		return
	}

	output, err := fn(ctx, PtrIn(input))
	writeJSONResponse(ctx, w, output, err, cfg)
}

// Wrap wraps a public handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Query parameters can be extracted by tagging struct fields with `query:"name"`.
// *In must implement dto.Validatable.
//
// Example:
//
//	type LogsRequest struct {
//	    Limit int `query:"limit" json:"-"`
//	}
//
//	func (h *Handler) Logs(ctx context.Context, req *LogsRequest) (*Response, error)
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), cfg *handlers.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := addRequestMetadataToContext(r.Context(), r)
		serve(ctx, w, r, fn, cfg)
	})
}

// WrapAuth wraps a handler that requires the secret of scope s.
//
// The credential is checked before the body is read. When limiter is not nil,
// authorized requests are then rate limited by client IP.
func WrapAuth[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](
	fn func(context.Context, PtrIn) (*Out, error),
	guard *Guard,
	s storage.Scope,
	cfg *handlers.Config,
	limiter *ratelimit.Limiter,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := addRequestMetadataToContext(r.Context(), r)

		if err := guard.Authorize(ctx, r, s); err != nil {
			writeJSONResponse[Out](ctx, w, nil, err, cfg)
			return
		}

		var ok bool
		if w, ok = checkRateLimit(ctx, w, r, limiter); !ok {
			return
		}

		serve(ctx, w, r, fn, cfg)
	})
}

// WrapAuthRaw wraps a raw http.HandlerFunc with authentication.
// Use this for handlers that need to handle requests directly (e.g., multipart
// uploads or streamed responses). The body size is not limited.
func WrapAuthRaw(fn http.HandlerFunc, guard *Guard, s storage.Scope, cfg *handlers.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := addRequestMetadataToContext(r.Context(), r)
		if err := guard.Authorize(ctx, r, s); err != nil {
			writeJSONResponse[struct{}](ctx, w, nil, err, cfg)
			return
		}
		fn(w, r.WithContext(ctx))
	})
}

// populateQueryParams extracts query parameters from the request and populates
// struct fields tagged with `query:"paramName"`.
func populateQueryParams(r *http.Request, input any) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return // Skip if not a pointer
	}

	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return // Skip if not a struct
	}

	query := r.URL.Query()
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("query")
		if tag == "" {
			continue
		}

		paramValue := query.Get(tag)
		if paramValue == "" {
			continue
		}

		fieldVal := elem.Field(i)
		switch field.Type.Kind() {
		case reflect.String:
			fieldVal.SetString(paramValue)
		case reflect.Int:
			// Unparsable values keep the zero value, which means "default".
			if intVal, err := strconv.Atoi(paramValue); err == nil {
				fieldVal.SetInt(int64(intVal))
			}
		default:
			if fieldVal.CanAddr() {
				if unmarshaler, ok := fieldVal.Addr().Interface().(encoding.TextUnmarshaler); ok {
					_ = unmarshaler.UnmarshalText([]byte(paramValue))
				}
			}
		}
	}
}

// handleValidationError handles a validation error from a request's Validate method.
func handleValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	statusCode := http.StatusBadRequest
	errorCode := dto.ErrorCodeValidationFailed
	message := err.Error()
	var details map[string]any

	var apiErr *dto.APIError
	if errors.As(err, &apiErr) {
		statusCode = apiErr.StatusCode()
		errorCode = apiErr.Code()
		message = apiErr.Message()
		details = apiErr.Details()
	}

	slog.DebugContext(ctx, "Validation error", "err", err, "statusCode", statusCode, "code", errorCode)
	writeErrorResponseWithCode(w, statusCode, errorCode, message, details)
}

// writeAPIError writes err without its wrapped cause.
func writeAPIError(w http.ResponseWriter, err *dto.APIError) {
	writeErrorBody(w, err.StatusCode(), err.Code(), err.Message(), err.Details(), err.Fields())
}

// writeErrorResponseWithCode writes a detailed error response as JSON with code and details.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code dto.ErrorCode, message string, details map[string]any) {
	writeErrorBody(w, statusCode, code, message, details, nil)
}

// writeErrorBody writes an error response; fields go at the top level of the
// body.
func writeErrorBody(w http.ResponseWriter, statusCode int, code dto.ErrorCode, message string, details, fields map[string]any) {
	if len(details) == 0 {
		details = nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := dto.ErrorResponse{
		Error: dto.ErrorDetails{
			Code:    code,
			Message: message,
		},
		Details: details,
		Fields:  fields,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// writeRateLimitError writes a 429 rate limit error response.
func writeRateLimitError(w http.ResponseWriter, result ratelimit.Result) {
	retryAfter := int(result.RetryAfter.Seconds())
	writeAPIError(w, dto.RateLimitExceeded(retryAfter))
}
