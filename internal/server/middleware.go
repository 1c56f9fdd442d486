// Records every /api request in the access log.

package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maruel/lookupd/internal/accesslog"
	"github.com/maruel/lookupd/internal/server/ipgeo"
	"github.com/maruel/lookupd/internal/server/reqctx"
	"github.com/maruel/lookupd/internal/storage"
	"golang.org/x/time/rate"
)

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// auditor appends one access log entry per completed /api request.
type auditor struct {
	log  *accesslog.Log
	geo  *ipgeo.Checker
	next http.Handler
	warn rate.Sometimes
}

// AccessLog wraps next so /api requests are recorded in al once the handler
// returns. Entries hold the URL path only; the query string, which may carry
// a credential, is never stored. geo may be nil.
func AccessLog(next http.Handler, al *accesslog.Log, geo *ipgeo.Checker) http.Handler {
	return &auditor{log: al, geo: geo, next: next, warn: rate.Sometimes{Interval: time.Minute}}
}

func (a *auditor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api" && !strings.HasPrefix(r.URL.Path, "/api/") {
		a.next.ServeHTTP(w, r)
		return
	}
	start := time.Now()
	ip := reqctx.GetClientIP(r)
	country := a.geo.CountryCode(ip)
	token := accesslog.MaskToken(storage.NormalizeKey(ExtractToken(r)))
	ctx := reqctx.WithCountryCode(r.Context(), country)
	ctx = reqctx.WithToken(ctx, token)

	rec := &statusRecorder{ResponseWriter: w}
	a.next.ServeHTTP(rec, r.WithContext(ctx))
	if rec.status == 0 {
		rec.status = http.StatusOK
	}

	_, err := a.log.Append(accesslog.Entry{
		Method:     r.Method,
		Path:       r.URL.Path,
		Status:     rec.status,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		IP:         ip,
		UserAgent:  r.Header.Get("User-Agent"),
		Token:      token,
		Country:    country,
	})
	if err != nil {
		a.warn.Do(func() {
			slog.ErrorContext(ctx, "Failed to append access log entry", "err", err, "path", a.log.Path())
		})
	}
}
