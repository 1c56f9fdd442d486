// Checks request credentials against the KeyStore.

package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/maruel/lookupd/internal/accesslog"
	"github.com/maruel/lookupd/internal/server/dto"
	"github.com/maruel/lookupd/internal/server/reqctx"
	"github.com/maruel/lookupd/internal/storage"
	"golang.org/x/crypto/blake2b"
)

// Guard authorizes requests with the secret of a scope.
type Guard struct {
	keys *storage.KeyStore
}

// NewGuard creates a guard backed by keys.
func NewGuard(keys *storage.KeyStore) *Guard {
	return &Guard{keys: keys}
}

// ExtractToken returns the credential presented by r, not normalized.
//
// The X-API-Key header wins over an Authorization bearer token, which wins
// over the api_key and apikey query parameters.
func ExtractToken(r *http.Request) string {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && v != "" {
		return v
	}
	q := r.URL.Query()
	if v := q.Get("api_key"); v != "" {
		return v
	}
	return q.Get("apikey")
}

// Authorize returns nil if r carries the current secret of scope s.
//
// It returns a 401 error when no credential is presented and a 403 error when
// it does not match.
func (g *Guard) Authorize(ctx context.Context, r *http.Request, s storage.Scope) error {
	missing, invalid := "Unauthorized: API key is missing", "Forbidden: Invalid API key"
	if s == storage.ScopeLookup {
		missing, invalid = "Unauthorized: Lookup API key is missing", "Forbidden: Invalid lookup API key"
	}
	got := storage.NormalizeKey(ExtractToken(r))
	if got == "" {
		return dto.Unauthorized(missing)
	}
	want := storage.NormalizeKey(g.keys.Key(s))
	if !secureCompare(got, want) {
		slog.WarnContext(ctx, "Invalid credential", "scope", s, "ip", reqctx.ClientIP(ctx), "country", reqctx.CountryCode(ctx),
			"received", accesslog.MaskToken(got), "expected", accesslog.MaskToken(want))
		return dto.Forbidden(invalid)
	}
	return nil
}

// secureCompare compares fixed size digests so the time taken does not
// depend on the length of either value nor on a common prefix.
func secureCompare(a, b string) bool {
	ha := blake2b.Sum256([]byte(a))
	hb := blake2b.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
