package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"tablegraph/internal/observability"
)

const defaultAdminTokenHeader = "X-Admin-Token"

// AdminTokenAuthConfig controls shared-token authentication for admin
// endpoints.
type AdminTokenAuthConfig struct {
	Token      string
	HeaderName string
	// Metrics, when set, counts authorized and rejected admin requests.
	Metrics *observability.AdminMetrics
}

type adminTokenAuth struct {
	token   string
	header  string
	metrics *observability.AdminMetrics
}

// AdminTokenAuthMiddleware validates a shared admin token from request
// headers. Token comparison is constant time.
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig) (func(http.Handler) http.Handler, error) {
	auth := adminTokenAuth{
		token:   strings.TrimSpace(cfg.Token),
		header:  strings.TrimSpace(cfg.HeaderName),
		metrics: cfg.Metrics,
	}
	if auth.token == "" {
		return nil, errors.New("admin auth token is required")
	}
	if auth.header == "" {
		auth.header = defaultAdminTokenHeader
	}
	return auth.wrap, nil
}

func (a adminTokenAuth) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operation := adminOperation(r.URL.Path)
		provided := strings.TrimSpace(r.Header.Get(a.header))

		authorized := tokensEqual(provided, a.token)
		a.record(r, operation, provided, authorized)
		if !authorized {
			writeAdminUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a adminTokenAuth) record(r *http.Request, operation, provided string, authorized bool) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordAccess(r.Context(), operation, authorized)
	if authorized {
		return
	}
	reason := "invalid_token"
	if provided == "" {
		reason = "missing_token"
	}
	a.metrics.RecordUnauthorized(r.Context(), operation, reason)
}

// adminOperation labels metrics by the admin endpoint invoked.
func adminOperation(path string) string {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/admin"), "/")
	if trimmed == "" {
		return "admin"
	}
	return trimmed
}

// tokensEqual compares tokens in constant time. Hashing both sides first
// keeps the comparison independent of token length.
func tokensEqual(provided, expected string) bool {
	p, e := sha256.Sum256([]byte(provided)), sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(p[:], e[:]) == 1
}

func writeAdminUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = io.WriteString(w, `{"error":"unauthorized"}`)
}
