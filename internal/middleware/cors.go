package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin resource sharing.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// CORSMiddleware applies the configured CORS policy and answers preflight
// requests without invoking the wrapped handler.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return noopMiddleware
	}

	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := policy.originAllowed(origin)
			if allowed {
				policy.setOriginHeaders(w.Header(), origin)
			}

			if r.Method == http.MethodOptions {
				if allowed {
					policy.setPreflightHeaders(w.Header())
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// corsPolicy holds precomputed header values for the configured policy.
type corsPolicy struct {
	allowAll         bool
	origins          map[string]struct{}
	methods          string
	headers          string
	expose           string
	maxAge           string
	allowCredentials bool
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	policy := &corsPolicy{
		origins:          make(map[string]struct{}),
		methods:          strings.Join(cfg.AllowedMethods, ", "),
		headers:          strings.Join(cfg.AllowedHeaders, ", "),
		expose:           strings.Join(cfg.ExposeHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
	}
	if cfg.MaxAge > 0 {
		policy.maxAge = strconv.Itoa(cfg.MaxAge)
	}

	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			policy.allowAll = true
			break
		}
		policy.origins[origin] = struct{}{}
	}
	return policy
}

func (p *corsPolicy) originAllowed(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

func (p *corsPolicy) setOriginHeaders(h http.Header, origin string) {
	if p.allowAll {
		h.Set("Access-Control-Allow-Origin", "*")
	} else {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	}

	// Credentials cannot be combined with the wildcard origin.
	if p.allowCredentials && !p.allowAll {
		h.Set("Access-Control-Allow-Credentials", "true")
	}

	if p.expose != "" {
		h.Set("Access-Control-Expose-Headers", p.expose)
	}
}

func (p *corsPolicy) setPreflightHeaders(h http.Header) {
	if p.methods != "" {
		h.Set("Access-Control-Allow-Methods", p.methods)
	}
	if p.headers != "" {
		h.Set("Access-Control-Allow-Headers", p.headers)
	}
	if p.maxAge != "" {
		h.Set("Access-Control-Max-Age", p.maxAge)
	}
}
