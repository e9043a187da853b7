package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// apiKeyAuth enforces the X-API-Key header against the configured key
// list when auth is enabled, per spec.md §6 "if AUTH_ENABLED, X-API-Key
// header must be one of APIKEY_{n}; else 401".
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthEnabled {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-API-Key")
		if got == "" || !keyAllowed(got, s.cfg.APIKeys) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid X-API-Key", Kind: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func keyAllowed(got string, keys []string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(got), []byte(k)) == 1 {
			return true
		}
	}
	return false
}

// rateLimit caps each client IP to requestsPerMinute requests/minute using
// httprate's sliding-window counter, returning 429 once exceeded.
func rateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 600
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Kind: "rate_limited"})
		}),
	)
}
