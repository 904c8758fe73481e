package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
)

var localOrigins = []string{"http://127.0.0.1", "http://localhost", "http://[::1]"}

// IsLocalOrigin reports whether origin is a loopback origin or one of the
// allowed origins. An empty origin is allowed; "null" is not.
func IsLocalOrigin(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	if origin == "null" {
		return false
	}
	origin = strings.TrimRight(origin, "/")
	for _, prefix := range localOrigins {
		if origin == prefix || strings.HasPrefix(origin, prefix+":") {
			return true
		}
	}
	for _, a := range allowed {
		if origin == strings.TrimRight(a, "/") {
			return true
		}
	}
	return false
}

// NewOriginGuard rejects POST requests carrying a foreign Origin header.
func NewOriginGuard(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				if origin, ok := r.Header["Origin"]; ok && !IsLocalOrigin(strings.Join(origin, ","), allowed) {
					zlog.Warn().Msgf("httpapi: forbidden origin: origin=%s path=%s", strings.Join(origin, ","), r.URL.Path)
					writeError(w, http.StatusForbidden, "Forbidden origin")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewAdminAuth validates the admin token header. An empty token disables the check.
func NewAdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the Flusher underneath.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zlog.Debug().Msgf("httpapi: %s %s: status=%d elapsed=%v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
