package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/grvsrs/codexbot/pkg/logger"
)

// authMiddleware enforces the API key on management endpoints. Health
// checks and webhook ingress are exempt: webhooks carry their own
// provider-specific authentication.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isExemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if apiKey == "" {
			// No key configured: management API is open. Fine for
			// localhost binds, log once per request at debug.
			logger.DebugC("api", "No API key configured, skipping auth")
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			logger.WarnCF("api", "Unauthorized request", map[string]interface{}{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isExemptPath(path string) bool {
	return path == "/api/health" || strings.HasPrefix(path, "/webhooks/")
}

// extractToken pulls the API key from the Authorization header, the
// X-API-Key header, or the token query parameter (for WebSocket
// clients that cannot set headers).
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("token")
}
