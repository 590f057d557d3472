package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Token is the shared API token. Empty disables authentication.
	Token string
}

// NewAuthMiddleware creates an authentication middleware checking the shared API token.
func NewAuthMiddleware(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Token == "" {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := extractAPIKey(r)
			if apiKey == "" {
				writeError(w, ErrUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(config.Token)) != 1 {
				writeError(w, &APIError{
					HTTPStatus: http.StatusUnauthorized,
					Code:       ErrCodeUnauthorized,
					Message:    "Invalid API token",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey extracts the API key from the request.
// Supports: X-API-Key header, Authorization: Bearer token, Authorization: ApiKey token
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	if token, ok := strings.CutPrefix(auth, "ApiKey "); ok {
		return token
	}
	return ""
}
