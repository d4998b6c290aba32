package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware creates a middleware that checks for a bearer token or query param token.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Query param is convenient for quick testing from a browser.
			if tokenMatches(r.URL.Query().Get("token"), token) {
				next.ServeHTTP(w, r)
				return
			}

			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && tokenMatches(bearer, token) {
				next.ServeHTTP(w, r)
				return
			}

			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
		})
	}
}

func tokenMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
