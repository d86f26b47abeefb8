// Package mw contains HTTP middleware for the supasaasy API.
package mw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SecurityScheme is the OpenAPI security scheme name for admin bearer
// tokens.
const SecurityScheme = "adminBearer"

// BearerToken extracts the token from a "Bearer <token>" Authorization
// header. Other schemes yield an empty token.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

// ValidAdminToken compares a presented token against the configured
// admin key in constant time. An empty configured key rejects everything.
func ValidAdminToken(presented, adminKey string) bool {
	if adminKey == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(adminKey)) == 1
}

// AdminAuth requires a valid admin bearer token on every request. When
// enabled is false the check is skipped, which the config file allows
// for local development.
func AdminAuth(adminKey string, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			if !ValidAdminToken(BearerToken(r), adminKey) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
