// Package middleware provides HTTP middleware for the trust layer.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tiltcheck/trust-layer/internal/app/services/adminauth"
)

type contextKey string

const adminContextKey contextKey = "admin_identity"

// RequireAdmin gates a route tree behind a valid admin session. The resolved
// identity is attached to the request context.
func RequireAdmin(auth *adminauth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "admin session token required")
				return
			}

			identity, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				unauthorized(w, "admin access requires a valid admin session")
				return
			}

			ctx := context.WithValue(r.Context(), adminContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFromContext returns the identity set by RequireAdmin, or nil.
func AdminFromContext(ctx context.Context) adminauth.Identity {
	identity, _ := ctx.Value(adminContextKey).(adminauth.Identity)
	return identity
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(http.StatusUnauthorized),
		"message": message,
	})
}
