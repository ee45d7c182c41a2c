// Package middleware provides HTTP middleware for authentication, authorization,
// CORS handling, client IP resolution and request context management.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/songify/partyqueue/internal/logging"
	"github.com/songify/partyqueue/internal/party"
	"github.com/songify/partyqueue/internal/services"
)

type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
)

// Error codes used in auth failures.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
)

// AuthMiddleware validates JWT tokens and adds claims to the request context.
// Returns 401 for missing/invalid tokens.
func AuthMiddleware(authService *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, event, msg := authenticate(authService, r)
			if claims == nil {
				logging.LogSecurityEvent(r.Context(), event, msg)
				writeAuthError(w, http.StatusUnauthorized, msg, CodeUnauthenticated)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware adds claims when a valid token is presented and
// otherwise passes the request through unchanged. Handlers decide whether
// the missing claims matter.
func OptionalAuthMiddleware(authService *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, event, msg := authenticate(authService, r)
			if claims == nil {
				logging.LogSecurityEvent(r.Context(), event, msg)
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(authService *services.AuthService, r *http.Request) (*services.Claims, logging.SecurityEvent, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, logging.SecurityEventMissingAuth, "missing authorization header"
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, logging.SecurityEventInvalidAuthFmt, "invalid authorization header format"
	}

	claims, err := authService.ValidateToken(parts[1])
	if err != nil {
		return nil, logging.SecurityEventInvalidJWT, "invalid or expired token"
	}
	return claims, "", ""
}

// HostOnlyMiddleware restricts access to the host of the party named by the
// {code} URL parameter. Must be used after AuthMiddleware. Returns 403 otherwise.
func HostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		if claims == nil || claims.Role != services.RoleHost {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventNonHostAccess, "host access required")
			writeAuthError(w, http.StatusForbidden, "host access required", CodeForbidden)
			return
		}
		if claims.Subject != party.NormalizeCode(chi.URLParam(r, "code")) {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventForeignParty, "host token for another party")
			writeAuthError(w, http.StatusForbidden, "host access required", CodeForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClaims retrieves the JWT claims from the request context.
// Returns nil if no claims are present (e.g., unauthenticated request).
func GetClaims(ctx context.Context) *services.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*services.Claims)
	return claims
}

func writeAuthError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
