package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/artisan/internal/auth"
	"github.com/onnwee/artisan/internal/middleware"
)

// TokenVerifier validates bearer tokens. *auth.Verifier implements it.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type claimsKey struct{}

// ClaimsFromContext returns the verified claims, or nil for anonymous requests.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// RequireAuth rejects requests without a valid bearer token and stores the
// verified claims and user ID on the request context.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				w.Header().Set("WWW-Authenticate", `Bearer`)
				WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
				return
			}

			claims, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				if errors.Is(err, auth.ErrExpiredToken) {
					WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeTokenExpired, "Token has expired")
					return
				}
				WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid token")
				return
			}

			ctx := middleware.SetUserID(r.Context(), claims.UserID())
			ctx = context.WithValue(ctx, claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated requests whose claims lack role.
// It must run inside RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil || !claims.HasRole(role) {
				WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
