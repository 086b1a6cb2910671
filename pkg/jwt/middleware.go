package jwt

import (
	"context"
	"net/http"
	"strings"
)

type contextKey int

const (
	tokenKey contextKey = iota
	claimsKey
)

// SetClaims stores parsed claims in the context.
func SetClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns claims stored by the middleware.
func ClaimsFromContext(ctx context.Context) (map[string]any, bool) {
	claims, ok := ctx.Value(claimsKey).(map[string]any)
	return claims, ok
}

// SetToken stores the raw token string in the context.
func SetToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the raw token stored by the middleware.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok
}

// Middleware validates bearer tokens and injects claims into the request
// context for downstream handlers. Requests without a valid token get 401.
func Middleware(service *Service) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := BearerTokenExtractor(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			claims := make(map[string]any)
			if err := service.Parse(tokenString, &claims); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			ctx = SetToken(ctx, tokenString)
			ctx = SetClaims(ctx, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerTokenExtractor extracts JWT tokens from "Authorization: Bearer <token>"
// headers per RFC 6750.
func BearerTokenExtractor(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}
