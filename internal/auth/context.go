package auth

import (
	"context"
)

type contextKey int

const (
	claimsKey contextKey = iota
)

// WithClaims returns a new context carrying claims.
func WithClaims(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Claims returns the token claims from context, or nil if not authenticated.
func Claims(ctx context.Context) *TokenClaims {
	claims, _ := ctx.Value(claimsKey).(*TokenClaims)
	return claims
}

// Subject returns the token subject from context, or empty string if not authenticated.
func Subject(ctx context.Context) string {
	claims := Claims(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// IsAuthenticated returns true if the request has valid authentication.
func IsAuthenticated(ctx context.Context) bool {
	return Claims(ctx) != nil
}
