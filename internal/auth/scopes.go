package auth

import "context"

// Scopes accepted by the summary API.
const (
	ScopeSummariesRead  = "summaries:read"
	ScopeSummariesWrite = "summaries:write"
)

// Allows reports whether the claims grant scope. Write access implies read.
func (c *Claims) Allows(scope string) bool {
	if c == nil {
		return false
	}
	if _, ok := c.Scopes[scope]; ok {
		return true
	}
	if scope == ScopeSummariesRead {
		_, ok := c.Scopes[ScopeSummariesWrite]
		return ok
	}
	return false
}

type claimsKey struct{}

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
