package agent

import "context"

// Principal identifies the authenticated caller for the length of one
// operation. Process attaches it to the context it hands downstream so
// transport layers and handlers can recover the caller without re-parsing
// the token.
type Principal struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	SessionID string `json:"sessionId"`
}

type principalKey struct{}

// WithPrincipal attaches the caller identity to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller identity attached to ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
