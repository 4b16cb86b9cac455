package shared

import (
	"context"
	"strings"
	"time"
)

// Principal is the authenticated actor attached to a request.
type Principal struct {
	UserID    int64
	Username  string
	Role      string
	Rights    map[string]bool
	TokenID   string
	ExpiresAt time.Time
}

// IsAdmin reports whether the principal holds the administrator role.
func (p Principal) IsAdmin() bool {
	return strings.EqualFold(p.Role, RoleAdmin)
}

// Can reports whether the principal was granted the right. Admins hold every right.
func (p Principal) Can(right string) bool {
	if p.IsAdmin() {
		return true
	}
	return p.Rights[strings.ToLower(strings.TrimSpace(right))]
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok && p.UserID > 0
}

// ActorID returns the authenticated user id or zero.
func ActorID(ctx context.Context) int64 {
	p, _ := PrincipalFromContext(ctx)
	return p.UserID
}
