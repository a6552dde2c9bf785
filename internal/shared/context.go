package shared

import "context"

// Principal is the authenticated caller of a request together with the
// (role, tenant) context selected for it. Role and TenantID are empty when
// the caller has not narrowed the session to a single assignment.
type Principal struct {
	ActorID  int64
	Role     string
	TenantID *int64
}

// Selected reports whether an active role context was chosen.
func (p Principal) Selected() bool {
	return p.Role != ""
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context. ok is false for
// anonymous requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || p.ActorID == 0 {
		return Principal{}, false
	}
	return p, true
}
