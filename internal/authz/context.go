package authz

import "context"

// Principal is the claims bag resolved from the caller's token. A delegated
// (human) caller carries PreferredUsername; an application caller is
// identified by Audience/AuthorizedParty instead.
type Principal struct {
	PreferredUsername string
	Audience          string
	AuthorizedParty   string
	TenantID          string
}

// IsDelegated reports whether the principal is a human end user.
func (p Principal) IsDelegated() bool {
	return p.PreferredUsername != ""
}

type principalKey struct{}
type overrideKey struct{}

// WithPrincipal attaches the caller's principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext retrieves the principal set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// WithGranularAccessOverride scopes the team-membership bypass to this call
// chain. The override never outlives the context it was set on, so one
// request's override cannot leak into a concurrent request's check.
func WithGranularAccessOverride(ctx context.Context, on bool) context.Context {
	return context.WithValue(ctx, overrideKey{}, on)
}

// GranularAccessOverride reads the bypass flag from the context.
func GranularAccessOverride(ctx context.Context) bool {
	on, _ := ctx.Value(overrideKey{}).(bool)
	return on
}
