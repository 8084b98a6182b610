package auth

import "context"

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// DefaultDisplayName is the placeholder display name for identities
// whose token carries no name claim. Mutations store only the identity
// id; reads reconstruct the identity around it.
const DefaultDisplayName = "John Smith"

// Identity represents the authenticated caller of an operation. It is
// stored alongside mutations for audit attribution.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns the zero value and false if no identity is set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}
