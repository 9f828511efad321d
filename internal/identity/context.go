package identity

import "context"

// Kind distinguishes the three actor types the platform knows about.
type Kind string

const (
	KindCustomer Kind = "customer"
	KindProvider Kind = "provider"
	KindAdmin    Kind = "admin"
)

// Identity is the resolved actor attached to a request. Exactly one
// identity is resolved per request; authorization checks consume it
// uniformly instead of probing separate user/provider auth paths.
type Identity struct {
	Kind  Kind
	ID    string
	Email string
}

// IsAdmin reports whether the actor has admin rights.
func (id Identity) IsAdmin() bool { return id.Kind == KindAdmin }

// IsCustomer reports whether the actor is a customer.
func (id Identity) IsCustomer() bool { return id.Kind == KindCustomer }

// IsProvider reports whether the actor is a service provider.
func (id Identity) IsProvider() bool { return id.Kind == KindProvider }

type ctxKey string

const identityKey ctxKey = "fixhaven.identity"

// WithIdentity stores the resolved identity in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity if present.
func FromContext(ctx context.Context) (Identity, bool) {
	val := ctx.Value(identityKey)
	if val == nil {
		return Identity{}, false
	}
	id, ok := val.(Identity)
	return id, ok && id.ID != ""
}
