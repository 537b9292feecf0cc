package auth

import (
	"context"
	"strings"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the actor behind a request
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
}

// Anonymous is used when a request carries no identity
var Anonymous = Identity{}

// IsAnonymous reports whether the actor is unknown
func (i Identity) IsAnonymous() bool {
	return strings.TrimSpace(i.UID) == ""
}

// WithIdentity stores the actor in the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the actor, Anonymous when none was stored
func IdentityFromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey).(Identity); ok {
		return id
	}
	return Anonymous
}
