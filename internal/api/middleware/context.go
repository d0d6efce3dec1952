package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity records the authenticated caller's public key in the context.
func SetIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the authenticated caller's public key, if any.
func GetIdentity(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(identityKey).(string)
	return id, ok
}
