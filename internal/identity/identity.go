// Package identity carries the current caller's owner id through a context.
package identity

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const ownerIDKey contextKey = "ownerId"

// OwnerHeader is the header the HTTP middleware reads the caller's owner id from.
const OwnerHeader = "X-Owner-ID"

// Resolver maps the current caller to an owner id.
type Resolver interface {
	CurrentOwner(ctx context.Context) (string, bool)
}

// WithOwner returns a context carrying ownerID.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// OwnerFromContext returns the owner id stored by WithOwner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerIDKey).(string)
	return id, ok && id != ""
}

// ContextResolver resolves the owner from the request context.
type ContextResolver struct{}

// CurrentOwner implements Resolver.
func (ContextResolver) CurrentOwner(ctx context.Context) (string, bool) {
	return OwnerFromContext(ctx)
}

// Middleware copies the owner id header into the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if owner := strings.TrimSpace(r.Header.Get(OwnerHeader)); owner != "" {
			r = r.WithContext(WithOwner(r.Context(), owner))
		}
		next.ServeHTTP(w, r)
	})
}
