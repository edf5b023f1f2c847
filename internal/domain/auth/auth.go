// Package auth defines the staff actor model used for directly-authorized
// order mutations. Who a key belongs to is resolved by the API key lookup;
// the order core only consumes the resulting Actor.
package auth

import (
	"context"
	"slices"
)

// Scopes grantable to API keys.
const (
	ScopeOrdersRead  = "orders:read"
	ScopeOrdersWrite = "orders:write"
	// ScopeAdmin implies every other scope and is not tenant-scoped.
	ScopeAdmin = "admin"
)

// Actor is a verified staff identity: which studio it belongs to and what it
// may do. An empty StudioID means a platform-level (admin) key.
type Actor struct {
	KeyID    string
	Name     string
	StudioID string
	Scopes   []string
}

// Allowed reports whether the actor holds the given scope.
func (a Actor) Allowed(scope string) bool {
	return slices.Contains(a.Scopes, ScopeAdmin) || slices.Contains(a.Scopes, scope)
}

// KeyRecord holds the stored fields of an API key.
type KeyRecord struct {
	ID       string
	KeyHash  string
	Name     string
	StudioID string
	Scopes   []string
}

// Repository provides lookup of API keys by their HMAC-SHA256 hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*KeyRecord, error)
}
