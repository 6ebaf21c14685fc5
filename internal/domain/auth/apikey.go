package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes understood by the admin API.
const (
	ScopeOrdersWrite = "orders:write"
	ScopeRefunds     = "orders:refund"
	ScopeMetrics     = "metrics:read"
	ScopeAll         = "*"
)

// ErrKeyNotFound is returned when no key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Allows reports whether the key grants scope.
func (k *APIKeyInfo) Allows(scope string) bool {
	return slices.Contains(k.Scopes, ScopeAll) || slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of a raw key. Only hashes are stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

type ctxKey struct{}

// WithKey stores the authenticated key in ctx.
func WithKey(ctx context.Context, k *APIKeyInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, k)
}

// KeyFrom returns the authenticated key, if any.
func KeyFrom(ctx context.Context) (*APIKeyInfo, bool) {
	k, ok := ctx.Value(ctxKey{}).(*APIKeyInfo)
	return k, ok
}
