// Package vault defines the uniform contract every secret backend adapter
// satisfies.
//
// A Vault is a logical binding of a named backend configuration to one
// deployment stage. It holds no secret state of its own: every call goes back
// to the backend. ForStage rebinds the same backend to another stage without
// mutating the receiver, so differently-staged values of one vault can be used
// from concurrent goroutines while sharing a network client.
//
// # Errors
//
// Adapters translate backend failures into exactly three kinds:
//
//	NotFoundError      the key is absent (errors.Is(err, ErrSecretNotFound))
//	AccessDeniedError  the backend refused the call (errors.Is(err, ErrAccessDenied))
//	*Error             anything else, carrying the backend's diagnostic text
//
// No SDK error type crosses the Vault boundary.
//
// # Paths
//
// Logical keys map to backend paths through Binding.Format. The default
// composition is prefix/namespace/stage/key with empty segments dropped; a
// Formatter installed on the binding replaces it entirely.
package vault

import (
	"context"
	"errors"

	"github.com/systmms/stagevault/pkg/filter"
	"github.com/systmms/stagevault/pkg/secret"
)

// Vault is the capability set implemented by every backend adapter.
//
// Implementations must be safe for concurrent use.
type Vault interface {
	// Name returns the configured vault name (the slug used in templates).
	Name() string

	// Stage returns the stage this value is bound to.
	Stage() string

	// ForStage returns a new Vault bound to stage. The receiver is unchanged.
	ForStage(stage string) Vault

	// Format maps a logical key to the backend's fully-qualified path.
	// An empty key yields the listing prefix for the bound stage.
	Format(key string) string

	// List enumerates every secret under the listing prefix, draining
	// backend pagination. Entries that cannot be read individually are
	// skipped. The result is sorted by key.
	List(ctx context.Context) (*secret.Collection, error)

	// Get fetches one secret.
	Get(ctx context.Context, key string) (secret.Secret, error)

	// Set creates or updates a secret and returns it as re-read from the
	// backend. Set is never retried automatically.
	Set(ctx context.Context, key, value string, secure bool) (secret.Secret, error)

	// Delete removes a secret immediately. Deleting an absent key fails with
	// a NotFoundError.
	Delete(ctx context.Context, key string) error

	// History returns the version history for key, narrowed by filters,
	// newest first, truncated to limit (limit <= 0 means no truncation).
	// A key with no history at all fails with a NotFoundError.
	History(ctx context.Context, key string, filters filter.Collection, limit int) (*secret.HistoryCollection, error)
}

// Has reports whether Get would succeed for key. Not-found becomes false;
// every other failure is returned.
func Has(ctx context.Context, v Vault, key string) (bool, error) {
	if _, err := v.Get(ctx, key); err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Save stores s through v.Set using the secret's key, value and secure flag.
func Save(ctx context.Context, v Vault, s secret.Secret) (secret.Secret, error) {
	return v.Set(ctx, s.Key, s.Value, s.Secure)
}

// ApplyHistory narrows h with filters, sorts it newest first and truncates it
// to limit. Adapters call it after fetching raw backend history.
func ApplyHistory(h *secret.HistoryCollection, filters filter.Collection, limit int) *secret.HistoryCollection {
	return h.Filter(filters.Match).SortByVersionDesc().Take(limit)
}
