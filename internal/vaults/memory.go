package vaults

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/systmms/stagevault/pkg/filter"
	"github.com/systmms/stagevault/pkg/secret"
	"github.com/systmms/stagevault/pkg/vault"
)

// DriverMemory selects the in-process backend.
const DriverMemory = "memory"

// MemoryStore is a process-local versioned store keyed by formatted path.
// One store is shared by every stage of a memory vault.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]memoryVersion
	now     func() time.Time
}

type memoryVersion struct {
	value    string
	secure   bool
	version  int
	modified time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]memoryVersion),
		now:     time.Now,
	}
}

// NewMemoryStoreWithClock creates an empty store that timestamps versions
// with now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	s := NewMemoryStore()
	s.now = now
	return s
}

// MemoryVault serves secrets from a MemoryStore
type MemoryVault struct {
	binding vault.Binding
	store   *MemoryStore
}

// NewMemoryVault creates a vault over store. A nil store gets a fresh one.
func NewMemoryVault(b vault.Binding, store *MemoryStore) *MemoryVault {
	if store == nil {
		store = NewMemoryStore()
	}
	return &MemoryVault{binding: b, store: store}
}

// Name returns the vault name
func (v *MemoryVault) Name() string { return v.binding.Name }

// Stage returns the bound stage
func (v *MemoryVault) Stage() string { return v.binding.Stage }

// ForStage returns a copy bound to stage that shares the store
func (v *MemoryVault) ForStage(stage string) vault.Vault {
	return &MemoryVault{binding: v.binding.WithStage(stage), store: v.store}
}

// Format returns the path for key
func (v *MemoryVault) Format(key string) string {
	return v.binding.Format(key)
}

func (v *MemoryVault) notFound(key, path string) error {
	return vault.NotFoundError{Vault: v.binding.Name, Stage: v.binding.Stage, Key: key, Path: path}
}

// Get returns the latest version of key
func (v *MemoryVault) Get(ctx context.Context, key string) (secret.Secret, error) {
	if err := ctx.Err(); err != nil {
		return secret.Secret{}, translate(opError{binding: v.binding, op: "get", key: key}, err, nil)
	}
	path := v.Format(key)

	v.store.mu.RLock()
	versions := v.store.entries[path]
	v.store.mu.RUnlock()

	if len(versions) == 0 {
		return secret.Secret{}, v.notFound(key, path)
	}
	return v.toSecret(key, path, versions[len(versions)-1]), nil
}

func (v *MemoryVault) toSecret(key, path string, mv memoryVersion) secret.Secret {
	return secret.Secret{
		Key:      key,
		Value:    mv.value,
		Secure:   mv.secure,
		Stage:    v.binding.Stage,
		Revision: mv.version,
		Path:     path,
		Vault:    v,
	}
}

// Set appends a new version
func (v *MemoryVault) Set(ctx context.Context, key, value string, secure bool) (secret.Secret, error) {
	if err := ctx.Err(); err != nil {
		return secret.Secret{}, translate(opError{binding: v.binding, op: "set", key: key}, err, nil)
	}
	path := v.Format(key)

	v.store.mu.Lock()
	versions := v.store.entries[path]
	next := memoryVersion{value: value, secure: secure, version: 1, modified: v.store.now()}
	if n := len(versions); n > 0 {
		next.version = versions[n-1].version + 1
	}
	v.store.entries[path] = append(versions, next)
	v.store.mu.Unlock()

	return v.Get(ctx, key)
}

// Delete removes key and its history
func (v *MemoryVault) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return translate(opError{binding: v.binding, op: "delete", key: key}, err, nil)
	}
	path := v.Format(key)

	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	if _, ok := v.store.entries[path]; !ok {
		return v.notFound(key, path)
	}
	delete(v.store.entries, path)
	return nil
}

// List returns every key under the stage prefix
func (v *MemoryVault) List(ctx context.Context) (*secret.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, translate(opError{binding: v.binding, op: "list"}, err, nil)
	}
	prefix := v.Format("")
	if prefix != "" {
		prefix += "/"
	}

	out := secret.NewCollection()
	v.store.mu.RLock()
	for path, versions := range v.store.entries {
		if len(versions) == 0 || !strings.HasPrefix(path, prefix) {
			continue
		}
		out.Add(v.toSecret(strings.TrimPrefix(path, prefix), path, versions[len(versions)-1]))
	}
	v.store.mu.RUnlock()

	return out.SortByKey(), nil
}

// History returns every stored version of key
func (v *MemoryVault) History(ctx context.Context, key string, filters filter.Collection, limit int) (*secret.HistoryCollection, error) {
	if err := ctx.Err(); err != nil {
		return nil, translate(opError{binding: v.binding, op: "history", key: key}, err, nil)
	}
	path := v.Format(key)

	v.store.mu.RLock()
	versions := append([]memoryVersion(nil), v.store.entries[path]...)
	v.store.mu.RUnlock()

	if len(versions) == 0 {
		return nil, v.notFound(key, path)
	}

	all := secret.NewHistoryCollection()
	for _, mv := range versions {
		modified := mv.modified
		all.Add(secret.HistoryEntry{
			Key:              key,
			Value:            mv.value,
			Version:          mv.version,
			LastModifiedDate: &modified,
			DataType:         "text",
			Secure:           mv.secure,
		})
	}
	return vault.ApplyHistory(all, filters, limit), nil
}
