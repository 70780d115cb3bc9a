// Package resolve fetches the secrets a template references and merges
// them into the rendered output.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"sync"

	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/internal/template"
	"github.com/systmms/stagevault/pkg/secret"
	"github.com/systmms/stagevault/pkg/vault"
)

// DefaultConcurrency bounds how many vaults are read at once.
const DefaultConcurrency = 4

// VaultLookup returns the vault called name bound to stage.
type VaultLookup func(ctx context.Context, name, stage string) (vault.Vault, error)

// Resolver resolves template references against named vaults. Each vault is
// looked up once per call and read by a single goroutine; distinct vaults
// are read concurrently.
type Resolver struct {
	lookup      VaultLookup
	concurrency int
	logger      *logging.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithConcurrency sets how many vaults are read at once
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a new resolver instance
func New(lookup VaultLookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:      lookup,
		concurrency: DefaultConcurrency,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolution holds the outcome of resolving a set of references.
type Resolution struct {
	secrets map[template.Reference]secret.Secret
	missing map[template.Reference]error
}

// Lookup returns the value of ref, or the error explaining why it is missing.
func (res *Resolution) Lookup(ref template.Reference) (string, error) {
	if s, ok := res.secrets[ref]; ok {
		return s.Value, nil
	}
	if err, ok := res.missing[ref]; ok {
		return "", err
	}
	return "", vault.NotFoundError{Vault: ref.Vault, Key: ref.Key}
}

// Secret returns the resolved secret for ref.
func (res *Resolution) Secret(ref template.Reference) (secret.Secret, bool) {
	s, ok := res.secrets[ref]
	return s, ok
}

// Missing returns the references that do not exist, sorted.
func (res *Resolution) Missing() []template.Reference {
	out := make([]template.Reference, 0, len(res.missing))
	for ref := range res.missing {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// Resolve reads every reference from its vault bound to stage. Secrets that
// do not exist are recorded as missing; any other failure aborts the call.
func (r *Resolver) Resolve(ctx context.Context, stage string, refs []template.Reference) (*Resolution, error) {
	res := &Resolution{
		secrets: make(map[template.Reference]secret.Secret),
		missing: make(map[template.Reference]error),
	}

	var vaultNames []string
	byVault := make(map[string][]string)
	seen := make(map[template.Reference]bool)
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		if ref.Vault == "" {
			return nil, dserrors.ConfigError{
				Field:      "default_vault",
				Message:    fmt.Sprintf("placeholder {%s} names no vault and no default vault is configured", ref.Key),
				Suggestion: "Set default_vault in stagevault.yaml or write the placeholder as {vault:key}",
			}
		}
		if _, ok := byVault[ref.Vault]; !ok {
			vaultNames = append(vaultNames, ref.Vault)
		}
		byVault[ref.Vault] = append(byVault[ref.Vault], ref.Key)
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs = make(map[string]error)
	)

	// Use a semaphore to limit concurrent vault reads
	semaphore := make(chan struct{}, r.concurrency)

	for _, name := range vaultNames {
		wg.Add(1)
		go func(name string, keys []string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			found, missing, err := r.resolveVault(ctx, name, stage, keys)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[name] = err
				return
			}
			for key, s := range found {
				res.secrets[template.Reference{Vault: name, Key: key}] = s
			}
			for key, missingErr := range missing {
				res.missing[template.Reference{Vault: name, Key: key}] = missingErr
			}
		}(name, byVault[name])
	}

	wg.Wait()

	if len(errs) > 0 {
		failed := make([]string, 0, len(errs))
		for name := range errs {
			failed = append(failed, name)
		}
		sort.Strings(failed)
		return nil, errs[failed[0]]
	}

	r.logger.Debug("Resolved %d secrets from %d vaults (%d missing)", len(res.secrets), len(vaultNames), len(res.missing))
	return res, nil
}

// resolveVault reads keys from one vault, one at a time.
func (r *Resolver) resolveVault(ctx context.Context, name, stage string, keys []string) (map[string]secret.Secret, map[string]error, error) {
	v, err := r.lookup(ctx, name, stage)
	if err != nil {
		return nil, nil, err
	}

	found := make(map[string]secret.Secret, len(keys))
	missing := make(map[string]error)
	for _, key := range keys {
		s, err := v.Get(ctx, key)
		switch {
		case err == nil:
			found[key] = s
		case vault.IsNotFound(err):
			r.logger.Debug("Secret %s not found in %s (%s)", key, name, stage)
			missing[key] = err
		default:
			return nil, nil, dserrors.VaultError(name, "get "+key, err)
		}
	}
	return found, missing, nil
}

// Merge resolves every placeholder of t against stage and renders it.
func (r *Resolver) Merge(ctx context.Context, t *template.Template, stage string, opts template.RenderOptions) (string, error) {
	res, err := r.Resolve(ctx, stage, t.References(opts.DefaultVault))
	if err != nil {
		return "", err
	}
	return t.Render(res.Lookup, opts)
}

// Environment resolves every placeholder of t against stage and returns the
// variables its assignments produce.
func (r *Resolver) Environment(ctx context.Context, t *template.Template, stage string, opts template.RenderOptions) (map[string]string, error) {
	res, err := r.Resolve(ctx, stage, t.References(opts.DefaultVault))
	if err != nil {
		return nil, err
	}
	return t.Environment(res.Lookup, opts)
}
