// Package diff compares secrets across vaults and stages.
//
// The engine lists every (vault, stage) pair concurrently and folds the
// results into a sparse matrix keyed by secret key, then vault, then stage.
// A missing stage entry means the key does not exist there. Failures are
// recorded per pair and never cancel sibling work.
package diff

import (
	"context"
	"sort"
	"sync"

	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/internal/metrics"
	"github.com/systmms/stagevault/pkg/vault"
)

// DefaultConcurrency bounds how many pairs are listed at once.
const DefaultConcurrency = 4

// VaultLookup returns the vault called name bound to stage.
type VaultLookup func(ctx context.Context, name, stage string) (vault.Vault, error)

// Matrix maps key -> vault -> stage -> value.
type Matrix map[string]map[string]map[string]string

// Value returns the value of key in vault and stage and whether it exists.
func (m Matrix) Value(key, vaultName, stage string) (string, bool) {
	value, ok := m[key][vaultName][stage]
	return value, ok
}

func (m Matrix) set(key, vaultName, stage, value string) {
	byVault, ok := m[key]
	if !ok {
		byVault = make(map[string]map[string]string)
		m[key] = byVault
	}
	byStage, ok := byVault[vaultName]
	if !ok {
		byStage = make(map[string]string)
		byVault[vaultName] = byStage
	}
	byStage[stage] = value
}

// PairError is the failure of listing one (vault, stage) pair.
type PairError struct {
	Vault string
	Stage string
	Err   error
}

func (e PairError) Error() string {
	return "vault " + e.Vault + " (stage " + e.Stage + "): " + e.Err.Error()
}

func (e PairError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a diff.
type Result struct {
	Matrix Matrix
	// Errors holds one entry per failed pair, sorted by vault then stage
	Errors []PairError
	Vaults []string
	Stages []string
}

// Keys returns every key in the matrix, ascending.
func (r *Result) Keys() []string {
	keys := make([]string, 0, len(r.Matrix))
	for k := range r.Matrix {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Differs reports whether key is absent from, or has a different value in,
// any successfully listed pair.
func (r *Result) Differs(key string) bool {
	failed := make(map[[2]string]bool, len(r.Errors))
	for _, e := range r.Errors {
		failed[[2]string{e.Vault, e.Stage}] = true
	}

	var first string
	seen := false
	for _, v := range r.Vaults {
		for _, s := range r.Stages {
			if failed[[2]string{v, s}] {
				continue
			}
			value, ok := r.Matrix.Value(key, v, s)
			if !ok {
				return true
			}
			if !seen {
				first, seen = value, true
			} else if value != first {
				return true
			}
		}
	}
	return false
}

// Engine runs diffs.
type Engine struct {
	lookup      VaultLookup
	concurrency int
	logger      *logging.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithConcurrency sets the worker pool size
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a diff engine
func NewEngine(lookup VaultLookup, opts ...Option) *Engine {
	e := &Engine{
		lookup:      lookup,
		concurrency: DefaultConcurrency,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run lists every pair of vaultNames x stages and builds the matrix.
func (e *Engine) Run(ctx context.Context, vaultNames, stages []string) *Result {
	result := &Result{
		Matrix: make(Matrix),
		Vaults: append([]string(nil), vaultNames...),
		Stages: append([]string(nil), stages...),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	semaphore := make(chan struct{}, e.concurrency)

	for _, name := range vaultNames {
		for _, stage := range stages {
			wg.Add(1)
			go func(name, stage string) {
				defer wg.Done()

				semaphore <- struct{}{}
				defer func() { <-semaphore }()

				values, err := e.listPair(ctx, name, stage)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					e.logger.Debug("Diff pair %s/%s failed: %v", name, stage, err)
					result.Errors = append(result.Errors, PairError{Vault: name, Stage: stage, Err: err})
					metrics.RecordDiffPair(pairOutcome(err))
					return
				}
				for key, value := range values {
					result.Matrix.set(key, name, stage, value)
				}
				metrics.RecordDiffPair(metrics.OutcomeSuccess)
			}(name, stage)
		}
	}

	wg.Wait()

	sort.Slice(result.Errors, func(i, j int) bool {
		a, b := result.Errors[i], result.Errors[j]
		if a.Vault != b.Vault {
			return a.Vault < b.Vault
		}
		return a.Stage < b.Stage
	})
	return result
}

func (e *Engine) listPair(ctx context.Context, name, stage string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := e.lookup(ctx, name, stage)
	if err != nil {
		return nil, err
	}
	list, err := v.List(ctx)
	if err != nil {
		return nil, err
	}
	return list.ToMap(), nil
}

func pairOutcome(err error) string {
	switch {
	case vault.IsAccessDenied(err):
		return metrics.OutcomeAccessDenied
	case vault.IsNotFound(err):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
