package vaults

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/pkg/vault"
)

// ConfigSource yields vault bindings and the valid stage names.
type ConfigSource interface {
	// VaultBinding returns the stage-independent binding for name.
	VaultBinding(name string) (vault.Binding, error)

	// Stages returns the valid stage names in configuration order.
	Stages() []string
}

// Factory builds a vault from a binding
type Factory func(ctx context.Context, b vault.Binding, clients *ClientFactory, logger *logging.Logger) (vault.Vault, error)

type boundKey struct {
	name  string
	stage string
}

// Registry builds named vaults from configuration and caches them per
// (name, stage) for the life of one command.
type Registry struct {
	source  ConfigSource
	clients *ClientFactory
	logger  *logging.Logger

	mu        sync.Mutex
	factories map[string]Factory
	formatter vault.Formatter
	base      map[string]vault.Vault
	bound     map[boundKey]vault.Vault
}

// NewRegistry creates a registry with the built-in drivers registered
func NewRegistry(source ConfigSource, clients *ClientFactory, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Registry{
		source:    source,
		clients:   clients,
		logger:    logger,
		factories: make(map[string]Factory),
		base:      make(map[string]vault.Vault),
		bound:     make(map[boundKey]vault.Vault),
	}

	r.RegisterFactory(DriverSSM, NewSSMVaultFactory)
	r.RegisterFactory(DriverSecretsManager, NewSecretsManagerVaultFactory)
	r.RegisterFactory(DriverMemory, NewMemoryVaultFactory())

	return r
}

// RegisterFactory registers a factory for a driver name
func (r *Registry) RegisterFactory(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// SetFormatter installs a path formatter for every vault built afterwards
func (r *Registry) SetFormatter(f vault.Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatter = f
}

// SupportedDrivers returns the registered driver names, sorted
func (r *Registry) SupportedDrivers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.driverNamesLocked()
}

// IsSupported checks if a driver is registered
func (r *Registry) IsSupported(driver string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[driver]
	return ok
}

// Vault returns the vault called name bound to stage.
func (r *Registry) Vault(ctx context.Context, name, stage string) (vault.Vault, error) {
	if err := r.checkStage(stage); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := boundKey{name: name, stage: stage}
	if v, ok := r.bound[key]; ok {
		return v, nil
	}

	base, ok := r.base[name]
	if !ok {
		var err error
		base, err = r.buildLocked(ctx, name, stage)
		if err != nil {
			return nil, err
		}
		r.base[name] = base
	}

	v := base
	if base.Stage() != stage {
		v = base.ForStage(stage)
	}
	r.bound[key] = v
	return v, nil
}

func (r *Registry) buildLocked(ctx context.Context, name, stage string) (vault.Vault, error) {
	b, err := r.source.VaultBinding(name)
	if err != nil {
		return nil, err
	}

	factory, ok := r.factories[b.Driver]
	if !ok {
		return nil, dserrors.ConfigError{
			Field:      fmt.Sprintf("vaults.%s.driver", name),
			Value:      b.Driver,
			Message:    "unknown vault driver",
			Suggestion: "Supported drivers: " + strings.Join(r.driverNamesLocked(), ", "),
		}
	}

	b.Name = name
	b.Stage = stage
	if r.formatter != nil {
		b.Formatter = r.formatter
	}

	r.logger.Debug("Building vault %s (driver %s)", name, b.Driver)
	v, err := factory(ctx, b, r.clients, r.logger)
	if err != nil {
		return nil, dserrors.VaultError(name, "initialize", err)
	}
	return Instrument(v, b.Timeout), nil
}

func (r *Registry) driverNamesLocked() []string {
	drivers := make([]string, 0, len(r.factories))
	for d := range r.factories {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers
}

func (r *Registry) checkStage(stage string) error {
	stages := r.source.Stages()
	if len(stages) == 0 {
		return nil
	}
	for _, s := range stages {
		if s == stage {
			return nil
		}
	}
	return dserrors.UserError{
		Message:    fmt.Sprintf("Unknown stage %q", stage),
		Suggestion: "Use one of: " + strings.Join(stages, ", "),
	}
}

// NewSSMVaultFactory builds Parameter Store vaults
func NewSSMVaultFactory(ctx context.Context, b vault.Binding, clients *ClientFactory, logger *logging.Logger) (vault.Vault, error) {
	return NewSSMVault(ctx, b, clients, WithSSMLogger(logger))
}

// NewSecretsManagerVaultFactory builds Secrets Manager vaults
func NewSecretsManagerVaultFactory(ctx context.Context, b vault.Binding, clients *ClientFactory, logger *logging.Logger) (vault.Vault, error) {
	return NewSecretsManagerVault(ctx, b, clients, WithSecretsManagerLogger(logger))
}

// NewMemoryVaultFactory returns a factory whose vaults keep one store per
// vault name, shared by every registry using the factory.
func NewMemoryVaultFactory() Factory {
	var mu sync.Mutex
	stores := make(map[string]*MemoryStore)

	return func(_ context.Context, b vault.Binding, _ *ClientFactory, _ *logging.Logger) (vault.Vault, error) {
		mu.Lock()
		defer mu.Unlock()
		store, ok := stores[b.Name]
		if !ok {
			store = NewMemoryStore()
			stores[b.Name] = store
		}
		return NewMemoryVault(b, store), nil
	}
}
