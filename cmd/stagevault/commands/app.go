package commands

import (
	"context"
	"io"
	"os"

	"github.com/systmms/stagevault/internal/config"
	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/internal/vaults"
	"github.com/systmms/stagevault/pkg/vault"
)

// App carries the state shared by every command of one invocation.
type App struct {
	Config *config.Config
	Logger *logging.Logger

	Out io.Writer
	Err io.Writer

	// Clients builds the AWS clients; NewClientFactory when nil
	Clients *vaults.ClientFactory

	// Set from persistent flags
	ConfigPath      string
	Stage           string
	Debug           bool
	NoColor         bool
	MetricsTextfile string

	registry *vaults.Registry
}

// NewApp returns an App writing to stdout and stderr.
func NewApp() *App {
	return &App{
		Config: &config.Config{},
		Logger: logging.Discard(),
		Out:    os.Stdout,
		Err:    os.Stderr,
	}
}

// load reads the configuration once per path.
func (a *App) load() error {
	if a.Config == nil {
		a.Config = &config.Config{}
	}

	path := a.ConfigPath
	if path == "" {
		path = a.Config.Env.Config
	}
	if path == "" {
		path = config.DefaultPath
	}

	if a.Config.Definition != nil && a.Config.Path == path {
		return nil
	}
	a.Config.Path = path
	a.Config.Logger = a.Logger
	a.registry = nil
	return a.Config.Load()
}

// Registry returns the vault registry, loading configuration on first use.
func (a *App) Registry() (*vaults.Registry, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	if a.registry == nil {
		clients := a.Clients
		if clients == nil {
			clients = vaults.NewClientFactory(a.Logger)
		}
		a.registry = vaults.NewRegistry(a.Config, clients, a.Logger)
		if f := a.Config.PathFormatter(); f != nil {
			a.registry.SetFormatter(f)
		}
	}
	return a.registry, nil
}

// Vault returns the vault called name bound to stage.
func (a *App) Vault(ctx context.Context, name, stage string) (vault.Vault, error) {
	registry, err := a.Registry()
	if err != nil {
		return nil, err
	}
	return registry.Vault(ctx, name, stage)
}

// ResolveStage returns the stage selected by --stage, STAGEVAULT_STAGE or
// the configuration.
func (a *App) ResolveStage() (string, error) {
	if err := a.load(); err != nil {
		return "", err
	}
	return a.Config.ResolveStage(a.Stage)
}

// DefaultVault returns the configured default vault, or "" if none.
func (a *App) DefaultVault() string {
	if a.Config == nil || a.Config.Definition == nil {
		return ""
	}
	return a.Config.Definition.DefaultVault
}
