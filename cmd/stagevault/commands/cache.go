package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/stagevault/internal/cache"
	"github.com/systmms/stagevault/internal/secure"
)

// NewCacheCommand creates the cache command group
func NewCacheCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Keep encrypted local snapshots of vaults",
		Long: `Snapshots hold the key/value contents of one vault for one stage, encrypted
with AES-256-GCM under a key from the OS keyring (or STAGEVAULT_CACHE_KEY when
cache.key_source is env). A snapshot that cannot be decrypted is never shown.`,
	}

	cmd.AddCommand(
		newCachePullCommand(app),
		newCacheShowCommand(app),
		newCacheListCommand(app),
		newCacheClearCommand(app),
	)
	return cmd
}

func cacheStore(app *App) (*cache.Store, error) {
	if err := app.load(); err != nil {
		return nil, err
	}
	return cache.NewStore(app.Config.CacheDir(), cache.NewService(app.Config.CacheParams())), nil
}

func cacheKey(app *App, generate bool) (*secure.Key, error) {
	src, err := app.Config.CacheKeySource(generate)
	if err != nil {
		return nil, err
	}
	return src.Key()
}

func newCachePullCommand(app *App) *cobra.Command {
	var vaultNames []string

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Snapshot vaults for the selected stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := app.ResolveStage()
			if err != nil {
				return err
			}
			store, err := cacheStore(app)
			if err != nil {
				return err
			}
			if len(vaultNames) == 0 {
				vaultNames = app.Config.VaultNames()
			}

			key, err := cacheKey(app, true)
			if err != nil {
				return err
			}
			defer key.Destroy()

			for _, name := range vaultNames {
				v, err := app.Vault(cmd.Context(), name, stage)
				if err != nil {
					return err
				}
				entry, n, err := store.Pull(cmd.Context(), v, key)
				if err != nil {
					return err
				}
				app.Logger.Debug("Cached %s/%s at %s", name, stage, entry.Path)
				if _, err := fmt.Fprintf(app.Out, "Cached %d secrets from %s (%s)\n", n, name, stage); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&vaultNames, "vaults", nil, "Vaults to snapshot (default: all configured)")
	return cmd
}

func newCacheShowCommand(app *App) *cobra.Command {
	var (
		vaultFlag string
		outFormat string
		reveal    bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a cached snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(outFormat); err != nil {
				return err
			}
			stage, err := app.ResolveStage()
			if err != nil {
				return err
			}
			name, err := vaultName(app, vaultFlag)
			if err != nil {
				return err
			}
			store, err := cacheStore(app)
			if err != nil {
				return err
			}
			key, err := cacheKey(app, false)
			if err != nil {
				return err
			}
			defer key.Destroy()

			values, entry, err := store.Load(name, stage, key)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			if outFormat != formatTable {
				shown := make(map[string]string, len(values))
				for _, k := range keys {
					shown[k] = displayValue(values[k], reveal)
				}
				return writeStructured(app.Out, outFormat, shown)
			}

			app.Logger.Info("Snapshot of %s (%s) taken %s", name, stage, entry.Updated.Format(time.RFC3339))
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, []string{k, displayValue(values[k], reveal)})
			}
			return writeTable(app.Out, []string{"KEY", "VALUE"}, rows)
		},
	}

	cmd.Flags().StringVarP(&vaultFlag, "vault", "v", "", "Vault name (default: default_vault)")
	cmd.Flags().StringVarP(&outFormat, "format", "o", formatTable, "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show secret values")
	return cmd
}

func newCacheListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cacheStore(app)
			if err != nil {
				return err
			}
			entries, err := store.Entries()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Vault, e.Stage, e.Updated.UTC().Format(time.RFC3339)})
			}
			return writeTable(app.Out, []string{"VAULT", "STAGE", "UPDATED"}, rows)
		},
	}
}

func newCacheClearCommand(app *App) *cobra.Command {
	var (
		vaultNames []string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached snapshots for the selected stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cacheStore(app)
			if err != nil {
				return err
			}

			if all {
				entries, err := store.Entries()
				if err != nil {
					return err
				}
				for _, e := range entries {
					if err := store.Remove(e.Vault, e.Stage); err != nil {
						return err
					}
				}
				_, err = fmt.Fprintf(app.Out, "Removed %d snapshots\n", len(entries))
				return err
			}

			stage, err := app.ResolveStage()
			if err != nil {
				return err
			}
			if len(vaultNames) == 0 {
				vaultNames = app.Config.VaultNames()
			}
			for _, name := range vaultNames {
				if err := store.Remove(name, stage); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(app.Out, "Removed snapshots for stage %s\n", stage)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&vaultNames, "vaults", nil, "Vaults to clear (default: all configured)")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every snapshot regardless of stage")
	return cmd
}
