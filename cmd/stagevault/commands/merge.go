package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/stagevault/internal/resolve"
	"github.com/systmms/stagevault/internal/template"
	"github.com/systmms/stagevault/pkg/secret"
)

// NewMergeCommand creates the merge command
func NewMergeCommand(app *App) *cobra.Command {
	var (
		outPath      string
		missing      string
		defaultVault string
		noOverlay    bool
	)

	cmd := &cobra.Command{
		Use:   "merge <template>",
		Short: "Render a template with secrets from the selected stage",
		Long: `Replace every {key} and {vault:key} placeholder in a template with the secret
value for the selected stage.

If overlays are enabled, <stage>.env next to the template is layered on top:
its assignments replace those of the base template and new ones are appended.

--missing decides what happens to placeholders whose secret does not exist:
  fail    abort with the file, line and key (default)
  remove  drop the line
  blank   keep the variable with an empty value
  skip    leave the placeholder untouched

Examples:
  stagevault merge .env.template --stage production --out .env
  stagevault merge .env.template --missing blank`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := app.ResolveStage()
			if err != nil {
				return err
			}

			opts, err := renderOptions(app, missing, defaultVault)
			if err != nil {
				return err
			}
			tmpl, err := loadTemplate(app, args[0], stage, noOverlay)
			if err != nil {
				return err
			}

			resolver := resolve.New(app.Vault,
				resolve.WithConcurrency(app.Config.Concurrency()),
				resolve.WithLogger(app.Logger),
			)
			rendered, err := resolver.Merge(cmd.Context(), tmpl, stage, opts)
			if err != nil {
				return err
			}

			if outPath == "" || outPath == "-" {
				_, err = fmt.Fprint(app.Out, rendered)
				return err
			}
			if err := os.WriteFile(outPath, []byte(rendered), 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			app.Logger.Info("Wrote %s for stage %s", outPath, stage)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "O", "", "Write the result to this file (mode 0600) instead of stdout")
	cmd.Flags().StringVar(&missing, "missing", "", "Missing secret strategy: fail, remove, blank, skip (default from config)")
	cmd.Flags().StringVar(&defaultVault, "default-vault", "", "Vault for placeholders without a vault (default: default_vault)")
	cmd.Flags().BoolVar(&noOverlay, "no-overlay", false, "Ignore the stage overlay file")

	return cmd
}

func renderOptions(app *App, missing, defaultVault string) (template.RenderOptions, error) {
	strategy, err := app.Config.MissingStrategy()
	if err != nil {
		return template.RenderOptions{}, err
	}
	if missing != "" {
		if strategy, err = template.ParseMissingSecretStrategy(missing); err != nil {
			return template.RenderOptions{}, err
		}
	}
	if defaultVault == "" {
		defaultVault = app.DefaultVault()
	}
	return template.RenderOptions{DefaultVault: defaultVault, Missing: strategy}, nil
}

func loadTemplate(app *App, path, stage string, noOverlay bool) (*template.Template, error) {
	loader := app.Config.TemplateLoader()
	if noOverlay {
		loader.Overlay = false
	}
	return loader.Load(path, stage)
}

// NewGenerateCommand creates the generate command
func NewGenerateCommand(app *App) *cobra.Command {
	var (
		vaultNames []string
		outPath    string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a template referencing every secret of the selected vaults",
		Long: `Generate is the inverse of merge: it lists the selected vaults for the stage
and writes one NAME={vault:key} line per secret, grouped by vault.

Examples:
  stagevault generate --vaults ssm,sm --stage staging > .env.template`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := app.ResolveStage()
			if err != nil {
				return err
			}
			if len(vaultNames) == 0 {
				name, err := vaultName(app, "")
				if err != nil {
					return err
				}
				vaultNames = []string{name}
			}

			var secrets []secret.Secret
			for _, name := range vaultNames {
				v, err := app.Vault(cmd.Context(), name, stage)
				if err != nil {
					return err
				}
				list, err := v.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list vault %s: %w", name, err)
				}
				secrets = append(secrets, list.All()...)
			}

			generated := template.Generate(secrets)
			if outPath == "" || outPath == "-" {
				_, err = fmt.Fprint(app.Out, generated)
				return err
			}
			if err := os.WriteFile(outPath, []byte(generated), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			app.Logger.Info("Wrote %d placeholders to %s", len(secrets), outPath)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&vaultNames, "vaults", nil, "Vaults to include (default: default_vault)")
	cmd.Flags().StringVarP(&outPath, "out", "O", "", "Write the template to this file instead of stdout")

	return cmd
}
