package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/stagevault/internal/execenv"
	"github.com/systmms/stagevault/internal/resolve"
)

// NewExecCommand creates the exec command
func NewExecCommand(app *App) *cobra.Command {
	var (
		missing      string
		defaultVault string
		noOverlay    bool
		keepExisting bool
		printVars    bool
		workDir      string
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec <template> -- <command> [args...]",
		Short: "Run a command with a template's secrets in its environment",
		Long: `Resolve a template for the selected stage and run a command with every
assignment exported as an environment variable. Nothing is written to disk.

Values are passed exactly as stored; no env-file quoting is applied. The
command's exit status becomes stagevault's exit status.

Examples:
  stagevault exec .env.template --stage staging -- npm start
  stagevault exec .env.template --print-vars -- ./migrate.sh`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templatePath, command := args[0], args[1:]
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				if dash != 1 {
					return cobra.ExactArgs(1)(cmd, args[:dash])
				}
				command = args[dash:]
			}

			stage, err := app.ResolveStage()
			if err != nil {
				return err
			}
			opts, err := renderOptions(app, missing, defaultVault)
			if err != nil {
				return err
			}
			tmpl, err := loadTemplate(app, templatePath, stage, noOverlay)
			if err != nil {
				return err
			}

			resolver := resolve.New(app.Vault,
				resolve.WithConcurrency(app.Config.Concurrency()),
				resolve.WithLogger(app.Logger),
			)
			env, err := resolver.Environment(cmd.Context(), tmpl, stage, opts)
			if err != nil {
				return err
			}

			executor := execenv.New(app.Logger, execenv.WithIO(cmd.InOrStdin(), app.Out, app.Err))
			return executor.Exec(cmd.Context(), execenv.Options{
				Command:      command,
				Environment:  env,
				KeepExisting: keepExisting,
				PrintVars:    printVars,
				WorkingDir:   workDir,
				Timeout:      timeout,
			})
		},
	}

	cmd.Flags().StringVar(&missing, "missing", "", "Missing secret strategy: fail, remove, blank, skip (default from config)")
	cmd.Flags().StringVar(&defaultVault, "default-vault", "", "Vault for placeholders without a vault (default: default_vault)")
	cmd.Flags().BoolVar(&noOverlay, "no-overlay", false, "Ignore the stage overlay file")
	cmd.Flags().BoolVar(&keepExisting, "keep-existing", false, "Do not replace variables already set in the environment")
	cmd.Flags().BoolVar(&printVars, "print-vars", false, "Print variable names with masked values before running")
	cmd.Flags().StringVar(&workDir, "workdir", "", "Working directory for the command")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Kill the command after this long (0 for no limit)")

	return cmd
}
