package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/stagevault/internal/config"
	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/internal/metrics"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagevault",
		Short: "Manage secrets per stage across AWS Parameter Store and Secrets Manager",
		Long: `stagevault reads and writes secrets in named vaults, partitioned by stage,
and renders env files from templates with {key} and {vault:key} placeholders.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.ParseEnv()
			if err != nil {
				return err
			}
			app.Config.Env = env

			app.Logger = logging.NewWithWriter(app.Err, app.Debug || env.Debug, app.NoColor)
			metrics.Init()
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.MetricsTextfile == "" {
				return nil
			}
			if err := metrics.WriteTextfile(app.MetricsTextfile); err != nil {
				app.Logger.Warn("Failed to write metrics to %s: %v", app.MetricsTextfile, err)
			}
			return nil
		},
	}

	rootCmd.SetOut(app.Out)
	rootCmd.SetErr(app.Err)

	rootCmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "Config file path (default stagevault.yaml, or $STAGEVAULT_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&app.Stage, "stage", "s", "", "Stage to operate on (default $STAGEVAULT_STAGE or the first configured stage)")
	rootCmd.PersistentFlags().BoolVar(&app.Debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&app.NoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&app.MetricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(
		NewListCommand(app),
		NewGetCommand(app),
		NewSetCommand(app),
		NewDeleteCommand(app),
		NewHistoryCommand(app),
		NewMergeCommand(app),
		NewGenerateCommand(app),
		NewExecCommand(app),
		NewDiffCommand(app),
		NewCacheCommand(app),
		NewCompletionCommand(),
	)

	return rootCmd
}
