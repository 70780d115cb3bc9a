package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/stagevault/internal/diff"
	dserrors "github.com/systmms/stagevault/internal/errors"
)

const (
	cellAbsent = "-"
	cellFailed = "ERR"
)

type diffView struct {
	Vaults  []string                                `json:"vaults" yaml:"vaults"`
	Stages  []string                                `json:"stages" yaml:"stages"`
	Secrets map[string]map[string]map[string]string `json:"secrets" yaml:"secrets"`
	Differs []string                                `json:"differs" yaml:"differs"`
	Errors  []diffErrorView                         `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type diffErrorView struct {
	Vault string `json:"vault" yaml:"vault"`
	Stage string `json:"stage" yaml:"stage"`
	Error string `json:"error" yaml:"error"`
}

// NewDiffCommand creates the diff command
func NewDiffCommand(app *App) *cobra.Command {
	var (
		vaultNames  []string
		stages      []string
		onlyChanges bool
		outFormat   string
		reveal      bool
	)

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare secrets across vaults and stages",
		Long: `List every selected vault for every selected stage and show each key side by
side. A - marks a key that does not exist in that vault and stage; ERR marks a
vault and stage that could not be listed. Failures are reported but do not
stop the other comparisons.

Examples:
  stagevault diff
  stagevault diff --vaults ssm --stages staging,production --only-changes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(outFormat); err != nil {
				return err
			}
			if _, err := app.Registry(); err != nil {
				return err
			}
			if len(vaultNames) == 0 {
				vaultNames = app.Config.VaultNames()
			}
			if len(stages) == 0 {
				stages = app.Config.Stages()
			}
			for _, stage := range stages {
				if err := app.Config.CheckStage(stage); err != nil {
					return err
				}
			}

			engine := diff.NewEngine(app.Vault,
				diff.WithConcurrency(app.Config.Concurrency()),
				diff.WithLogger(app.Logger),
			)
			result := engine.Run(cmd.Context(), vaultNames, stages)

			for _, pairErr := range result.Errors {
				app.Logger.Warn("%v", pairErr)
			}

			keys := result.Keys()
			if onlyChanges {
				changed := keys[:0]
				for _, key := range keys {
					if result.Differs(key) {
						changed = append(changed, key)
					}
				}
				keys = changed
			}

			if err := writeDiff(app, result, keys, outFormat, reveal); err != nil {
				return err
			}

			if len(result.Errors) > 0 && len(result.Errors) == len(vaultNames)*len(stages) {
				return dserrors.UserError{
					Message:    "Every vault and stage failed to list",
					Suggestion: "Run with --debug for details, or check credentials with 'stagevault list'",
					Err:        result.Errors[0],
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&vaultNames, "vaults", nil, "Vaults to compare (default: all configured)")
	cmd.Flags().StringSliceVar(&stages, "stages", nil, "Stages to compare (default: all configured)")
	cmd.Flags().BoolVar(&onlyChanges, "only-changes", false, "Only show keys that are missing or differ somewhere")
	cmd.Flags().StringVarP(&outFormat, "format", "o", formatTable, "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show secret values")

	return cmd
}

func writeDiff(app *App, result *diff.Result, keys []string, outFormat string, reveal bool) error {
	failed := make(map[[2]string]bool, len(result.Errors))
	for _, e := range result.Errors {
		failed[[2]string{e.Vault, e.Stage}] = true
	}

	if outFormat != formatTable {
		view := diffView{
			Vaults:  result.Vaults,
			Stages:  result.Stages,
			Secrets: make(map[string]map[string]map[string]string, len(keys)),
			Differs: []string{},
		}
		for _, key := range keys {
			byVault := make(map[string]map[string]string)
			for vaultName, byStage := range result.Matrix[key] {
				values := make(map[string]string, len(byStage))
				for stage, value := range byStage {
					values[stage] = displayValue(value, reveal)
				}
				byVault[vaultName] = values
			}
			view.Secrets[key] = byVault
			if result.Differs(key) {
				view.Differs = append(view.Differs, key)
			}
		}
		for _, e := range result.Errors {
			view.Errors = append(view.Errors, diffErrorView{Vault: e.Vault, Stage: e.Stage, Error: e.Err.Error()})
		}
		return writeStructured(app.Out, outFormat, view)
	}

	headers := []string{"KEY"}
	for _, v := range result.Vaults {
		for _, s := range result.Stages {
			headers = append(headers, fmt.Sprintf("%s/%s", v, s))
		}
	}
	headers = append(headers, "SAME")

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		row := []string{key}
		for _, v := range result.Vaults {
			for _, s := range result.Stages {
				value, ok := result.Matrix.Value(key, v, s)
				switch {
				case failed[[2]string{v, s}]:
					row = append(row, cellFailed)
				case !ok:
					row = append(row, cellAbsent)
				default:
					row = append(row, displayValue(value, reveal))
				}
			}
		}
		row = append(row, yesNo(!result.Differs(key)))
		rows = append(rows, row)
	}
	return writeTable(app.Out, headers, rows)
}
