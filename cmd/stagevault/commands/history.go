package commands

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/pkg/filter"
	"github.com/systmms/stagevault/pkg/secret"
)

type historyView struct {
	Version  int        `json:"version" yaml:"version"`
	Value    string     `json:"value" yaml:"value"`
	Modified *time.Time `json:"modified,omitempty" yaml:"modified,omitempty"`
	User     string     `json:"user,omitempty" yaml:"user,omitempty"`
	Labels   []string   `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// NewHistoryCommand creates the history command
func NewHistoryCommand(app *App) *cobra.Command {
	var (
		vaultFlag string
		since     string
		until     string
		contains  string
		limit     int
		outFormat string
		reveal    bool
	)

	cmd := &cobra.Command{
		Use:   "history <[vault:]key>",
		Short: "Show the version history of a secret",
		Long: `Show every stored version of a secret, newest first.

--since and --until accept RFC 3339 timestamps, dates (2024-01-31), relative
expressions ("3 days ago", "2 weeks ago") and the words now, today and yesterday. --contains keeps
versions whose value includes the given text.

Examples:
  stagevault history db_password --since "30 days ago"
  stagevault history sm:stripe_key --until 2024-06-01 --limit 5 --reveal`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(outFormat); err != nil {
				return err
			}
			filters, err := historyFilters(since, until, contains, time.Now())
			if err != nil {
				return err
			}
			stage, err := app.ResolveStage()
			if err != nil {
				return err
			}
			name, key, err := splitReference(app, args[0], vaultFlag)
			if err != nil {
				return err
			}
			v, err := app.Vault(cmd.Context(), name, stage)
			if err != nil {
				return err
			}

			history, err := v.History(cmd.Context(), key, filters, limit)
			if err != nil {
				return dserrors.VaultError(name, "history "+key, err)
			}
			app.Logger.Debug("History of %s filtered by %s: %d versions", key, filters, history.Len())

			return writeHistory(app, history, outFormat, reveal)
		},
	}

	cmd.Flags().StringVarP(&vaultFlag, "vault", "v", "", "Vault name (default: default_vault)")
	cmd.Flags().StringVar(&since, "since", "", "Only versions modified at or after this time")
	cmd.Flags().StringVar(&until, "until", "", "Only versions modified at or before this time")
	cmd.Flags().StringVar(&contains, "contains", "", "Only versions whose value contains this text")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many versions")
	cmd.Flags().StringVarP(&outFormat, "format", "o", formatTable, "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show secret values")

	return cmd
}

func historyFilters(since, until, contains string, now time.Time) (filter.Collection, error) {
	var filters filter.Collection
	if since != "" {
		f, err := filter.NewDateFilter(since, filter.Since, now)
		if err != nil {
			return nil, dserrors.UserError{Message: "Invalid --since value", Err: err, Suggestion: "Use a timestamp, a date or an expression such as '7 days ago'"}
		}
		filters = append(filters, f)
	}
	if until != "" {
		f, err := filter.NewDateFilter(until, filter.Until, now)
		if err != nil {
			return nil, dserrors.UserError{Message: "Invalid --until value", Err: err, Suggestion: "Use a timestamp, a date or an expression such as '7 days ago'"}
		}
		filters = append(filters, f)
	}
	if contains != "" {
		filters = append(filters, filter.Contains(contains))
	}
	return filters, nil
}

func writeHistory(app *App, history *secret.HistoryCollection, outFormat string, reveal bool) error {
	entries := history.All()

	if outFormat != formatTable {
		views := make([]historyView, 0, len(entries))
		for _, e := range entries {
			views = append(views, historyView{
				Version:  e.Version,
				Value:    displayValue(e.Value, reveal),
				Modified: e.LastModifiedDate,
				User:     e.LastModifiedUser,
				Labels:   e.Labels,
			})
		}
		return writeStructured(app.Out, outFormat, views)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		modified := "-"
		if e.LastModifiedDate != nil {
			modified = e.LastModifiedDate.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			strconv.Itoa(e.Version),
			displayValue(e.Value, reveal),
			modified,
			strings.Join(e.Labels, ","),
		})
	}
	return writeTable(app.Out, []string{"VERSION", "VALUE", "MODIFIED", "LABELS"}, rows)
}
