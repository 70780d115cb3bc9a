package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/pkg/secret"
	"github.com/systmms/stagevault/pkg/vault"
)

// NewListCommand creates the list command
func NewListCommand(app *App) *cobra.Command {
	var (
		vaultFlag string
		search    string
		outFormat string
		reveal    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the secrets of a vault for a stage",
		Long: `List every secret stored in a vault for the selected stage, sorted by key.

Values are masked unless --reveal is given.

Examples:
  stagevault list --vault ssm --stage production
  stagevault list --search db --format json`,
		Args: cobra.NoArgs,
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
			v, err := app.Vault(cmd.Context(), name, stage)
			if err != nil {
				return err
			}

			secrets, err := v.List(cmd.Context())
			if err != nil {
				return dserrors.VaultError(name, "list", err)
			}
			if search != "" {
				needle := strings.ToLower(search)
				secrets = secrets.Filter(func(s secret.Secret) bool {
					return strings.Contains(strings.ToLower(s.Key), needle)
				})
			}

			if outFormat != formatTable {
				views := make([]secretView, 0, secrets.Len())
				for _, s := range secrets.All() {
					views = append(views, newSecretView(s, reveal))
				}
				return writeStructured(app.Out, outFormat, views)
			}

			rows := make([][]string, 0, secrets.Len())
			for _, s := range secrets.All() {
				rows = append(rows, []string{s.Key, displayValue(s.Value, reveal), strconv.Itoa(s.Revision), yesNo(s.Secure)})
			}
			return writeTable(app.Out, []string{"KEY", "VALUE", "REVISION", "SECURE"}, rows)
		},
	}

	cmd.Flags().StringVarP(&vaultFlag, "vault", "v", "", "Vault name (default: default_vault)")
	cmd.Flags().StringVar(&search, "search", "", "Only keys containing this text (case-insensitive)")
	cmd.Flags().StringVarP(&outFormat, "format", "o", formatTable, "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show secret values")

	return cmd
}

// NewGetCommand creates the get command
func NewGetCommand(app *App) *cobra.Command {
	var (
		vaultFlag string
		outFormat string
	)

	cmd := &cobra.Command{
		Use:   "get <[vault:]key>",
		Short: "Print a single secret value",
		Long: `Fetch one secret and print its raw value, suitable for scripting.

With --format json or yaml the secret is printed with its metadata.

Examples:
  stagevault get db_password --stage production
  stagevault get sm:stripe_key --format json
  export DB_PASSWORD=$(stagevault get db_password)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			s, err := v.Get(cmd.Context(), key)
			if err != nil {
				return dserrors.VaultError(name, "get "+key, err)
			}
			app.Logger.Debug("Fetched %s from %s (%s), revision %d", logging.Secret(key), name, stage, s.Revision)

			if outFormat == "" || outFormat == "raw" {
				_, err = fmt.Fprint(app.Out, s.Value)
				return err
			}
			if err := checkFormat(outFormat); err != nil {
				return err
			}
			if outFormat == formatTable {
				return writeTable(app.Out, []string{"KEY", "VALUE", "REVISION", "PATH"},
					[][]string{{s.Key, s.Value, strconv.Itoa(s.Revision), s.FormattedPath()}})
			}
			return writeStructured(app.Out, outFormat, newSecretView(s, true))
		},
	}

	cmd.Flags().StringVarP(&vaultFlag, "vault", "v", "", "Vault name (default: default_vault)")
	cmd.Flags().StringVarP(&outFormat, "format", "o", "raw", "Output format: raw, table, json, yaml")

	return cmd
}

// NewSetCommand creates the set command
func NewSetCommand(app *App) *cobra.Command {
	var (
		vaultFlag string
		plain     bool
	)

	cmd := &cobra.Command{
		Use:   "set <[vault:]key> <value|->",
		Short: "Create or update a secret",
		Long: `Create the secret if it does not exist, otherwise store a new revision.

Pass - as the value to read it from stdin, which keeps it out of shell history.

Examples:
  stagevault set db_password - --stage production < password.txt
  stagevault set ssm:feature_flag on --plain`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := app.ResolveStage()
			if err != nil {
				return err
			}
			name, key, err := splitReference(app, args[0], vaultFlag)
			if err != nil {
				return err
			}

			value := args[1]
			if value == "-" {
				value, err = readValue(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			v, err := app.Vault(cmd.Context(), name, stage)
			if err != nil {
				return err
			}
			s, err := vault.Save(cmd.Context(), v, secret.Secret{Key: key, Value: value, Secure: !plain})
			if err != nil {
				return dserrors.VaultError(name, "set "+key, err)
			}

			_, err = fmt.Fprintf(app.Out, "Set %s in %s (%s), revision %d\n", key, name, stage, s.Revision)
			return err
		},
	}

	cmd.Flags().StringVarP(&vaultFlag, "vault", "v", "", "Vault name (default: default_vault)")
	cmd.Flags().BoolVar(&plain, "plain", false, "Store the value unencrypted where the backend distinguishes")

	return cmd
}

func readValue(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", dserrors.UserError{
				Message:    "Refusing to read a secret value from a terminal",
				Suggestion: "Pipe the value in, e.g. 'stagevault set key - < file'",
			}
		}
	}
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return "", fmt.Errorf("failed to read value from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// NewDeleteCommand creates the delete command
func NewDeleteCommand(app *App) *cobra.Command {
	var (
		vaultFlag string
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "delete <[vault:]key>",
		Short: "Delete a secret immediately",
		Long: `Delete a secret from a vault for the selected stage. There is no recovery
window; the secret and its history are gone once this returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return dserrors.UserError{
					Message:    "Deleting a secret cannot be undone",
					Suggestion: "Re-run with --yes to confirm",
				}
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
			exists, err := vault.Has(cmd.Context(), v, key)
			if err != nil {
				return dserrors.VaultError(name, "delete "+key, err)
			}
			if !exists {
				return dserrors.VaultError(name, "delete "+key,
					vault.NotFoundError{Vault: name, Stage: stage, Key: key, Path: v.Format(key)})
			}
			if err := v.Delete(cmd.Context(), key); err != nil {
				return dserrors.VaultError(name, "delete "+key, err)
			}

			_, err = fmt.Fprintf(app.Out, "Deleted %s from %s (%s)\n", key, name, stage)
			return err
		},
	}

	cmd.Flags().StringVarP(&vaultFlag, "vault", "v", "", "Vault name (default: default_vault)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the deletion")

	return cmd
}
