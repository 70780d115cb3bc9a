package commands

import (
	"fmt"
	"strings"

	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/pkg/secret"
)

// vaultName picks the vault from --vault or the configured default.
func vaultName(app *App, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if name := app.DefaultVault(); name != "" {
		return name, nil
	}
	return "", dserrors.UserError{
		Message:    "No vault selected",
		Suggestion: "Pass --vault <name> or set default_vault in stagevault.yaml",
	}
}

// splitReference accepts "key" or "vault:key", the same forms a template
// placeholder takes. --vault applies to the bare form.
func splitReference(app *App, arg, flag string) (string, string, error) {
	if name, key, ok := strings.Cut(arg, ":"); ok && name != "" && key != "" {
		if flag != "" && flag != name {
			return "", "", dserrors.UserError{
				Message:    fmt.Sprintf("Vault %q conflicts with --vault %q", name, flag),
				Suggestion: "Use either the vault:key form or --vault, not both",
			}
		}
		return name, key, nil
	}
	name, err := vaultName(app, flag)
	if err != nil {
		return "", "", err
	}
	return name, arg, nil
}

// secretView is the structured output form of a secret.
type secretView struct {
	Vault    string `json:"vault" yaml:"vault"`
	Stage    string `json:"stage" yaml:"stage"`
	Key      string `json:"key" yaml:"key"`
	Value    string `json:"value" yaml:"value"`
	Revision int    `json:"revision" yaml:"revision"`
	Secure   bool   `json:"secure" yaml:"secure"`
	Path     string `json:"path" yaml:"path"`
}

func newSecretView(s secret.Secret, reveal bool) secretView {
	return secretView{
		Vault:    s.VaultName(),
		Stage:    s.Stage,
		Key:      s.Key,
		Value:    displayValue(s.Value, reveal),
		Revision: s.Revision,
		Secure:   s.Secure,
		Path:     s.FormattedPath(),
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
