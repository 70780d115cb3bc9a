package template

import (
	"strings"

	"github.com/systmms/stagevault/pkg/secret"
)

// Generate writes a template that references every secret in secrets. The
// output has one section per vault, in order of each vault's first secret,
// headed by a comment naming the vault. Within a section secrets keep the
// order they were supplied in. Secrets with no vault use the default vault
// placeholder form.
func Generate(secrets []secret.Secret) string {
	var order []string
	sections := make(map[string][]string)

	for _, s := range secrets {
		name := s.VaultName()
		if _, ok := sections[name]; !ok {
			order = append(order, name)
		}
		token := "{" + s.Key + "}"
		if name != "" {
			token = "{" + name + ":" + s.Key + "}"
		}
		sections[name] = append(sections[name], NormalizeEnvKey(s.Key)+"="+token)
	}

	var b strings.Builder
	for i, name := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		header := name
		if header == "" {
			header = "default vault"
		}
		b.WriteString("# " + header + "\n")
		for _, line := range sections[name] {
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}
