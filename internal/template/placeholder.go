package template

import (
	"regexp"
	"strings"
)

// placeholderPattern matches {key} and {vault:key}. Keys may contain
// separators such as ".", "-", "/" and inner spaces but never braces or
// colons.
var placeholderPattern = regexp.MustCompile(`\{(?:([A-Za-z0-9_.-]+):)?([^{}:\s](?:[^{}:\n]*[^{}:\s])?)\}`)

// assignmentPattern matches the NAME= prefix of an env-file line.
var assignmentPattern = regexp.MustCompile(`^\s*(?:export\s+)?([A-Za-z_][A-Za-z0-9_.-]*)\s*=`)

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Placeholder is one secret reference found in a template.
type Placeholder struct {
	// Line is the 1-based line number in the file the placeholder came from
	Line int
	// Vault is the explicit vault slug, empty for the default vault
	Vault string
	Key   string
	// EnvKey is Key normalized into an environment variable name
	EnvKey string
	// Token is the placeholder exactly as written, braces included
	Token string

	start, end int
}

// Reference names one secret to resolve.
type Reference struct {
	Vault string
	Key   string
}

func (r Reference) String() string {
	return r.Vault + ":" + r.Key
}

// Reference returns the secret p points at, using defaultVault when p has
// no slug.
func (p Placeholder) Reference(defaultVault string) Reference {
	name := p.Vault
	if name == "" {
		name = defaultVault
	}
	return Reference{Vault: name, Key: p.Key}
}

// NormalizeEnvKey turns a secret key into an environment variable name: the
// whole key is uppercased and every run of non-alphanumeric characters
// becomes a single underscore, including runs at either end. camelCase is
// not split.
func NormalizeEnvKey(key string) string {
	return nonAlphanumeric.ReplaceAllString(strings.ToUpper(key), "_")
}

// extractPlaceholders finds the placeholders on one line. Shell-style ${VAR}
// expansions are left alone.
func extractPlaceholders(text string, lineNumber int) []Placeholder {
	matches := placeholderPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]Placeholder, 0, len(matches))
	for _, m := range matches {
		if m[0] > 0 && text[m[0]-1] == '$' {
			continue
		}
		p := Placeholder{
			Line:  lineNumber,
			Key:   text[m[4]:m[5]],
			Token: text[m[0]:m[1]],
			start: m[0],
			end:   m[1],
		}
		if m[2] >= 0 {
			p.Vault = text[m[2]:m[3]]
		}
		p.EnvKey = NormalizeEnvKey(p.Key)
		out = append(out, p)
	}
	return out
}

// splitAssignment returns the variable name of a NAME=value line and the
// offset just past "=", or "" and -1 for any other line.
func splitAssignment(text string) (string, int) {
	m := assignmentPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return "", -1
	}
	return text[m[2]:m[3]], m[1]
}
