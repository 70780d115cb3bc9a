// Package template parses env-file templates with secret placeholders,
// layers stage overlays on top of them and renders them once the
// placeholders are resolved.
//
// A template is plain KEY=value text where values may reference secrets:
//
//	# database
//	DB_HOST=db.internal
//	DB_PASSWORD={ssm:db/password}
//	STRIPE_KEY={stripe_key}
//
// {key} uses the default vault and {vault:key} names one explicitly.
package template

import (
	"fmt"
	"strings"

	"github.com/systmms/stagevault/internal/format"
)

// Line is one source line of a template.
type Line struct {
	// File is the file the line was read from
	File string
	// Number is the 1-based line number within File
	Number int
	Text   string
	// Name is the variable a NAME=value line assigns, empty otherwise
	Name         string
	Placeholders []Placeholder

	valueStart int
}

// Target is the environment variable the line produces, used to match
// overlay lines against base lines. Lines that are neither assignments nor
// carry a placeholder have no target.
func (l Line) Target() string {
	if l.Name != "" {
		return NormalizeEnvKey(l.Name)
	}
	if len(l.Placeholders) > 0 {
		return l.Placeholders[0].EnvKey
	}
	return ""
}

// Template is a parsed template, possibly with an overlay applied.
type Template struct {
	Name  string
	Lines []Line

	trailingNewline bool
}

// Parse builds a template from source text. name is used in error messages.
func Parse(name, text string) *Template {
	t := &Template{Name: name}

	if strings.HasSuffix(text, "\n") {
		t.trailingNewline = true
		text = strings.TrimSuffix(text, "\n")
	}
	if text == "" && !t.trailingNewline {
		return t
	}

	for i, raw := range strings.Split(text, "\n") {
		line := Line{File: name, Number: i + 1, Text: raw, valueStart: -1}
		if !isComment(raw) {
			line.Name, line.valueStart = splitAssignment(raw)
			line.Placeholders = extractPlaceholders(raw, i+1)
		}
		t.Lines = append(t.Lines, line)
	}
	return t
}

func isComment(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "#")
}

// Placeholders returns every placeholder in line order.
func (t *Template) Placeholders() []Placeholder {
	var out []Placeholder
	for _, l := range t.Lines {
		out = append(out, l.Placeholders...)
	}
	return out
}

// References returns the distinct secrets the template needs, in order of
// first appearance.
func (t *Template) References(defaultVault string) []Reference {
	seen := make(map[Reference]bool)
	var out []Reference
	for _, p := range t.Placeholders() {
		ref := p.Reference(defaultVault)
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// Overlay returns a new template with the lines of o layered on top of t.
// An overlay line whose target matches a base line replaces it in place;
// other targeted overlay lines are appended. Overlay comments and blank
// lines are dropped.
func (t *Template) Overlay(o *Template) *Template {
	out := &Template{
		Name:            t.Name,
		Lines:           append([]Line(nil), t.Lines...),
		trailingNewline: t.trailingNewline || len(t.Lines) == 0,
	}
	if o == nil {
		return out
	}

	index := make(map[string]int, len(out.Lines))
	for i, l := range out.Lines {
		if target := l.Target(); target != "" {
			if _, dup := index[target]; !dup {
				index[target] = i
			}
		}
	}

	for _, l := range o.Lines {
		target := l.Target()
		if target == "" {
			continue
		}
		if i, ok := index[target]; ok {
			out.Lines[i] = l
			continue
		}
		index[target] = len(out.Lines)
		out.Lines = append(out.Lines, l)
	}
	return out
}

// Lookup returns the value of a secret. The error describes why a secret is
// missing and is carried by ResolutionError.
type Lookup func(ref Reference) (string, error)

// RenderOptions control Render.
type RenderOptions struct {
	// DefaultVault resolves placeholders without a vault slug
	DefaultVault string
	Missing      MissingSecretStrategy
}

// ResolutionError reports a placeholder that could not be resolved under
// MissingFail.
type ResolutionError struct {
	File   string
	Line   int
	EnvKey string
	Vault  string
	Key    string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s:%d: %s: secret %q not found in vault %s", e.File, e.Line, e.EnvKey, e.Key, e.Vault)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Render substitutes resolved values into the template. Line order is kept
// and lines without placeholders pass through unchanged. A value that
// makes up the whole right-hand side of an assignment is quoted for an env
// file; values embedded in longer text are substituted as is.
func (t *Template) Render(lookup Lookup, opts RenderOptions) (string, error) {
	out := make([]string, 0, len(t.Lines))

	for _, l := range t.Lines {
		text, keep, err := l.render(lookup, opts)
		if err != nil {
			return "", err
		}
		if keep {
			out = append(out, text)
		}
	}

	rendered := strings.Join(out, "\n")
	if t.trailingNewline && len(out) > 0 {
		rendered += "\n"
	}
	return rendered, nil
}

func (l Line) render(lookup Lookup, opts RenderOptions) (string, bool, error) {
	if len(l.Placeholders) == 0 {
		return l.Text, true, nil
	}

	wholeValue := len(l.Placeholders) == 1 && l.valueStart >= 0 &&
		strings.TrimSpace(l.Text[l.valueStart:]) == l.Placeholders[0].Token

	var b strings.Builder
	last := 0
	for _, p := range l.Placeholders {
		ref := p.Reference(opts.DefaultVault)
		value, err := lookup(ref)

		if err != nil {
			switch opts.Missing {
			case MissingRemove:
				return "", false, nil
			case MissingBlank:
				if l.valueStart >= 0 {
					return l.Text[:l.valueStart], true, nil
				}
				value = ""
			case MissingSkip:
				value = p.Token
			default:
				return "", false, &ResolutionError{
					File:   l.File,
					Line:   l.Number,
					EnvKey: l.Target(),
					Vault:  ref.Vault,
					Key:    ref.Key,
					Err:    err,
				}
			}
		} else if wholeValue {
			value = format.EnvValue(value)
		}

		b.WriteString(l.Text[last:p.start])
		b.WriteString(value)
		last = p.end
	}
	b.WriteString(l.Text[last:])
	return b.String(), true, nil
}
