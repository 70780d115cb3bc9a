package template

import "strings"

// Environment resolves the assignments of the template into variables for a
// child process. Values are substituted raw, without env-file quoting, and a
// literal value wrapped in matching quotes is unquoted. Lines that are not
// assignments are ignored. Missing secrets follow opts.Missing the same way
// Render does; a later assignment of the same name wins.
func (t *Template) Environment(lookup Lookup, opts RenderOptions) (map[string]string, error) {
	env := make(map[string]string)
	for _, l := range t.Lines {
		if l.Name == "" || l.valueStart < 0 {
			continue
		}
		value, keep, err := l.rawValue(lookup, opts)
		if err != nil {
			return nil, err
		}
		if keep {
			env[l.Name] = value
		}
	}
	return env, nil
}

func (l Line) rawValue(lookup Lookup, opts RenderOptions) (string, bool, error) {
	text := l.Text[l.valueStart:]
	if len(l.Placeholders) == 0 {
		return unquote(strings.TrimSpace(text)), true, nil
	}

	var b strings.Builder
	last := l.valueStart
	for _, p := range l.Placeholders {
		if p.start < l.valueStart {
			continue
		}
		ref := p.Reference(opts.DefaultVault)
		value, err := lookup(ref)
		if err != nil {
			switch opts.Missing {
			case MissingRemove:
				return "", false, nil
			case MissingBlank:
				return "", true, nil
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
		}
		b.WriteString(l.Text[last:p.start])
		b.WriteString(value)
		last = p.end
	}
	b.WriteString(l.Text[last:])
	return strings.TrimSpace(b.String()), true, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
			inner := s[1 : len(s)-1]
			return strings.NewReplacer(`\\`, `\`, `\`+string(q), string(q)).Replace(inner)
		}
	}
	return s
}
