package vault

import (
	"fmt"
	"strings"
	"time"
)

// Formatter replaces the default path composition for a binding.
// It receives the logical key (empty for the listing prefix), the bound
// stage and the binding itself.
type Formatter func(key, stage string, b Binding) string

// Binding is the immutable configuration an adapter is built from.
//
// WithStage returns a modified copy. Settings is shared between copies and
// must be treated as read-only.
type Binding struct {
	// Name is the vault name used in templates and on the command line.
	Name string

	// Driver selects the adapter, e.g. "aws.ssm".
	Driver string

	Stage     string
	Namespace string
	Prefix    string

	// Settings holds driver-specific options such as region or profile.
	Settings map[string]interface{}

	// Formatter overrides FormatPath when set.
	Formatter Formatter

	// Timeout bounds each backend call. Zero means no adapter-level bound.
	Timeout time.Duration
}

// WithStage returns a copy of b bound to stage.
func (b Binding) WithStage(stage string) Binding {
	b.Stage = stage
	return b
}

// Format maps key to the backend path for the bound stage.
func (b Binding) Format(key string) string {
	if b.Formatter != nil {
		return b.Formatter(key, b.Stage, b)
	}
	return FormatPath(b.Prefix, b.Namespace, b.Stage, key)
}

// PatternFormatter returns a Formatter that expands {prefix}, {namespace},
// {stage} and {key} in pattern and normalizes the result with FormatPath.
// Listing passes an empty key, so pattern should end with {key}.
func PatternFormatter(pattern string) Formatter {
	return func(key, stage string, b Binding) string {
		r := strings.NewReplacer(
			"{prefix}", b.Prefix,
			"{namespace}", b.Namespace,
			"{stage}", stage,
			"{key}", key,
		)
		return FormatPath(r.Replace(pattern))
	}
}

// Setting returns a driver setting as a string, or "" when unset.
func (b Binding) Setting(name string) string {
	v, ok := b.Settings[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// FormatPath joins the non-empty parts with "/". Separators inside parts are
// kept, but duplicate separators collapse and leading or trailing separators
// are trimmed:
//
//	FormatPath("/apps/", "shop", "production", "DB_URL") == "apps/shop/production/DB_URL"
//	FormatPath("", "shop", "local", "")                  == "shop/local"
func FormatPath(parts ...string) string {
	segments := make([]string, 0, len(parts)*2)
	for _, p := range parts {
		for _, seg := range strings.Split(p, "/") {
			if seg != "" {
				segments = append(segments, seg)
			}
		}
	}
	return strings.Join(segments, "/")
}
