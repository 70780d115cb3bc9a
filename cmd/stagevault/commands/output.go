package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/internal/format"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func checkFormat(f string) error {
	switch f {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return dserrors.UserError{
		Message:    fmt.Sprintf("Unknown output format %q", f),
		Suggestion: "Use one of: table, json, yaml",
	}
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, f string, v interface{}) error {
	switch f {
	case formatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	case formatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return encoder.Close()
	}
	return checkFormat(f)
}

// writeTable prints rows under headers with aligned columns.
func writeTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat("-", len(h))
	}
	_, _ = fmt.Fprintln(tw, strings.Join(headers, "\t"))
	_, _ = fmt.Fprintln(tw, strings.Join(underline, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func displayValue(value string, reveal bool) string {
	if reveal {
		return value
	}
	return format.Mask(value, true)
}
