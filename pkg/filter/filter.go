// Package filter provides composable predicates over secret history entries.
//
// Two filter kinds are built in:
//
//   - DateFilter keeps entries modified on or after (Since) or on or before
//     (Until) a point in time. The point is parsed from either an absolute
//     date ("2024-03-01", RFC 3339) or a relative expression ("3 days ago").
//   - ContainsFilter keeps entries whose value or description contains a
//     substring, case-sensitively.
//
// A Collection combines filters with a logical AND. Expressions are parsed
// when the filter is built, so a malformed expression fails with a
// *ParseError before any backend call is made.
//
// Example:
//
//	since, err := filter.NewDateFilter("7 days ago", filter.Since, time.Now())
//	if err != nil {
//	    return err // *filter.ParseError
//	}
//	filters := filter.Collection{since, filter.Contains("postgres://")}
//	history, err := v.History(ctx, "DATABASE_URL", filters, 10)
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/systmms/stagevault/pkg/secret"
)

// Filter is a predicate over a history entry.
type Filter interface {
	// Match reports whether the entry should be kept.
	Match(entry secret.HistoryEntry) bool

	// String describes the filter for logs and error messages.
	String() string
}

// Collection is a set of filters applied as a logical AND.
// An empty collection matches every entry.
type Collection []Filter

// Match reports whether every filter in the collection matches.
func (c Collection) Match(entry secret.HistoryEntry) bool {
	for _, f := range c {
		if f == nil {
			continue
		}
		if !f.Match(entry) {
			return false
		}
	}
	return true
}

// String joins the filter descriptions.
func (c Collection) String() string {
	parts := make([]string, 0, len(c))
	for _, f := range c {
		if f != nil {
			parts = append(parts, f.String())
		}
	}
	return strings.Join(parts, " and ")
}

// Direction selects which side of a point in time a DateFilter keeps.
type Direction int

const (
	// Since keeps entries modified at or after the point in time.
	Since Direction = iota
	// Until keeps entries modified at or before the point in time.
	Until
)

func (d Direction) String() string {
	if d == Until {
		return "until"
	}
	return "since"
}

// DateFilter keeps entries by their last-modified date. Entries without a
// last-modified date never match.
type DateFilter struct {
	At        time.Time
	Direction Direction
	expr      string
}

// NewDateFilter parses expr relative to now and builds a DateFilter.
func NewDateFilter(expr string, dir Direction, now time.Time) (DateFilter, error) {
	at, err := ParseTime(expr, now)
	if err != nil {
		return DateFilter{}, err
	}
	return DateFilter{At: at, Direction: dir, expr: expr}, nil
}

// Match implements Filter.
func (f DateFilter) Match(entry secret.HistoryEntry) bool {
	if entry.LastModifiedDate == nil {
		return false
	}
	modified := *entry.LastModifiedDate
	if f.Direction == Until {
		return !modified.After(f.At)
	}
	return !modified.Before(f.At)
}

func (f DateFilter) String() string {
	expr := f.expr
	if expr == "" {
		expr = f.At.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s %s", f.Direction, expr)
}

// ContainsFilter keeps entries whose value or description contains Needle.
type ContainsFilter struct {
	Needle string
}

// Contains builds a ContainsFilter.
func Contains(needle string) ContainsFilter {
	return ContainsFilter{Needle: needle}
}

// Match implements Filter.
func (f ContainsFilter) Match(entry secret.HistoryEntry) bool {
	return strings.Contains(entry.Value, f.Needle) || strings.Contains(entry.Description, f.Needle)
}

func (f ContainsFilter) String() string {
	return fmt.Sprintf("contains %q", f.Needle)
}
