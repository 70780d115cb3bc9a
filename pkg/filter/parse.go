package filter

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseError reports a malformed date or filter expression.
type ParseError struct {
	Expression string
	Reason     string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid filter expression %q: %s", e.Expression, e.Reason)
}

var relativePattern = regexp.MustCompile(`^(\d+)\s+(second|minute|hour|day|week|month|year)s?\s+ago$`)

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime turns an absolute date or a relative expression into a point in
// time. Relative expressions are resolved against now.
//
// Accepted forms:
//
//	now, today, yesterday
//	N second(s)|minute(s)|hour(s)|day(s)|week(s)|month(s)|year(s) ago
//	2024-03-01, 2024-03-01 10:30, 2024-03-01 10:30:00, RFC 3339
//
// Dates without a zone are interpreted in now's location.
func ParseTime(expr string, now time.Time) (time.Time, error) {
	normalized := strings.ToLower(strings.TrimSpace(expr))
	if normalized == "" {
		return time.Time{}, &ParseError{Expression: expr, Reason: "empty expression"}
	}

	switch normalized {
	case "now":
		return now, nil
	case "today":
		return startOfDay(now), nil
	case "yesterday":
		return startOfDay(now).AddDate(0, 0, -1), nil
	}

	if m := relativePattern.FindStringSubmatch(normalized); m != nil {
		t, ok := relativeTime(m[1], m[2], now)
		if !ok {
			return time.Time{}, &ParseError{Expression: expr, Reason: "amount out of range"}
		}
		return t, nil
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(expr), now.Location()); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &ParseError{
		Expression: expr,
		Reason:     "expected a date like 2024-03-01 or a relative expression like \"3 days ago\"",
	}
}

// maxCalendarYears bounds day, week, month and year amounts so that AddDate
// never wraps.
const maxCalendarYears = 10000

var clockUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
}

var calendarLimits = map[string]int64{
	"day":   maxCalendarYears * 366,
	"week":  maxCalendarYears * 53,
	"month": maxCalendarYears * 12,
	"year":  maxCalendarYears,
}

// relativeTime resolves "amount unit ago" against now. It reports false when
// the amount would overflow or land after now.
func relativeTime(amount, unit string, now time.Time) (time.Time, bool) {
	n, err := strconv.ParseInt(amount, 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, false
	}

	var t time.Time
	if d, ok := clockUnits[unit]; ok {
		if n > math.MaxInt64/int64(d) {
			return time.Time{}, false
		}
		t = now.Add(-time.Duration(n) * d)
	} else {
		if n > calendarLimits[unit] {
			return time.Time{}, false
		}
		switch unit {
		case "day":
			t = now.AddDate(0, 0, -int(n))
		case "week":
			t = now.AddDate(0, 0, -7*int(n))
		case "month":
			t = now.AddDate(0, -int(n), 0)
		default:
			t = now.AddDate(-int(n), 0, 0)
		}
	}
	if t.After(now) {
		return time.Time{}, false
	}
	return t, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
