package internal

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// dayLayout is the calendar-day format used in query strings and reports.
const dayLayout = "2006-01-02"

// listParams holds common query parameters for list endpoints
type listParams struct {
	limit  int
	offset int
	q      string
	sort   string
}

// parseListParams parses limit, offset, q, and sort from the request.
// Defaults: limit=50 (max 200), offset=0
func parseListParams(r *http.Request) listParams {
	values := r.URL.Query()

	limit := 50
	if s := strings.TrimSpace(values.Get("limit")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			if v > 200 {
				v = 200
			}
			limit = v
		}
	}

	offset := 0
	if s := strings.TrimSpace(values.Get("offset")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	return listParams{
		limit:  limit,
		offset: offset,
		q:      strings.TrimSpace(values.Get("q")),
		sort:   strings.TrimSpace(values.Get("sort")),
	}
}

// buildOrderBy builds a safe ORDER BY clause using a whitelist of allowed keys.
// allowed maps incoming sort keys (e.g., "name") to actual column identifiers.
// Input sort is comma-separated; prefix with '-' for DESC.
// Falls back to allowed["id"] ASC.
func buildOrderBy(sortParam string, allowed map[string]string) string {
	clauses := []string{}
	for _, raw := range strings.Split(sortParam, ",") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		dir := " ASC"
		if strings.HasPrefix(s, "-") {
			dir = " DESC"
			s = strings.TrimPrefix(s, "-")
		}
		if col, ok := allowed[s]; ok {
			clauses = append(clauses, col+dir)
		}
	}
	if len(clauses) == 0 {
		col, ok := allowed["id"]
		if !ok {
			col = "id"
		}
		return " ORDER BY " + col + " ASC"
	}
	return " ORDER BY " + strings.Join(clauses, ", ")
}

// whereBuilder accumulates positional SQL predicates.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

// add appends a predicate; every %d in clause is replaced by the next
// placeholder index.
func (b *whereBuilder) add(clause string, val interface{}) {
	b.args = append(b.args, val)
	n := len(b.args)
	b.clauses = append(b.clauses, strings.ReplaceAll(clause, "%d", strconv.Itoa(n)))
}

func (b *whereBuilder) sql() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

// queryInt64 parses an optional positive integer query parameter.
func queryInt64(r *http.Request, key string) (int64, error) {
	s := strings.TrimSpace(r.URL.Query().Get(key))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return v, nil
}

// parseDay parses a YYYY-MM-DD day in loc and returns its [start, end) bounds.
func parseDay(s string, loc *time.Location) (time.Time, time.Time, error) {
	d, err := time.ParseInLocation(dayLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, d.AddDate(0, 0, 1), nil
}

// dateRange resolves from/to query parameters into a half-open interval.
// A single "date" parameter selects one day. Missing bounds default to the
// last defaultDays days ending today. Ranges longer than maxDays are rejected.
func dateRange(r *http.Request, loc *time.Location, now time.Time, defaultDays, maxDays int) (time.Time, time.Time, error) {
	q := r.URL.Query()
	if day := q.Get("date"); day != "" {
		return parseDay(day, loc)
	}

	today := now.In(loc)
	end := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -defaultDays)

	if s := q.Get("from"); s != "" {
		from, _, err := parseDay(s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = from
	}
	if s := q.Get("to"); s != "" {
		_, to, err := parseDay(s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = to
		if q.Get("from") == "" {
			start = end.AddDate(0, 0, -defaultDays)
		}
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must not be after to")
	}
	if end.AddDate(0, 0, -maxDays).After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("date range must not exceed %d days", maxDays)
	}
	return start, end, nil
}
