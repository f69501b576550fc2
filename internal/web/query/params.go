// Package query parses the row-listing query string of the admin API
package query

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/conduit-lang/querycache/internal/orm/schema"
)

// filterPattern matches query parameters like filter[key]
var filterPattern = regexp.MustCompile(`^filter\[([^\]]+)\]$`)

// PageParams holds the page, limit and count parameters
type PageParams struct {
	Page  int
	Limit int
	Count bool
}

// ParseFields parses the fields query parameter into column names.
// Example: ?fields=id,email returns ["id", "email"]
func ParseFields(r *http.Request) []string {
	return splitList(r.URL.Query().Get("fields"))
}

// ParseFilter parses the filter query parameters into equality conditions.
// Example: ?filter[status]=published&filter[author_id]=1,2
// Returns: {"status": "published", "author_id": ["1", "2"]}
// A comma-separated value becomes a list and the literal null matches NULL.
func ParseFilter(r *http.Request) map[string]interface{} {
	result := make(map[string]interface{})

	for key, values := range r.URL.Query() {
		matches := filterPattern.FindStringSubmatch(key)
		if len(matches) != 2 || len(values) == 0 {
			continue
		}

		value := values[0]
		switch {
		case value == "null":
			result[matches[1]] = nil
		case strings.Contains(value, ","):
			result[matches[1]] = splitList(value)
		default:
			result[matches[1]] = value
		}
	}

	return result
}

// ParseSort parses the sort query parameter into a slice of sort fields.
// Example: ?sort=-created_at,title returns ["-created_at", "title"]
// The "-" prefix indicates descending sort order.
// Returns an empty slice if the sort parameter is not present.
func ParseSort(r *http.Request) []string {
	return splitList(r.URL.Query().Get("sort"))
}

// OrderBy converts sort fields to an ORDER BY list
func OrderBy(fields []string) (string, error) {
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		direction := "ASC"
		if strings.HasPrefix(field, "-") {
			direction = "DESC"
			field = field[1:]
		}
		if err := schema.ValidateIdentifier(field); err != nil {
			return "", fmt.Errorf("sort: %w", err)
		}
		parts = append(parts, field+" "+direction)
	}
	return strings.Join(parts, ", "), nil
}

// ParsePage reads page, limit and count. Missing values are zero and left
// for the pagination layer to default.
func ParsePage(r *http.Request) (PageParams, error) {
	q := r.URL.Query()
	var params PageParams

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return params, fmt.Errorf("invalid page %q", v)
		}
		params.Page = page
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return params, fmt.Errorf("invalid limit %q", v)
		}
		params.Limit = limit
	}

	if v := q.Get("count"); v != "" {
		count, err := strconv.ParseBool(v)
		if err != nil {
			return params, fmt.Errorf("invalid count %q", v)
		}
		params.Count = count
	}

	return params, nil
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
