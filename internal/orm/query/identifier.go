package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/conduit-lang/querycache/internal/orm/schema"
)

var (
	// ErrUnsafeFragment is returned when caller-supplied SQL text carries a
	// statement terminator or comment token
	ErrUnsafeFragment = errors.New("unsafe SQL fragment")

	// ErrInvalidIdentifier is returned for table, alias or column names outside the allow-list
	ErrInvalidIdentifier = schema.ErrInvalidIdentifier

	// ErrArgumentMismatch is returned when a fragment's placeholders and arguments disagree
	ErrArgumentMismatch = errors.New("placeholder and argument count mismatch")
)

var unsafeTokens = []string{";", "--", "/*", "*/"}

// CheckFragment rejects raw SQL text that could end the statement or hide text in a comment
func CheckFragment(fragment string) error {
	for _, token := range unsafeTokens {
		if strings.Contains(fragment, token) {
			return fmt.Errorf("%w: contains %q", ErrUnsafeFragment, token)
		}
	}
	return nil
}

// QuoteIdentifier quotes a single identifier
func QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// QuoteQualified quotes each part of a dotted name ("public.users" -> "public"."users")
func QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}

// ColumnList validates and quotes columns as a comma-separated list
func ColumnList(columns []string) (string, error) {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		if err := schema.ValidateIdentifier(col); err != nil {
			return "", err
		}
		quoted[i] = QuoteQualified(col)
	}
	return strings.Join(quoted, ", "), nil
}

// Params accumulates positional arguments and hands out $n placeholders in order
type Params struct {
	args []interface{}
}

// Bind appends value and returns its placeholder
func (p *Params) Bind(value interface{}) string {
	p.args = append(p.args, value)
	return fmt.Sprintf("$%d", len(p.args))
}

// Args returns the bound arguments
func (p *Params) Args() []interface{} {
	if p.args == nil {
		return []interface{}{}
	}
	return p.args
}

// Len returns the number of bound arguments
func (p *Params) Len() int {
	return len(p.args)
}

// Expand rewrites each ? placeholder outside string literals as the next $n
// placeholder, binding args in order. ?? emits a literal ?.
func (p *Params) Expand(fragment string, args []interface{}) (string, error) {
	var b strings.Builder
	inString := false
	used := 0

	runes := []rune(fragment)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'':
			inString = !inString
			b.WriteRune(r)
		case r == '?' && !inString && i+1 < len(runes) && runes[i+1] == '?':
			b.WriteRune('?')
			i++
		case r == '?' && !inString:
			if used >= len(args) {
				return "", fmt.Errorf("%w: %q", ErrArgumentMismatch, fragment)
			}
			b.WriteString(p.Bind(args[used]))
			used++
		default:
			b.WriteRune(r)
		}
	}

	if used != len(args) {
		return "", fmt.Errorf("%w: %q", ErrArgumentMismatch, fragment)
	}
	return b.String(), nil
}
