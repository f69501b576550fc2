package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier is returned for table or column names outside the allow-list
var ErrInvalidIdentifier = errors.New("invalid identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]{0,62}$`)

// IsIdentifier reports whether s is a plain, unqualified SQL identifier
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// ValidateIdentifier checks a possibly qualified identifier ("table" or
// "schema.table"); every dot-separated part must be a plain identifier.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	}
	for _, part := range strings.Split(name, ".") {
		if !IsIdentifier(part) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
	}
	return nil
}

// SplitQualified splits "schema.table" into its parts. Unqualified names
// return an empty schema.
func SplitQualified(name string) (string, string) {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return "", name
}
