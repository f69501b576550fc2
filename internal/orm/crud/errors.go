package crud

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/conduit-lang/querycache/internal/orm/query"
	"github.com/conduit-lang/querycache/internal/orm/schema"
)

// Common CRUD error types
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrEmptyData is returned when no schema column remains in the write data
	ErrEmptyData = errors.New("no valid columns to write")

	// ErrNoRowsAffected is returned when an update or delete matched nothing.
	// A missing record and an optimistic-lock version conflict both end here.
	ErrNoRowsAffected = errors.New("no rows affected")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")
)

// ValidationError collects problems with the columns named by a write
type ValidationError struct {
	Table  string
	Errors []FieldError
}

// Error implements the error interface
func (ve *ValidationError) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	if len(ve.Errors) == 1 {
		return fmt.Sprintf("validation failed on %s: %s: %s", ve.Table, ve.Errors[0].Field, ve.Errors[0].Message)
	}
	parts := make([]string, len(ve.Errors))
	for i, fe := range ve.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", ve.Table, strings.Join(parts, "; "))
}

// FieldError represents a validation error on a specific column
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) add(field, message string) {
	ve.Errors = append(ve.Errors, FieldError{Field: field, Message: message})
}

// errOrNil returns ve when it holds at least one problem
func (ve *ValidationError) errOrNil() error {
	if len(ve.Errors) == 0 {
		return nil
	}
	return ve
}

func validationError(table, field, message string) error {
	return &ValidationError{Table: table, Errors: []FieldError{{Field: field, Message: message}}}
}

// ConvertDBError converts database-specific errors to CRUD errors
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s: %w", ErrUniqueViolation, pgErr.Detail, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s: %w", ErrForeignKeyViolation, pgErr.Detail, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: %s: %w", ErrCheckViolation, pgErr.ConstraintName, err)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: column %s: %w", ErrNotNullViolation, pgErr.ColumnName, err)
		}
	}

	return err
}

// IsNotFound reports a missing record or an unknown table
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, schema.ErrTableNotFound)
}

// IsNoRowsAffected reports an update or delete that matched nothing
func IsNoRowsAffected(err error) bool {
	return errors.Is(err, ErrNoRowsAffected)
}

// IsUniqueViolation returns true if the error is ErrUniqueViolation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsForeignKeyViolation returns true if the error is ErrForeignKeyViolation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}

// IsValidationError reports caller mistakes: bad columns, identifiers or raw fragments
func IsValidationError(err error) bool {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}
	return errors.Is(err, query.ErrUnsafeFragment) ||
		errors.Is(err, query.ErrInvalidIdentifier) ||
		errors.Is(err, query.ErrArgumentMismatch) ||
		errors.Is(err, schema.ErrColumnNotFound) ||
		errors.Is(err, ErrEmptyData)
}
