package crud

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conduit-lang/querycache/internal/orm/invalidation"
	"github.com/conduit-lang/querycache/internal/orm/query"
	"github.com/conduit-lang/querycache/internal/orm/schema"
)

// ConflictAction selects the ON CONFLICT behaviour of an insert
type ConflictAction int

const (
	// OnConflictError lets the database raise the conflict
	OnConflictError ConflictAction = iota
	// OnConflictIgnore emits ON CONFLICT ... DO NOTHING
	OnConflictIgnore
	// OnConflictUpdate emits ON CONFLICT ... DO UPDATE for every non-conflict
	// column except created_at
	OnConflictUpdate
)

// InsertOptions controls Insert
type InsertOptions struct {
	OnConflict ConflictAction
	// ConflictColumns default to the primary key
	ConflictColumns []string
	// Returning defaults to every column
	Returning []string
}

// Insert writes one row and returns it. Unknown keys are dropped, audit
// timestamps and a generated UUID key are filled in when absent. The result
// is nil when OnConflictIgnore swallowed the row.
func (o *Operations) Insert(
	ctx context.Context,
	table string,
	data map[string]interface{},
	opts *InsertOptions,
) (map[string]interface{}, error) {
	record, err := o.insertRow(ctx, table, data, opts)
	if err != nil {
		return nil, err
	}
	o.invalidate(ctx, table, invalidation.OpInsert)
	return record, nil
}

// insertRow performs the insert without invalidating
func (o *Operations) insertRow(
	ctx context.Context,
	table string,
	data map[string]interface{},
	opts *InsertOptions,
) (map[string]interface{}, error) {
	if opts == nil {
		opts = &InsertOptions{}
	}

	ts, err := o.catalog.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}

	record := o.writableColumns(ts, data, invalidation.OpInsert)
	if len(record) == 0 {
		return nil, fmt.Errorf("insert into %s: %w", table, ErrEmptyData)
	}
	o.populateAutoFields(ts, record, true)

	var conflict string
	switch opts.OnConflict {
	case OnConflictIgnore:
		conflict, err = conflictClause(ts, opts.ConflictColumns, nil, false)
	case OnConflictUpdate:
		conflict, err = conflictClause(ts, opts.ConflictColumns, updatableColumns(record, []string{schema.ColumnCreatedAt}), true)
	}
	if err != nil {
		return nil, err
	}

	sqlText, args, err := insertStatement(ts, record, conflict, opts.Returning)
	if err != nil {
		return nil, err
	}

	rows, err := o.queryRows(ctx, invalidation.OpInsert, sqlText, args)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// populateAutoFields stamps created_at/updated_at and generates a UUID key
func (o *Operations) populateAutoFields(ts *schema.TableSchema, record map[string]interface{}, creating bool) {
	now := o.now()

	if creating {
		if ts.HasCreatedAt {
			if _, exists := record[schema.ColumnCreatedAt]; !exists {
				record[schema.ColumnCreatedAt] = now
			}
		}
		if key, ok := ts.GeneratedUUIDKey(); ok {
			if _, exists := record[key]; !exists {
				record[key] = uuid.New().String()
			}
		}
	}

	if ts.HasUpdatedAt {
		if _, exists := record[schema.ColumnUpdatedAt]; !exists {
			record[schema.ColumnUpdatedAt] = now
		}
	}
}

// insertStatement renders INSERT ... VALUES ... [conflict] RETURNING
func insertStatement(ts *schema.TableSchema, record map[string]interface{}, conflict string, returning []string) (string, []interface{}, error) {
	columns := sortedKeys(record)
	p := &query.Params{}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = query.QuoteIdentifier(col)
		placeholders[i] = p.Bind(record[col])
	}

	ret, err := returningClause(ts, returning)
	if err != nil {
		return "", nil, err
	}

	sqlText := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)%s%s",
		query.QuoteQualified(ts.TableName),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		conflict,
		ret,
	)
	return sqlText, p.Args(), nil
}

// conflictClause renders ON CONFLICT. update lists the columns to overwrite;
// an empty update list degrades to DO NOTHING.
func conflictClause(ts *schema.TableSchema, conflictColumns, update []string, doUpdate bool) (string, error) {
	if len(conflictColumns) == 0 {
		conflictColumns = ts.PrimaryKey
	}

	if len(conflictColumns) == 0 {
		if doUpdate {
			return "", validationError(ts.TableName, "conflict_columns", "required when the table has no primary key")
		}
		return " ON CONFLICT DO NOTHING", nil
	}

	ve := &ValidationError{Table: ts.TableName}
	for _, col := range conflictColumns {
		if !ts.HasColumn(col) {
			ve.add(col, "unknown conflict column")
		}
	}
	if err := ve.errOrNil(); err != nil {
		return "", err
	}

	target, err := query.ColumnList(conflictColumns)
	if err != nil {
		return "", err
	}

	excluded := make(map[string]bool, len(conflictColumns))
	for _, col := range conflictColumns {
		excluded[col] = true
	}
	var sets []string
	if doUpdate {
		for _, col := range update {
			if excluded[col] {
				continue
			}
			q := query.QuoteIdentifier(col)
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
		}
	}

	if len(sets) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", target), nil
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", target, strings.Join(sets, ", ")), nil
}

// updatableColumns lists record columns for a DO UPDATE set, minus the excluded names
func updatableColumns(record map[string]interface{}, exclude []string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, col := range exclude {
		skip[col] = true
	}
	var columns []string
	for _, col := range sortedKeys(record) {
		if !skip[col] {
			columns = append(columns, col)
		}
	}
	return columns
}
