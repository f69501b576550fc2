package crud

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/querycache/internal/orm/invalidation"
	"github.com/conduit-lang/querycache/internal/orm/query"
)

// UpdateOptions controls Update
type UpdateOptions struct {
	// OptimisticLocking checks and increments the version column when data carries a version
	OptimisticLocking bool
	// VersionColumn overrides the table's configured version column
	VersionColumn string
	// Returning defaults to every column
	Returning []string
}

// Update writes data to the rows matching where and returns them. Where
// columns must exist. With optimistic locking and a version value in data,
// only rows still at that version are updated and their version is bumped.
// Matching nothing yields ErrNoRowsAffected.
func (o *Operations) Update(
	ctx context.Context,
	table string,
	data map[string]interface{},
	where map[string]interface{},
	opts *UpdateOptions,
) ([]map[string]interface{}, error) {
	rows, err := o.updateRows(ctx, table, data, where, opts)
	if err != nil {
		return nil, err
	}
	o.invalidate(ctx, table, invalidation.OpUpdate)
	return rows, nil
}

// updateRows performs the update without invalidating
func (o *Operations) updateRows(
	ctx context.Context,
	table string,
	data map[string]interface{},
	where map[string]interface{},
	opts *UpdateOptions,
) ([]map[string]interface{}, error) {
	if opts == nil {
		opts = &UpdateOptions{}
	}

	ts, err := o.catalog.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(where) == 0 {
		return nil, validationError(table, "where", "update requires at least one condition")
	}

	record := o.writableColumns(ts, data, invalidation.OpUpdate)
	if len(record) == 0 {
		return nil, fmt.Errorf("update %s: %w", table, ErrEmptyData)
	}

	conditions := make(map[string]interface{}, len(where)+1)
	for col, value := range where {
		conditions[col] = value
	}

	var versionSet string
	if opts.OptimisticLocking {
		versionCol := opts.VersionColumn
		if versionCol == "" {
			versionCol = ts.VersionColumn
		}
		if !ts.HasColumn(versionCol) {
			return nil, validationError(table, versionCol, "optimistic locking requires a version column")
		}
		if oldVersion, ok := record[versionCol]; ok {
			delete(record, versionCol)
			conditions[versionCol] = oldVersion
			q := query.QuoteIdentifier(versionCol)
			versionSet = fmt.Sprintf("%s = %s + 1", q, q)
		}
	}

	o.populateAutoFields(ts, record, false)

	p := &query.Params{}
	sets := make([]string, 0, len(record)+1)
	for _, col := range sortedKeys(record) {
		sets = append(sets, fmt.Sprintf("%s = %s", query.QuoteIdentifier(col), p.Bind(record[col])))
	}
	if versionSet != "" {
		sets = append(sets, versionSet)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("update %s: %w", table, ErrEmptyData)
	}

	whereSQL, err := whereClause(ts, conditions, p)
	if err != nil {
		return nil, err
	}
	ret, err := returningClause(ts, opts.Returning)
	if err != nil {
		return nil, err
	}

	sqlText := fmt.Sprintf("UPDATE %s SET %s WHERE %s%s",
		query.QuoteQualified(ts.TableName), strings.Join(sets, ", "), whereSQL, ret)

	rows, err := o.queryRows(ctx, invalidation.OpUpdate, sqlText, p.Args())
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("update %s: %w", table, ErrNoRowsAffected)
	}
	return rows, nil
}
