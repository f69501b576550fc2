package crud

import (
	"context"
	"fmt"

	"github.com/conduit-lang/querycache/internal/orm/invalidation"
	"github.com/conduit-lang/querycache/internal/orm/schema"
)

// UpsertOptions controls Upsert
type UpsertOptions struct {
	// ExcludeFromUpdate keeps these columns untouched when the row exists
	ExcludeFromUpdate []string
	// Returning defaults to every column
	Returning []string
}

// Upsert inserts data or, on a conflict over conflictColumns (the primary key
// when empty), updates every other column except created_at and the
// caller-excluded ones
func (o *Operations) Upsert(
	ctx context.Context,
	table string,
	data map[string]interface{},
	conflictColumns []string,
	opts *UpsertOptions,
) (map[string]interface{}, error) {
	if opts == nil {
		opts = &UpsertOptions{}
	}

	ts, err := o.catalog.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}

	record := o.writableColumns(ts, data, invalidation.OpUpsert)
	if len(record) == 0 {
		return nil, fmt.Errorf("upsert into %s: %w", table, ErrEmptyData)
	}
	o.populateAutoFields(ts, record, true)

	exclude := append([]string{schema.ColumnCreatedAt}, opts.ExcludeFromUpdate...)
	conflict, err := conflictClause(ts, conflictColumns, updatableColumns(record, exclude), true)
	if err != nil {
		return nil, err
	}

	sqlText, args, err := insertStatement(ts, record, conflict, opts.Returning)
	if err != nil {
		return nil, err
	}

	rows, err := o.queryRows(ctx, invalidation.OpUpsert, sqlText, args)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert into %s: %w", table, err)
	}

	o.invalidate(ctx, table, invalidation.OpUpsert)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
