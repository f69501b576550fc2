package crud

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/querycache/internal/orm/invalidation"
	"github.com/conduit-lang/querycache/internal/orm/query"
	"github.com/conduit-lang/querycache/internal/orm/schema"
)

// DeleteOptions controls Delete
type DeleteOptions struct {
	// SoftDelete overrides the default, which is soft iff the table has deleted_at
	SoftDelete *bool
	// Force allows a delete without conditions
	Force bool
}

// Delete removes the rows matching where and returns how many were affected.
// A soft delete stamps deleted_at (and updated_at) on rows not yet deleted,
// so repeating it leaves the first timestamp in place and yields
// ErrNoRowsAffected.
func (o *Operations) Delete(
	ctx context.Context,
	table string,
	where map[string]interface{},
	opts *DeleteOptions,
) (int64, error) {
	if opts == nil {
		opts = &DeleteOptions{}
	}

	ts, err := o.catalog.GetSchema(ctx, table)
	if err != nil {
		return 0, err
	}
	if len(where) == 0 && !opts.Force {
		return 0, validationError(table, "where", "delete requires at least one condition unless forced")
	}

	soft := ts.HasDeletedAt
	if opts.SoftDelete != nil {
		soft = *opts.SoftDelete
	}
	if soft && !ts.HasDeletedAt {
		return 0, validationError(table, schema.ColumnDeletedAt, "soft delete requires a deleted_at column")
	}

	p := &query.Params{}
	var sqlText, operation string

	if soft {
		operation = invalidation.OpSoftDelete
		now := o.now()
		sets := []string{fmt.Sprintf("%s = %s", query.QuoteIdentifier(schema.ColumnDeletedAt), p.Bind(now))}
		if ts.HasUpdatedAt {
			sets = append(sets, fmt.Sprintf("%s = %s", query.QuoteIdentifier(schema.ColumnUpdatedAt), p.Bind(now)))
		}

		conditions, err := deleteConditions(ts, where, p)
		if err != nil {
			return 0, err
		}
		conditions = append(conditions, query.QuoteIdentifier(schema.ColumnDeletedAt)+" IS NULL")

		sqlText = fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			query.QuoteQualified(ts.TableName), strings.Join(sets, ", "), strings.Join(conditions, " AND "))
	} else {
		operation = invalidation.OpDelete
		conditions, err := deleteConditions(ts, where, p)
		if err != nil {
			return 0, err
		}

		sqlText = "DELETE FROM " + query.QuoteQualified(ts.TableName)
		if len(conditions) > 0 {
			sqlText += " WHERE " + strings.Join(conditions, " AND ")
		}
	}

	affected, err := o.exec(ctx, operation, sqlText, p.Args())
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("delete from %s: %w", table, ErrNoRowsAffected)
	}

	o.invalidate(ctx, table, operation)
	return affected, nil
}

func deleteConditions(ts *schema.TableSchema, where map[string]interface{}, p *query.Params) ([]string, error) {
	if len(where) == 0 {
		return nil, nil
	}
	clause, err := whereClause(ts, where, p)
	if err != nil {
		return nil, err
	}
	return []string{clause}, nil
}
