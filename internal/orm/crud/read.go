package crud

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/querycache/internal/cache"
	"github.com/conduit-lang/querycache/internal/orm/invalidation"
	"github.com/conduit-lang/querycache/internal/orm/query"
	"github.com/conduit-lang/querycache/internal/orm/schema"
	"github.com/conduit-lang/querycache/internal/orm/transaction"
)

// ReadOptions controls caching of a read
type ReadOptions struct {
	// NoCache skips the cache lookup and store
	NoCache bool
	// CacheTTL overrides Config.CacheTTL
	CacheTTL time.Duration
}

// FindOptions controls FindWhere
type FindOptions struct {
	ReadOptions

	// Select lists the returned columns, all when empty
	Select             []string
	OrderBy            string
	Limit              int
	Offset             int
	IncludeSoftDeleted bool
}

// FindWhere returns the rows of table matching where. Unknown where columns
// are dropped with a warning.
func (o *Operations) FindWhere(
	ctx context.Context,
	table string,
	where map[string]interface{},
	opts *FindOptions,
) ([]map[string]interface{}, error) {
	if opts == nil {
		opts = &FindOptions{}
	}

	var projection string
	if len(opts.Select) > 0 {
		list, err := query.ColumnList(opts.Select)
		if err != nil {
			return nil, err
		}
		projection = list
	}

	spec := &query.QuerySpec{
		Select:             projection,
		Table:              table,
		Where:              where,
		OrderBy:            opts.OrderBy,
		Limit:              opts.Limit,
		Offset:             opts.Offset,
		IncludeSoftDeleted: opts.IncludeSoftDeleted,
	}
	return o.Query(ctx, spec, &opts.ReadOptions)
}

// FindOne returns the first row matching where or ErrNotFound
func (o *Operations) FindOne(
	ctx context.Context,
	table string,
	where map[string]interface{},
	opts *FindOptions,
) (map[string]interface{}, error) {
	find := FindOptions{}
	if opts != nil {
		find = *opts
	}
	find.Limit = 1

	rows, err := o.FindWhere(ctx, table, where, &find)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", table, ErrNotFound)
	}
	return rows[0], nil
}

// FindByID looks a row up by its single-column primary key
func (o *Operations) FindByID(ctx context.Context, table string, id interface{}, opts *FindOptions) (map[string]interface{}, error) {
	ts, err := o.catalog.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(ts.PrimaryKey) != 1 {
		return nil, validationError(table, "primary_key", "lookup by id requires a single-column primary key")
	}
	return o.FindOne(ctx, table, map[string]interface{}{ts.PrimaryKey[0]: id}, opts)
}

// Query executes spec, serving and filling the cache unless opts.NoCache is
// set or the context carries a transaction
func (o *Operations) Query(ctx context.Context, spec *query.QuerySpec, opts *ReadOptions) ([]map[string]interface{}, error) {
	if spec == nil {
		return nil, fmt.Errorf("query: nil spec")
	}
	ts, err := o.catalog.GetSchema(ctx, spec.Table)
	if err != nil {
		return nil, err
	}
	return o.query(ctx, spec, ts, opts)
}

func (o *Operations) query(ctx context.Context, spec *query.QuerySpec, ts *schema.TableSchema, opts *ReadOptions) ([]map[string]interface{}, error) {
	sqlText, args, err := o.builder.Build(spec, ts)
	if err != nil {
		return nil, err
	}

	key, cached := o.cacheKey(ctx, spec.Table, sqlText, args, opts)
	if cached {
		var rows []map[string]interface{}
		if o.cache.Get(ctx, key, &rows) {
			o.logger.Debug("serving read from cache", zap.String("table", spec.Table), zap.String("key", key))
			if rows == nil {
				rows = []map[string]interface{}{}
			}
			return rows, nil
		}
	}

	rows, err := o.queryRows(ctx, "select", sqlText, args)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", spec.Table, err)
	}

	if cached {
		o.cache.Set(ctx, key, rows, o.cacheTTL(opts), invalidation.ReadTags(spec.Tables()...)...)
	}
	return rows, nil
}

// Count returns the number of rows spec matches, ignoring its order and limits
func (o *Operations) Count(ctx context.Context, spec *query.QuerySpec, opts *ReadOptions) (int64, error) {
	if spec == nil {
		return 0, fmt.Errorf("count: nil spec")
	}
	ts, err := o.catalog.GetSchema(ctx, spec.Table)
	if err != nil {
		return 0, err
	}

	sqlText, args, err := o.builder.BuildCount(spec, ts)
	if err != nil {
		return 0, err
	}

	key, cached := o.cacheKey(ctx, spec.Table, sqlText, args, opts)
	if cached {
		var total int64
		if o.cache.Get(ctx, key, &total) {
			return total, nil
		}
	}

	start := time.Now()
	var total int64
	err = o.executor(ctx).QueryRowContext(ctx, sqlText, args...).Scan(&total)
	o.metrics.RecordDbOperation("count", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", spec.Table, ConvertDBError(err))
	}

	if cached {
		o.cache.Set(ctx, key, total, o.cacheTTL(opts), invalidation.ReadTags(spec.Tables()...)...)
	}
	return total, nil
}

// cacheKey reports the key for a read and whether the read may use the cache
func (o *Operations) cacheKey(ctx context.Context, table, sqlText string, args []interface{}, opts *ReadOptions) (string, bool) {
	if o.cache == nil || (opts != nil && opts.NoCache) {
		return "", false
	}
	if _, inTx := transaction.TxFromContext(ctx); inTx {
		return "", false
	}
	return cache.QueryKey(table, sqlText, args), true
}

func (o *Operations) cacheTTL(opts *ReadOptions) time.Duration {
	if opts != nil && opts.CacheTTL > 0 {
		return opts.CacheTTL
	}
	return o.config.CacheTTL
}
