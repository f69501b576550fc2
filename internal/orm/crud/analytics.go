package crud

import (
	"context"

	"github.com/conduit-lang/querycache/internal/orm/query"
	"github.com/conduit-lang/querycache/internal/orm/schema"
)

// Aggregate runs a grouped aggregate read
func (o *Operations) Aggregate(ctx context.Context, spec *query.AggregateSpec, opts *ReadOptions) ([]map[string]interface{}, error) {
	return o.derived(ctx, spec.Table, spec.QuerySpec, opts)
}

// Window runs a read with window-function columns
func (o *Operations) Window(ctx context.Context, spec *query.WindowSpec, opts *ReadOptions) ([]map[string]interface{}, error) {
	return o.derived(ctx, spec.Table, spec.QuerySpec, opts)
}

// Range runs a read bounded on one column
func (o *Operations) Range(ctx context.Context, spec *query.RangeSpec, opts *ReadOptions) ([]map[string]interface{}, error) {
	return o.derived(ctx, spec.Table, spec.QuerySpec, opts)
}

// FullTextSearch runs a PostgreSQL text search read
func (o *Operations) FullTextSearch(ctx context.Context, spec *query.FullTextSpec, opts *ReadOptions) ([]map[string]interface{}, error) {
	return o.derived(ctx, spec.Table, spec.QuerySpec, opts)
}

// derived lowers a specialised description against the table schema and
// executes it on the cached read path
func (o *Operations) derived(
	ctx context.Context,
	table string,
	lower func(*schema.TableSchema) (*query.QuerySpec, error),
	opts *ReadOptions,
) ([]map[string]interface{}, error) {
	ts, err := o.catalog.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	spec, err := lower(ts)
	if err != nil {
		return nil, err
	}
	return o.query(ctx, spec, ts, opts)
}
