package crud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/querycache/internal/orm/invalidation"
)

// ErrNoTransactionManager is returned by bulk writes when Operations has no
// transaction manager
var ErrNoTransactionManager = errors.New("crud: bulk writes require a transaction manager")

// BulkOptions controls BulkInsert and BulkUpdate
type BulkOptions struct {
	// BatchSize defaults to Config.BatchSize
	BatchSize int
	// Insert applies to every item of a BulkInsert
	Insert *InsertOptions
	// OnBatch is called after each batch with the number of items processed
	// so far. The transaction is still open when it runs.
	OnBatch func(done, total int)
}

// BulkUpdateItem is one Update of a BulkUpdate
type BulkUpdateItem struct {
	Data    map[string]interface{}
	Where   map[string]interface{}
	Options *UpdateOptions
}

// BulkInsert inserts every item inside one transaction. A failing item
// rolls back the whole batch. Rows swallowed by OnConflictIgnore are
// omitted from the result.
func (o *Operations) BulkInsert(
	ctx context.Context,
	table string,
	items []map[string]interface{},
	opts *BulkOptions,
) ([]map[string]interface{}, error) {
	if opts == nil {
		opts = &BulkOptions{}
	}
	if len(items) == 0 {
		return []map[string]interface{}{}, nil
	}

	results := make([]map[string]interface{}, 0, len(items))
	err := o.inBatches(ctx, table, invalidation.OpBulkInsert, len(items), opts, func(ctx context.Context, i int) error {
		row, err := o.insertRow(ctx, table, items[i], opts.Insert)
		if err != nil {
			return fmt.Errorf("bulk insert item %d: %w", i, err)
		}
		if row != nil {
			results = append(results, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.invalidate(ctx, table, invalidation.OpBulkInsert)
	return results, nil
}

// BulkUpdate applies every item inside one transaction and returns the
// updated rows of all items in order. Any item matching no rows rolls back
// the whole batch with ErrNoRowsAffected.
func (o *Operations) BulkUpdate(
	ctx context.Context,
	table string,
	items []BulkUpdateItem,
	opts *BulkOptions,
) ([]map[string]interface{}, error) {
	if opts == nil {
		opts = &BulkOptions{}
	}
	if len(items) == 0 {
		return []map[string]interface{}{}, nil
	}

	results := make([]map[string]interface{}, 0, len(items))
	err := o.inBatches(ctx, table, invalidation.OpBulkUpdate, len(items), opts, func(ctx context.Context, i int) error {
		rows, err := o.updateRows(ctx, table, items[i].Data, items[i].Where, items[i].Options)
		if err != nil {
			return fmt.Errorf("bulk update item %d: %w", i, err)
		}
		results = append(results, rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.invalidate(ctx, table, invalidation.OpBulkUpdate)
	return results, nil
}

// inBatches runs fn for indexes [0, n) in chunks of opts.BatchSize, all
// inside one transaction
func (o *Operations) inBatches(
	ctx context.Context,
	table, operation string,
	n int,
	opts *BulkOptions,
	fn func(ctx context.Context, i int) error,
) error {
	if o.txManager == nil {
		return ErrNoTransactionManager
	}
	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = o.config.BatchSize
	}

	return o.txManager.WithTransaction(ctx, func(ctx context.Context, _ *sql.Tx) error {
		for start := 0; start < n; start += batchSize {
			end := start + batchSize
			if end > n {
				end = n
			}
			o.logger.Debug("processing batch",
				zap.String("table", table),
				zap.String("operation", operation),
				zap.Int("from", start),
				zap.Int("to", end))

			for i := start; i < end; i++ {
				if err := fn(ctx, i); err != nil {
					return err
				}
			}
			if opts.OnBatch != nil {
				opts.OnBatch(end, n)
			}
		}
		return nil
	})
}
