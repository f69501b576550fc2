// Package invalidation clears cached reads after writes, using the table and
// table/operation tags every cached read carries.
package invalidation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/querycache/internal/cache"
	"github.com/conduit-lang/querycache/internal/metrics"
)

// Write operations reported to the coordinator
const (
	OpInsert     = "insert"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpSoftDelete = "soft_delete"
	OpUpsert     = "upsert"
	OpBulkInsert = "bulk_insert"
	OpBulkUpdate = "bulk_update"
)

// Event describes a successful write
type Event struct {
	Table     string
	Operation string
}

// Tags returns the tags cleared for the event
func (e Event) Tags() []string {
	tags := []string{TableTag(e.Table)}
	if e.Operation != "" {
		tags = append(tags, OperationTag(e.Table, e.Operation))
	}
	return tags
}

// TableTag is carried by every cached read of table
func TableTag(table string) string {
	return "table:" + table
}

// OperationTag narrows TableTag to one write operation
func OperationTag(table, operation string) string {
	return "table:" + table + ":" + operation
}

// ReadTags returns the tags a cached read over tables must carry
func ReadTags(tables ...string) []string {
	seen := make(map[string]bool, len(tables))
	tags := make([]string, 0, len(tables))
	for _, table := range tables {
		if table == "" || seen[table] {
			continue
		}
		seen[table] = true
		tags = append(tags, TableTag(table))
	}
	return tags
}

// Coordinator turns write events into tag invalidations. Failures are logged
// by the cache facade and never reach the writer.
type Coordinator struct {
	cache   *cache.Facade
	logger  *zap.Logger
	metrics *metrics.Metrics
	async   bool
	wg      sync.WaitGroup
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithAsync makes Invalidate return immediately and clear tags in the background
func WithAsync() Option {
	return func(c *Coordinator) {
		c.async = true
	}
}

// NewCoordinator creates a coordinator over facade. logger and m may be nil.
func NewCoordinator(facade *cache.Facade, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		cache:   facade,
		logger:  logger.Named("invalidation"),
		metrics: m,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invalidate clears the tags for event. In async mode the work runs on a
// context detached from ctx's cancellation.
func (c *Coordinator) Invalidate(ctx context.Context, event Event) {
	if c == nil {
		return
	}

	if !c.async {
		c.invalidate(ctx, event)
		return
	}

	detached := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.invalidate(detached, event)
	}()
}

func (c *Coordinator) invalidate(ctx context.Context, event Event) {
	tags := event.Tags()
	c.cache.InvalidateByTags(ctx, tags...)
	c.metrics.RecordInvalidation(event.Table, event.Operation)
	c.logger.Debug("cache invalidated",
		zap.String("table", event.Table),
		zap.String("operation", event.Operation),
		zap.Strings("tags", tags))
}

// Wait blocks until every in-flight async invalidation has finished
func (c *Coordinator) Wait() {
	if c == nil {
		return
	}
	c.wg.Wait()
}
