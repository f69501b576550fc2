// Package crud implements schema-validated reads and writes over
// map[string]interface{} records, with cached reads and tag invalidation.
package crud

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/querycache/internal/cache"
	"github.com/conduit-lang/querycache/internal/metrics"
	"github.com/conduit-lang/querycache/internal/orm/invalidation"
	"github.com/conduit-lang/querycache/internal/orm/query"
	"github.com/conduit-lang/querycache/internal/orm/schema"
	"github.com/conduit-lang/querycache/internal/orm/transaction"
)

// Executor is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SchemaSource resolves table metadata; *schema.Catalog implements it
type SchemaSource interface {
	GetSchema(ctx context.Context, table string) (*schema.TableSchema, error)
}

// TransactionManager runs a unit of work in a transaction; *transaction.Manager implements it
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn transaction.TxFunc) error
}

// Config holds defaults for reads, pagination and bulk writes
type Config struct {
	CacheTTL         time.Duration
	DefaultPageLimit int
	MaxPageLimit     int
	BatchSize        int
}

// DefaultConfig returns the default CRUD configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:         5 * time.Minute,
		DefaultPageLimit: 20,
		MaxPageLimit:     100,
		BatchSize:        100,
	}
}

// Operations provides CRUD operations over any introspectable table
type Operations struct {
	db          Executor
	catalog     SchemaSource
	builder     *query.Builder
	cache       *cache.Facade
	invalidator *invalidation.Coordinator
	txManager   TransactionManager
	config      Config
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Option configures Operations
type Option func(*Operations)

// WithCache enables cache-first reads
func WithCache(facade *cache.Facade) Option {
	return func(o *Operations) { o.cache = facade }
}

// WithInvalidator clears cached reads after writes
func WithInvalidator(c *invalidation.Coordinator) Option {
	return func(o *Operations) { o.invalidator = c }
}

// WithTransactionManager sets the manager used by bulk writes
func WithTransactionManager(m TransactionManager) Option {
	return func(o *Operations) { o.txManager = m }
}

// WithConfig overrides the defaults; zero fields keep their default
func WithConfig(c Config) Option {
	return func(o *Operations) {
		if c.CacheTTL > 0 {
			o.config.CacheTTL = c.CacheTTL
		}
		if c.DefaultPageLimit > 0 {
			o.config.DefaultPageLimit = c.DefaultPageLimit
		}
		if c.MaxPageLimit > 0 {
			o.config.MaxPageLimit = c.MaxPageLimit
		}
		if c.BatchSize > 0 {
			o.config.BatchSize = c.BatchSize
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Operations) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records database operations
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Operations) { o.metrics = m }
}

// WithClock replaces time.Now for audit timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Operations) { o.now = now }
}

// NewOperations creates a new Operations instance. When db is a *sql.DB and
// no transaction manager is given, one is created over it.
func NewOperations(db Executor, catalog SchemaSource, opts ...Option) *Operations {
	o := &Operations{
		db:      db,
		catalog: catalog,
		config:  DefaultConfig(),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.logger = o.logger.Named("crud")
	o.builder = query.NewBuilder(o.logger)
	if o.txManager == nil {
		if sqlDB, ok := db.(*sql.DB); ok {
			o.txManager = transaction.NewManager(sqlDB, o.logger)
		}
	}
	return o
}

// Config returns the effective configuration
func (o *Operations) Config() Config {
	return o.config
}

// executor returns the ambient transaction or the database handle
func (o *Operations) executor(ctx context.Context) Executor {
	if tx, ok := transaction.TxFromContext(ctx); ok {
		return tx
	}
	return o.db
}

// invalidate clears cached reads for a write, waiting for the commit when
// the write runs inside a managed transaction
func (o *Operations) invalidate(ctx context.Context, table, operation string) {
	if o.invalidator == nil {
		return
	}
	event := invalidation.Event{Table: table, Operation: operation}
	deferred := transaction.AfterCommit(ctx, func() {
		o.invalidator.Invalidate(context.WithoutCancel(ctx), event)
	})
	if !deferred {
		o.invalidator.Invalidate(ctx, event)
	}
}

// writableColumns keeps the keys of data that are schema columns, logging
// and dropping the rest
func (o *Operations) writableColumns(ts *schema.TableSchema, data map[string]interface{}, operation string) map[string]interface{} {
	record := make(map[string]interface{}, len(data))
	var dropped []string

	for col, value := range data {
		if !ts.HasColumn(col) {
			dropped = append(dropped, col)
			continue
		}
		record[col] = value
	}

	if len(dropped) > 0 {
		sort.Strings(dropped)
		o.logger.Warn("dropping unknown columns",
			zap.String("table", ts.TableName),
			zap.String("operation", operation),
			zap.Strings("columns", dropped))
	}
	return record
}

// whereClause renders write conditions. Every column must exist.
func whereClause(ts *schema.TableSchema, where map[string]interface{}, p *query.Params) (string, error) {
	columns := sortedKeys(where)
	ve := &ValidationError{Table: ts.TableName}
	conditions := make([]string, 0, len(columns))

	for _, col := range columns {
		if !schema.IsIdentifier(col) || !ts.HasColumn(col) {
			ve.add(col, "unknown column")
			continue
		}
		conditions = append(conditions, query.Condition(query.QuoteIdentifier(col), where[col], p))
	}
	if err := ve.errOrNil(); err != nil {
		return "", err
	}
	return strings.Join(conditions, " AND "), nil
}

// returningClause validates requested RETURNING columns, defaulting to *
func returningClause(ts *schema.TableSchema, columns []string) (string, error) {
	if len(columns) == 0 {
		return " RETURNING *", nil
	}
	ve := &ValidationError{Table: ts.TableName}
	for _, col := range columns {
		if !ts.HasColumn(col) {
			ve.add(col, "unknown returning column")
		}
	}
	if err := ve.errOrNil(); err != nil {
		return "", err
	}
	list, err := query.ColumnList(columns)
	if err != nil {
		return "", err
	}
	return " RETURNING " + list, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// queryRows executes a statement that returns rows and records its duration
func (o *Operations) queryRows(ctx context.Context, op, sqlText string, args []interface{}) ([]map[string]interface{}, error) {
	start := time.Now()
	rows, err := o.executor(ctx).QueryContext(ctx, sqlText, args...)
	if err != nil {
		o.metrics.RecordDbOperation(op, start, err)
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	records, err := scanRows(rows)
	o.metrics.RecordDbOperation(op, start, err)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	return records, nil
}

// exec executes a statement without result rows and returns rows affected
func (o *Operations) exec(ctx context.Context, op, sqlText string, args []interface{}) (int64, error) {
	start := time.Now()
	result, err := o.executor(ctx).ExecContext(ctx, sqlText, args...)
	o.metrics.RecordDbOperation(op, start, err)
	if err != nil {
		return 0, ConvertDBError(err)
	}
	return result.RowsAffected()
}
