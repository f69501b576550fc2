package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/conduit-lang/querycache/internal/cache"
	"github.com/conduit-lang/querycache/internal/metrics"
)

// DefaultSchemaTTL is how long a loaded schema stays in the external tier
const DefaultSchemaTTL = time.Hour

// Querier is the subset of *sql.DB / *sql.Conn / *sql.Tx the catalog needs
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Config controls catalog lookups
type Config struct {
	// SchemaName is the database schema searched for unqualified tables
	SchemaName string
	// TTL of schema entries in the external cache
	TTL time.Duration
	// VersionColumn is the optimistic-locking column name
	VersionColumn string
}

// DefaultConfig returns the catalog defaults
func DefaultConfig() Config {
	return Config{
		SchemaName:    "public",
		TTL:           DefaultSchemaTTL,
		VersionColumn: DefaultVersionColumn,
	}
}

// Catalog resolves TableSchema values through a process-local map, then the
// external cache, then database introspection.
type Catalog struct {
	db      Querier
	local   *xsync.MapOf[string, *TableSchema]
	cache   *cache.Facade
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewCatalog creates a catalog. facade, logger and m may be nil.
func NewCatalog(db Querier, facade *cache.Facade, config Config, logger *zap.Logger, m *metrics.Metrics) *Catalog {
	defaults := DefaultConfig()
	if config.SchemaName == "" {
		config.SchemaName = defaults.SchemaName
	}
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.VersionColumn == "" {
		config.VersionColumn = defaults.VersionColumn
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Catalog{
		db:      db,
		local:   xsync.NewMapOf[string, *TableSchema](),
		cache:   facade,
		config:  config,
		logger:  logger.Named("schema"),
		metrics: m,
	}
}

// VersionColumn returns the configured optimistic-locking column
func (c *Catalog) VersionColumn() string {
	return c.config.VersionColumn
}

// GetSchema returns the schema for table, loading it on first use
func (c *Catalog) GetSchema(ctx context.Context, table string) (*TableSchema, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}

	if ts, ok := c.local.Load(table); ok {
		c.metrics.RecordSchemaLoad("local")
		return ts, nil
	}

	var cached TableSchema
	if c.cache.Get(ctx, cache.SchemaKey(table), &cached) && len(cached.Columns) > 0 {
		c.metrics.RecordSchemaLoad("external")
		ts, _ := c.local.LoadOrStore(table, &cached)
		return ts, nil
	}

	ts, err := c.introspect(ctx, table)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordSchemaLoad("database")

	c.cache.Set(ctx, cache.SchemaKey(table), ts, c.config.TTL)
	stored, _ := c.local.LoadOrStore(table, ts)

	c.logger.Debug("schema loaded",
		zap.String("table", table),
		zap.Int("columns", len(ts.Columns)),
		zap.Strings("primary_key", ts.PrimaryKey))

	return stored, nil
}

// Invalidate drops table from both tiers
func (c *Catalog) Invalidate(ctx context.Context, table string) {
	c.local.Delete(table)
	c.cache.Delete(ctx, cache.SchemaKey(table))
}

// Clear drops every table from the process-local tier
func (c *Catalog) Clear() {
	c.local.Clear()
}

// Register seeds the process-local tier with a prebuilt schema
func (c *Catalog) Register(ts *TableSchema) error {
	if ts == nil {
		return fmt.Errorf("schema: nil table schema")
	}
	if err := ValidateIdentifier(ts.TableName); err != nil {
		return err
	}
	c.local.Store(ts.TableName, ts)
	return nil
}

// Tables returns the sorted names currently held in the process-local tier
func (c *Catalog) Tables() []string {
	names := make([]string, 0, c.local.Size())
	c.local.Range(func(name string, _ *TableSchema) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
