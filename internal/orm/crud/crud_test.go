package crud

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/querycache/internal/cache"
	"github.com/conduit-lang/querycache/internal/orm/invalidation"
	"github.com/conduit-lang/querycache/internal/orm/query"
	"github.com/conduit-lang/querycache/internal/orm/schema"
)

const usersLiveFilter = `("users"."deleted_at" IS NULL OR "users"."deleted_at" > NOW())`

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func usersTable() *schema.TableSchema {
	return schema.NewTableSchema("users", []*schema.ColumnInfo{
		{Name: "id", Type: "integer"},
		{Name: "email", Type: "character varying"},
		{Name: "name", Type: "text", Nullable: true},
		{Name: "version", Type: "integer"},
		{Name: "created_at", Type: "timestamp with time zone"},
		{Name: "updated_at", Type: "timestamp with time zone"},
		{Name: "deleted_at", Type: "timestamp with time zone", Nullable: true},
	}, []string{"id"}, "")
}

func tagsTable() *schema.TableSchema {
	return schema.NewTableSchema("tags", []*schema.ColumnInfo{
		{Name: "id", Type: "integer"},
		{Name: "label", Type: "text"},
	}, []string{"id"}, "")
}

type fixture struct {
	ops   *Operations
	mock  sqlmock.Sqlmock
	cache *cache.Facade
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog := schema.NewCatalog(nil, nil, schema.DefaultConfig(), nil, nil)
	require.NoError(t, catalog.Register(usersTable()))
	require.NoError(t, catalog.Register(tagsTable()))

	backend := cache.NewMemoryCache()
	t.Cleanup(func() { _ = backend.Close() })
	facade := cache.NewFacade(backend, nil, nil)

	base := []Option{
		WithCache(facade),
		WithInvalidator(invalidation.NewCoordinator(facade, nil, nil)),
		WithClock(func() time.Time { return testNow }),
	}
	ops := NewOperations(db, catalog, append(base, opts...)...)

	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return &fixture{ops: ops, mock: mock, cache: facade}
}

func TestNewOperations_Defaults(t *testing.T) {
	f := setup(t, WithConfig(Config{BatchSize: 2}))

	cfg := f.ops.Config()
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 20, cfg.DefaultPageLimit)
	assert.Equal(t, 100, cfg.MaxPageLimit)
	assert.Equal(t, 2, cfg.BatchSize)
	assert.NotNil(t, f.ops.txManager)
}

func TestFindWhere_ServesRepeatReadsFromCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.mock.ExpectQuery(`SELECT * FROM "users" WHERE "users"."email" = $1 AND ` + usersLiveFilter).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow(1, "a@x.com"))

	first, err := f.ops.FindWhere(ctx, "users", map[string]interface{}{"email": "a@x.com"}, nil)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.ops.FindWhere(ctx, "users", map[string]interface{}{"email": "a@x.com"}, nil)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "a@x.com", second[0]["email"])
}

func TestFindWhere_NoCacheAlwaysQueries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		f.mock.ExpectQuery(`SELECT * FROM "tags"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(1, "go"))
	}

	opts := &FindOptions{ReadOptions: ReadOptions{NoCache: true}}
	for i := 0; i < 2; i++ {
		rows, err := f.ops.FindWhere(ctx, "tags", nil, opts)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	}
}

func TestFindWhere_WriteInvalidatesCachedRead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	read := `SELECT * FROM "tags" WHERE "tags"."label" = $1`

	f.mock.ExpectQuery(read).WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(1, "go"))
	f.mock.ExpectQuery(`INSERT INTO "tags" ("label") VALUES ($1) RETURNING *`).WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(2, "go"))
	f.mock.ExpectQuery(read).WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(1, "go").AddRow(2, "go"))

	where := map[string]interface{}{"label": "go"}

	before, err := f.ops.FindWhere(ctx, "tags", where, nil)
	require.NoError(t, err)
	assert.Len(t, before, 1)

	_, err = f.ops.Insert(ctx, "tags", map[string]interface{}{"label": "go"}, nil)
	require.NoError(t, err)

	after, err := f.ops.FindWhere(ctx, "tags", where, nil)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestFindWhere_SoftDeletedRows(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.mock.ExpectQuery(`SELECT "id", "email" FROM "users" WHERE ` + usersLiveFilter + ` ORDER BY email LIMIT 10`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}))
	f.mock.ExpectQuery(`SELECT * FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "deleted_at"}).AddRow(1, "gone@x.com", testNow))

	live, err := f.ops.FindWhere(ctx, "users", nil, &FindOptions{
		Select:  []string{"id", "email"},
		OrderBy: "email",
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := f.ops.FindWhere(ctx, "users", nil, &FindOptions{IncludeSoftDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestFindOne_NotFound(t *testing.T) {
	f := setup(t)

	f.mock.ExpectQuery(`SELECT * FROM "tags" WHERE "tags"."id" = $1 LIMIT 1`).WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}))

	_, err := f.ops.FindByID(context.Background(), "tags", 42, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestFindByID_UnknownTable(t *testing.T) {
	f := setup(t)

	_, err := f.ops.FindByID(context.Background(), "missing", 1, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestCount_CachesTotal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.mock.ExpectQuery(`SELECT COUNT(*) FROM (SELECT * FROM "tags") AS counted`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	spec := tagsSpec()
	for i := 0; i < 2; i++ {
		total, err := f.ops.Count(ctx, spec, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(7), total)
	}
}

func TestOperations_DroppedColumnsAreLogged(t *testing.T) {
	logger, logs := observedLogger()
	f := setup(t, WithLogger(logger))

	f.mock.ExpectQuery(`INSERT INTO "tags" ("label") VALUES ($1) RETURNING *`).WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(1, "go"))

	_, err := f.ops.Insert(context.Background(), "tags", map[string]interface{}{"label": "go", "colour": "red"}, nil)
	require.NoError(t, err)

	entries := logs.FilterMessage("dropping unknown columns").All()
	require.Len(t, entries, 1)
	assert.Equal(t, []interface{}{"colour"}, entries[0].ContextMap()["columns"])
}

func TestInvalidateWithoutCoordinator(t *testing.T) {
	f := setup(t, WithInvalidator(nil))

	assert.NotPanics(t, func() {
		f.ops.invalidate(context.Background(), "tags", invalidation.OpInsert)
	})
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	return zap.New(core), logs
}

func tagsSpec() *query.QuerySpec {
	return &query.QuerySpec{Table: "tags"}
}
