package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/querycache/internal/cache"
	"github.com/conduit-lang/querycache/internal/metrics"
)

const (
	columnsPattern    = `FROM information_schema\.columns`
	primaryKeyPattern = `FROM information_schema\.table_constraints`
)

var columnHeaders = []string{
	"column_name", "data_type", "is_nullable", "column_default",
	"character_maximum_length", "numeric_precision", "numeric_scale",
}

func expectUsersIntrospection(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(columnsPattern).
		WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows(columnHeaders).
			AddRow("id", "integer", "NO", "nextval('users_id_seq'::regclass)", nil, 32, 0).
			AddRow("email", "character varying", "NO", nil, 255, nil, nil).
			AddRow("created_at", "timestamp with time zone", "YES", nil, nil, nil, nil).
			AddRow("deleted_at", "timestamp with time zone", "YES", nil, nil, nil, nil))

	mock.ExpectQuery(primaryKeyPattern).
		WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))
}

func newFacade(t *testing.T) *cache.Facade {
	backend := cache.NewMemoryCache()
	t.Cleanup(func() { _ = backend.Close() })
	return cache.NewFacade(backend, nil, nil)
}

func TestCatalog_GetSchemaIntrospects(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectUsersIntrospection(mock)

	catalog := NewCatalog(db, nil, Config{}, nil, nil)
	ts, err := catalog.GetSchema(context.Background(), "users")
	require.NoError(t, err)

	assert.Equal(t, "users", ts.TableName)
	assert.Equal(t, []string{"id", "email", "created_at", "deleted_at"}, ts.ColumnNames())
	assert.Equal(t, []string{"id"}, ts.PrimaryKey)
	assert.True(t, ts.HasCreatedAt)
	assert.False(t, ts.HasUpdatedAt)
	assert.True(t, ts.HasDeletedAt)
	assert.False(t, ts.HasVersion)

	email, ok := ts.Column("email")
	require.True(t, ok)
	assert.False(t, email.Nullable)
	require.NotNil(t, email.MaxLength)
	assert.Equal(t, 255, *email.MaxLength)

	id, _ := ts.Column("id")
	require.NotNil(t, id.Default)
	assert.True(t, ts.IsPrimaryKey("id"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_LocalTierServesRepeatLookups(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectUsersIntrospection(mock)

	m := metrics.New(prometheus.NewRegistry())
	catalog := NewCatalog(db, nil, Config{}, nil, m)

	first, err := catalog.GetSchema(context.Background(), "users")
	require.NoError(t, err)
	second, err := catalog.GetSchema(context.Background(), "users")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchemaLoadsTotal.WithLabelValues("database")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchemaLoadsTotal.WithLabelValues("local")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_ExternalTierSharedAcrossCatalogs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	facade := cache.NewFacade(cache.NewRedisCacheWithClient(client, cache.DefaultCacheConfig()), nil, nil)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectUsersIntrospection(mock)

	first := NewCatalog(db, facade, Config{}, nil, nil)
	_, err = first.GetSchema(context.Background(), "users")
	require.NoError(t, err)

	// A second process with an empty local tier must not hit the database
	second := NewCatalog(db, facade, Config{}, nil, nil)
	ts, err := second.GetSchema(context.Background(), "users")
	require.NoError(t, err)
	assert.True(t, ts.HasDeletedAt)
	assert.Equal(t, []string{"id"}, ts.PrimaryKey)

	assert.True(t, mr.Exists(cache.DefaultCacheConfig().Prefix+cache.SchemaKey("users")))
	ttl := mr.TTL(cache.DefaultCacheConfig().Prefix + cache.SchemaKey("users"))
	assert.Equal(t, DefaultSchemaTTL, ttl)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_TableNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(columnsPattern).
		WithArgs("public", "ghosts").
		WillReturnRows(sqlmock.NewRows(columnHeaders))

	catalog := NewCatalog(db, nil, Config{}, nil, nil)
	_, err = catalog.GetSchema(context.Background(), "ghosts")
	assert.ErrorIs(t, err, ErrTableNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_RejectsInvalidTableName(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	catalog := NewCatalog(db, nil, Config{}, nil, nil)
	_, err = catalog.GetSchema(context.Background(), "users; DROP TABLE users")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	// No query may reach the database
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_QualifiedTableUsesItsSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(columnsPattern).
		WithArgs("billing", "invoices").
		WillReturnRows(sqlmock.NewRows(columnHeaders).
			AddRow("id", "uuid", "NO", nil, nil, nil, nil).
			AddRow("version", "integer", "NO", "1", nil, 32, 0))
	mock.ExpectQuery(primaryKeyPattern).
		WithArgs("billing", "invoices").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))

	catalog := NewCatalog(db, nil, Config{}, nil, nil)
	ts, err := catalog.GetSchema(context.Background(), "billing.invoices")
	require.NoError(t, err)

	assert.True(t, ts.HasVersion)
	key, ok := ts.GeneratedUUIDKey()
	assert.True(t, ok)
	assert.Equal(t, "id", key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_DriverErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery(columnsPattern).WillReturnError(boom)

	catalog := NewCatalog(db, nil, Config{}, nil, nil)
	_, err = catalog.GetSchema(context.Background(), "users")
	assert.ErrorIs(t, err, boom)
}

func TestCatalog_InvalidateClearsBothTiers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	facade := newFacade(t)
	expectUsersIntrospection(mock)
	expectUsersIntrospection(mock)

	catalog := NewCatalog(db, facade, Config{}, nil, nil)
	ctx := context.Background()

	_, err = catalog.GetSchema(ctx, "users")
	require.NoError(t, err)
	assert.True(t, facade.Exists(ctx, cache.SchemaKey("users")))

	catalog.Invalidate(ctx, "users")
	assert.False(t, facade.Exists(ctx, cache.SchemaKey("users")))
	assert.Empty(t, catalog.Tables())

	_, err = catalog.GetSchema(ctx, "users")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_RegisterAndClear(t *testing.T) {
	catalog := NewCatalog(nil, nil, Config{}, nil, nil)

	ts := NewTableSchema("widgets", []*ColumnInfo{
		{Name: "id", Type: "integer"},
		{Name: "updated_at", Type: "timestamp"},
	}, []string{"id"}, "")
	require.NoError(t, catalog.Register(ts))

	got, err := catalog.GetSchema(context.Background(), "widgets")
	require.NoError(t, err)
	assert.Same(t, ts, got)
	assert.True(t, got.HasUpdatedAt)

	catalog.Clear()
	_, err = catalog.GetSchema(context.Background(), "widgets")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"simple", "users", true},
		{"underscore", "_private_table", true},
		{"qualified", "public.users", true},
		{"empty", "", false},
		{"leading digit", "1users", false},
		{"space", "user s", false},
		{"quote", `users"`, false},
		{"semicolon", "users;", false},
		{"empty part", "public.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidIdentifier)
			}
		})
	}
}

func TestCatalog_ListTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM information_schema\.tables`).
		WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("events").AddRow("sessions"))

	catalog := NewCatalog(db, nil, Config{SchemaName: "analytics"}, nil, nil)
	tables, err := catalog.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"events", "sessions"}, tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_ListTablesWithoutDatabase(t *testing.T) {
	catalog := NewCatalog(nil, nil, Config{}, nil, nil)
	for _, name := range []string{"zebras", "apples"} {
		require.NoError(t, catalog.Register(NewTableSchema(name, []*ColumnInfo{{Name: "id", Type: "integer"}}, []string{"id"}, "")))
	}

	tables, err := catalog.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"apples", "zebras"}, tables)
}
