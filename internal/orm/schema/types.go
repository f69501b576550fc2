// Package schema resolves table metadata (columns, primary keys and the
// audit/soft-delete/version conventions) by introspecting the database catalog.
package schema

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Conventional column names that switch on automatic behaviour
const (
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
	ColumnDeletedAt = "deleted_at"

	// DefaultVersionColumn is the optimistic-locking column used when none is configured
	DefaultVersionColumn = "version"
)

var (
	// ErrTableNotFound is returned when a table has no visible columns
	ErrTableNotFound = errors.New("table not found")

	// ErrColumnNotFound is returned when a structured request names a column the table lacks
	ErrColumnNotFound = errors.New("column not found")
)

// ColumnInfo describes a single column as reported by the catalog
type ColumnInfo struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	MaxLength *int    `json:"max_length,omitempty"`
	Precision *int    `json:"precision,omitempty"`
	Scale     *int    `json:"scale,omitempty"`
}

// TableSchema is an immutable snapshot of a table's metadata
type TableSchema struct {
	TableName   string                 `json:"table_name"`
	Columns     map[string]*ColumnInfo `json:"columns"`
	ColumnOrder []string               `json:"column_order"`
	PrimaryKey  []string               `json:"primary_key"`

	HasCreatedAt  bool   `json:"has_created_at"`
	HasUpdatedAt  bool   `json:"has_updated_at"`
	HasDeletedAt  bool   `json:"has_deleted_at"`
	HasVersion    bool   `json:"has_version"`
	VersionColumn string `json:"version_column"`

	LastUpdated time.Time `json:"last_updated"`
}

// NewTableSchema builds a snapshot from catalog columns (in ordinal order) and
// primary-key column names. An empty versionColumn selects DefaultVersionColumn.
func NewTableSchema(table string, columns []*ColumnInfo, primaryKey []string, versionColumn string) *TableSchema {
	if versionColumn == "" {
		versionColumn = DefaultVersionColumn
	}

	ts := &TableSchema{
		TableName:     table,
		Columns:       make(map[string]*ColumnInfo, len(columns)),
		ColumnOrder:   make([]string, 0, len(columns)),
		PrimaryKey:    append([]string(nil), primaryKey...),
		VersionColumn: versionColumn,
		LastUpdated:   time.Now(),
	}

	for _, col := range columns {
		ts.Columns[col.Name] = col
		ts.ColumnOrder = append(ts.ColumnOrder, col.Name)
	}

	ts.HasCreatedAt = ts.HasColumn(ColumnCreatedAt)
	ts.HasUpdatedAt = ts.HasColumn(ColumnUpdatedAt)
	ts.HasDeletedAt = ts.HasColumn(ColumnDeletedAt)
	ts.HasVersion = ts.HasColumn(versionColumn)

	return ts
}

// HasColumn reports whether the table has the named column
func (ts *TableSchema) HasColumn(name string) bool {
	_, ok := ts.Columns[name]
	return ok
}

// Column returns the named column
func (ts *TableSchema) Column(name string) (*ColumnInfo, bool) {
	col, ok := ts.Columns[name]
	return col, ok
}

// ColumnNames returns the column names in catalog order
func (ts *TableSchema) ColumnNames() []string {
	if len(ts.ColumnOrder) == len(ts.Columns) {
		return append([]string(nil), ts.ColumnOrder...)
	}
	names := make([]string, 0, len(ts.Columns))
	for name := range ts.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsPrimaryKey reports whether name is part of the primary key
func (ts *TableSchema) IsPrimaryKey(name string) bool {
	for _, pk := range ts.PrimaryKey {
		if pk == name {
			return true
		}
	}
	return false
}

// GeneratedUUIDKey returns the primary-key column when the key is a single
// uuid column without a database default, i.e. one the caller must generate.
func (ts *TableSchema) GeneratedUUIDKey() (string, bool) {
	if len(ts.PrimaryKey) != 1 {
		return "", false
	}
	col, ok := ts.Columns[ts.PrimaryKey[0]]
	if !ok || col.Default != nil {
		return "", false
	}
	if !strings.EqualFold(col.Type, "uuid") {
		return "", false
	}
	return col.Name, true
}
