package schema

import (
	"context"
	"database/sql"
	"fmt"
)

const columnsQuery = `SELECT column_name, data_type, is_nullable, column_default,
       character_maximum_length, numeric_precision, numeric_scale
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

const primaryKeyQuery = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.ordinal_position`

const tablesQuery = `SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

// ListTables returns the base tables of the configured database schema.
// Without a database it lists the process-local tier.
func (c *Catalog) ListTables(ctx context.Context) ([]string, error) {
	if c.db == nil {
		return c.Tables(), nil
	}

	rows, err := c.db.QueryContext(ctx, tablesQuery, c.config.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in %s: %w", c.config.SchemaName, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// introspect loads a table's columns and primary key from information_schema
func (c *Catalog) introspect(ctx context.Context, table string) (*TableSchema, error) {
	if c.db == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	schemaName, tableName := SplitQualified(table)
	if schemaName == "" {
		schemaName = c.config.SchemaName
	}

	columns, err := c.loadColumns(ctx, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	primaryKey, err := c.loadPrimaryKey(ctx, schemaName, tableName)
	if err != nil {
		return nil, err
	}

	return NewTableSchema(table, columns, primaryKey, c.config.VersionColumn), nil
}

func (c *Catalog) loadColumns(ctx context.Context, schemaName, tableName string) ([]*ColumnInfo, error) {
	rows, err := c.db.QueryContext(ctx, columnsQuery, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns for %s: %w", tableName, err)
	}
	defer rows.Close()

	var columns []*ColumnInfo
	for rows.Next() {
		var (
			name, dataType, nullable string
			def                      sql.NullString
			maxLength                sql.NullInt64
			precision                sql.NullInt64
			scale                    sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &nullable, &def, &maxLength, &precision, &scale); err != nil {
			return nil, fmt.Errorf("failed to scan column for %s: %w", tableName, err)
		}

		col := &ColumnInfo{
			Name:     name,
			Type:     dataType,
			Nullable: nullable == "YES",
		}
		if def.Valid {
			v := def.String
			col.Default = &v
		}
		col.MaxLength = intPtr(maxLength)
		col.Precision = intPtr(precision)
		col.Scale = intPtr(scale)

		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns for %s: %w", tableName, err)
	}
	return columns, nil
}

func (c *Catalog) loadPrimaryKey(ctx context.Context, schemaName, tableName string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, primaryKeyQuery, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key for %s: %w", tableName, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan primary key for %s: %w", tableName, err)
		}
		keys = append(keys, name)
	}
	return keys, rows.Err()
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
