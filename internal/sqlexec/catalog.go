// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"quest/cli/internal/dsn"
)

// Catalog builds metadata queries for one database flavour. The queries are plain
// statements with $n placeholders, meant to be submitted to the engine like any other
// request.
type Catalog struct {
	dbType dsn.DBType
	sb     sq.StatementBuilderType
}

// NewCatalog returns a catalog for dbType.
func NewCatalog(dbType dsn.DBType) *Catalog {
	return &Catalog{
		dbType: dbType,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// DefaultSchema is the schema unqualified names resolve to; empty when the database has
// no schemas.
func (c *Catalog) DefaultSchema() string {
	switch c.dbType {
	case dsn.DBTypeQuestDB:
		return ""
	case dsn.DBTypeCrateDB:
		return "doc"
	}
	return "public"
}

// Tables lists user tables, restricted to schema when it is not empty.
func (c *Catalog) Tables(schema string) (string, []any, error) {
	if c.dbType == dsn.DBTypeQuestDB {
		return c.sb.
			Select("table_name", "designatedTimestamp", "partitionBy").
			From("tables()").
			OrderBy("table_name").
			ToSql()
	}

	q := c.sb.
		Select("table_schema", "table_name", "table_type").
		From("information_schema.tables")
	if schema != "" {
		q = q.Where(sq.Eq{"table_schema": schema})
	} else {
		q = q.Where(sq.NotEq{"table_schema": systemSchemas(c.dbType)})
	}
	return q.OrderBy("table_schema", "table_name").ToSql()
}

// Columns describes the columns of table, given as "table" or "schema.table".
func (c *Catalog) Columns(table string) (string, []any, error) {
	schema, name := ParseTableName(table, c.DefaultSchema())
	q := c.sb.
		Select("column_name", "data_type", "is_nullable").
		From("information_schema.columns").
		Where(sq.Eq{"table_name": name})
	if schema != "" {
		q = q.Where(sq.Eq{"table_schema": schema})
	}
	return q.OrderBy("ordinal_position").ToSql()
}

func systemSchemas(t dsn.DBType) []string {
	if t == dsn.DBTypeCrateDB {
		return []string{"information_schema", "pg_catalog", "sys"}
	}
	return []string{"information_schema", "pg_catalog"}
}

// ParseTableName splits a table name into schema and table components.
// If no schema is specified, defaultSchema is returned.
func ParseTableName(tableName, defaultSchema string) (schema string, table string) {
	if i := strings.Index(tableName, "."); i > 0 && i < len(tableName)-1 {
		return tableName[:i], tableName[i+1:]
	}
	return defaultSchema, tableName
}
