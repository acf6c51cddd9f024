package sqlexec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quest/cli/internal/dsn"
	"quest/cli/internal/sqlexec"
)

func TestCatalog_Tables(t *testing.T) {
	tests := []struct {
		name     string
		dbType   dsn.DBType
		schema   string
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "postgres with schema",
			dbType:   dsn.DBTypePostgreSQL,
			schema:   "app",
			wantSQL:  "SELECT table_schema, table_name, table_type FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_schema, table_name",
			wantArgs: []any{"app"},
		},
		{
			name:     "postgres all user schemas",
			dbType:   dsn.DBTypePostgreSQL,
			wantSQL:  "SELECT table_schema, table_name, table_type FROM information_schema.tables WHERE table_schema NOT IN ($1,$2) ORDER BY table_schema, table_name",
			wantArgs: []any{"information_schema", "pg_catalog"},
		},
		{
			name:     "crate skips sys",
			dbType:   dsn.DBTypeCrateDB,
			wantSQL:  "SELECT table_schema, table_name, table_type FROM information_schema.tables WHERE table_schema NOT IN ($1,$2,$3) ORDER BY table_schema, table_name",
			wantArgs: []any{"information_schema", "pg_catalog", "sys"},
		},
		{
			name:    "questdb uses tables()",
			dbType:  dsn.DBTypeQuestDB,
			schema:  "ignored",
			wantSQL: "SELECT table_name, designatedTimestamp, partitionBy FROM tables() ORDER BY table_name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := sqlexec.NewCatalog(tt.dbType).Tables(tt.schema)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestCatalog_Columns(t *testing.T) {
	sql, args, err := sqlexec.NewCatalog(dsn.DBTypePostgreSQL).Columns("users")
	require.NoError(t, err)
	assert.Equal(t, "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = $1 AND table_schema = $2 ORDER BY ordinal_position", sql)
	assert.Equal(t, []any{"users", "public"}, args)

	_, args, err = sqlexec.NewCatalog(dsn.DBTypeCrateDB).Columns("sensors.readings")
	require.NoError(t, err)
	assert.Equal(t, []any{"readings", "sensors"}, args)

	sql, args, err = sqlexec.NewCatalog(dsn.DBTypeQuestDB).Columns("trades")
	require.NoError(t, err)
	assert.NotContains(t, sql, "table_schema")
	assert.Equal(t, []any{"trades"}, args)
}

func TestParseTableName(t *testing.T) {
	tests := []struct {
		in, schema, table string
	}{
		{"users", "public", "users"},
		{"app.users", "app", "users"},
		{".users", "public", ".users"},
		{"app.", "public", "app."},
	}
	for _, tt := range tests {
		schema, table := sqlexec.ParseTableName(tt.in, "public")
		assert.Equal(t, tt.schema, schema, tt.in)
		assert.Equal(t, tt.table, table, tt.in)
	}
}
