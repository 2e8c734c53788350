package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	sql := `
-- first table
CREATE TABLE a (x String) ENGINE = Memory;

-- second table
CREATE TABLE b (y String DEFAULT 'it''s') ENGINE = Memory;
`
	stmts, err := splitStatements(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x String) ENGINE = Memory", stmts[0])
	assert.Contains(t, stmts[1], "'it''s'")
}

func TestSplitStatements_RejectsQuotedSemicolon(t *testing.T) {
	_, err := splitStatements(`INSERT INTO a VALUES ('x;y');`)
	assert.ErrorIs(t, err, ErrSemicolonInString)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://user:pw@localhost:9000/rewards")
	require.NoError(t, err)
	assert.Equal(t, "rewards", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := readDir(PostgresFS, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Equal(t, "001_init.sql", pg[0].Name)

	ch, err := readDir(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.Len(t, ch, 1)

	stmts, err := splitStatements(ch[0].SQL)
	require.NoError(t, err)
	assert.Len(t, stmts, 1)
}
