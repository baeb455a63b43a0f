package wsrm

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles_Embedded(t *testing.T) {
	names, err := fs.Glob(MigrationFiles, "migrations/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/0001_init.sql", "migrations/0002_send_record.sql"}, names)
}

func TestSplitStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (
    id INT -- trailing note is kept
);

-- between
CREATE INDEX idx ON a (id);
`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a (")
	assert.Equal(t, "CREATE INDEX idx ON a (id)", stmts[1])
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "payload BYTEA", dialect("postgres", "payload BLOB"))
	assert.Equal(t, "payload BLOB", dialect("sqlite3", "payload BLOB"))
}
