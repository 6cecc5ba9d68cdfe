package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT NOT NULL);`

func TestOpenAndMigrateIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	db, err := OpenAndMigrateDB(context.Background(), schema, path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO kv (k, v) VALUES ('a', 'b')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenAndMigrateDB(context.Background(), schema, path)
	require.NoError(t, err)
	defer db.Close()
	var v string
	require.NoError(t, db.QueryRow(`SELECT v FROM kv WHERE k = 'a'`).Scan(&v))
	require.Equal(t, "b", v)
}

func TestOpenMemory(t *testing.T) {
	db, err := OpenAndMigrateDB(context.Background(), schema, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`INSERT INTO kv (k, v) VALUES ('a', 'b')`)
	require.NoError(t, err)
}

func TestOpenAndMigrateRejectsBadSchema(t *testing.T) {
	_, err := OpenAndMigrateDB(context.Background(), "CREATE TABLE (", ":memory:")
	require.Error(t, err)
}
