package telsql_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/telsql"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T, tel *telescope.Telescope) *sql.DB {
	t.Helper()

	db, err := telsql.OpenDB(tel, "sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1) // each connection is a separate in-memory database
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

func TestQueriesAreRecorded(t *testing.T) {
	t.Parallel()

	tel := telescope.New(telescope.DefaultConfig())
	db := openTestDB(t, tel)

	ctx := telescope.WithRequest(context.Background(), telescope.RequestContext{RequestID: "req-1"})

	_, err := db.ExecContext(ctx, `INSERT INTO users (name) VALUES (?)`, "alice")
	require.NoError(t, err)

	var name string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT name FROM users WHERE id = ?`, 1).Scan(&name))
	require.Equal(t, "alice", name)

	queries := tel.QueriesByParent("req-1")
	require.Len(t, queries, 2)

	require.Equal(t, "sqlite", queries[0].Connection)
	require.Equal(t, `INSERT INTO users (name) VALUES (?)`, queries[0].Query)
	require.Equal(t, []any{"alice"}, queries[0].Bindings)
	require.Empty(t, queries[0].Error)
	require.GreaterOrEqual(t, queries[0].Time, 0.0)

	require.Equal(t, `SELECT name FROM users WHERE id = ?`, queries[1].Query)
	require.Equal(t, []any{int64(1)}, queries[1].Bindings)
}

func TestPreparedStatements(t *testing.T) {
	t.Parallel()

	tel := telescope.New(telescope.DefaultConfig())
	db := openTestDB(t, tel)
	before := tel.Stats().Queries

	ctx := telescope.WithRequest(context.Background(), telescope.RequestContext{RequestID: "req-2"})
	stmt, err := db.PrepareContext(ctx, `INSERT INTO users (name) VALUES (?)`)
	require.NoError(t, err)
	defer stmt.Close()

	for _, name := range []string{"a", "b", "c"} {
		_, err := stmt.ExecContext(ctx, name)
		require.NoError(t, err)
	}

	require.Equal(t, before+3, tel.Stats().Queries)
	require.Len(t, tel.QueriesByParent("req-2"), 3)
}

func TestTransactions(t *testing.T) {
	t.Parallel()

	tel := telescope.New(telescope.DefaultConfig())
	db := openTestDB(t, tel)

	ctx := telescope.WithRequest(context.Background(), telescope.RequestContext{RequestID: "req-3"})
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO users (name) VALUES (?)`, "tx")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count))
	require.Equal(t, 0, count)
	require.Len(t, tel.QueriesByParent("req-3"), 1)
}

func TestErrorsPassThrough(t *testing.T) {
	t.Parallel()

	tel := telescope.New(telescope.DefaultConfig())
	db := openTestDB(t, tel)

	plain, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer plain.Close()

	_, wantErr := plain.Exec(`SELECT * FROM no_such_table`)
	require.Error(t, wantErr)

	_, haveErr := db.Exec(`SELECT * FROM no_such_table`)
	require.Error(t, haveErr)
	require.Equal(t, wantErr.Error(), haveErr.Error())

	queries := tel.Queries(0)
	last := queries[len(queries)-1]
	require.Equal(t, `SELECT * FROM no_such_table`, last.Query)
	require.Equal(t, haveErr.Error(), last.Error)
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	cfg := telescope.DefaultConfig()
	cfg.Enabled = false
	tel := telescope.New(cfg)
	db := openTestDB(t, tel)

	_, err := db.Exec(`INSERT INTO users (name) VALUES ('x')`)
	require.NoError(t, err)
	require.Equal(t, 0, tel.Stats().Queries)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	tel := telescope.New(telescope.DefaultConfig())

	name, ok := telsql.Register(tel, "sqlite")
	require.True(t, ok)
	again, ok := telsql.Register(tel, "sqlite")
	require.True(t, ok)
	require.Equal(t, name, again)

	_, ok = telsql.Register(tel, "no-such-driver")
	require.False(t, ok)

	db, err := sql.Open(name, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT 1 + 1`).Scan(&n))
	require.Equal(t, 2, n)
	require.GreaterOrEqual(t, tel.Stats().Queries, 1)
}

func TestOpenDBUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := telsql.OpenDB(telescope.New(telescope.DefaultConfig()), "no-such-driver", "")
	require.Error(t, err)
}
