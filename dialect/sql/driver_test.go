package sql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/syssam/vela/dialect"
)

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dialect string
	}{
		{"Postgres", dialect.Postgres, dialect.Postgres},
		{"MySQL", dialect.MySQL, dialect.MySQL},
		{"SQLite", dialect.SQLite, dialect.SQLite},
		{"SQLite3", "sqlite3", dialect.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv := OpenDB(tt.driver, db)
			assert.NotNil(t, drv)
			assert.Equal(t, tt.dialect, drv.Dialect())
		})
	}
}

func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("scan_values", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
				AddRow(1, "Alice").
				AddRow(2, nil))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT id, name FROM users", []any{}, rows)
		require.NoError(t, err)
		cols, vals, err := ScanValues(rows)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "name"}, cols)
		require.Len(t, vals, 2)
		assert.Equal(t, "Alice", vals[0][1])
		assert.Nil(t, vals[1][1])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("database error"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT", []any{}, rows)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dialect/sql: query")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_destination", func(t *testing.T) {
		err := drv.Query(context.Background(), "SELECT 1", []any{}, new(int))
		require.Error(t, err)
		err = drv.Query(context.Background(), "SELECT 1", "x", &Rows{})
		require.Error(t, err)
	})
}

func TestDriverExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("affected_rows", func(t *testing.T) {
		mock.ExpectExec("UPDATE users SET name = \\$1 WHERE id = \\$2").
			WithArgs("Alice", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		var n int64
		err := drv.Exec(context.Background(), "UPDATE users SET name = $1 WHERE id = $2", []any{"Alice", 1}, &n)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("result", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(7, 1))

		var res Result
		err := drv.Exec(context.Background(), "INSERT INTO users (name) VALUES ('test')", []any{}, &res)
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)
	})

	t.Run("exec_error", func(t *testing.T) {
		mock.ExpectExec("DELETE").WillReturnError(errors.New("constraint violation"))

		err := drv.Exec(context.Background(), "DELETE FROM users", []any{}, nil)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriverTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("successful_commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Exec(context.Background(), "INSERT INTO users (name) VALUES ('test')", []any{}, nil))
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("error"))
		mock.ExpectRollback()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.Error(t, tx.Exec(context.Background(), "INSERT INTO users (name) VALUES ('test')", []any{}, nil))
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin_error", func(t *testing.T) {
		mock.ExpectBegin().WillReturnError(errors.New("busy"))
		_, err := drv.Tx(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dialect/sql: begin")
	})
}

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	core, logs := observer.New(zap.WarnLevel)
	drv := NewStatsDriver(OpenDB(dialect.SQLite, db),
		WithSlowThreshold(-1),
		WithSlowQueryLog(zap.New(core)),
	)

	mock.ExpectExec("DELETE FROM books").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	require.NoError(t, drv.Exec(context.Background(), "DELETE FROM books", []any{}, nil))
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.Error(t, tx.Query(context.Background(), "SELECT 1", []any{}, &Rows{}))
	require.NoError(t, tx.Rollback())

	s := drv.QueryStats().Stats()
	assert.Equal(t, int64(1), s.TotalExecs)
	assert.Equal(t, int64(1), s.TotalQueries)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(2), s.SlowQueries)
	assert.Equal(t, int64(1), s.Rollbacks)
	assert.Zero(t, s.Commits)
	assert.Equal(t, map[Verb]int64{VerbDelete: 1, VerbSelect: 1}, s.ByVerb)
	assert.Equal(t, 2, logs.FilterMessage("slow query detected").Len())
	assert.Equal(t, "delete", logs.All()[0].ContextMap()["verb"])
	assert.Contains(t, s.String(), "queries=1 execs=1 commits=0 rollbacks=1")
	assert.Contains(t, s.String(), "select=1 delete=1")

	drv.SetSlowThreshold(time.Hour)
	assert.Equal(t, time.Hour, drv.SlowThreshold())
	drv.QueryStats().Reset()
	assert.Zero(t, drv.QueryStats().Stats().TotalExecs)
}

func TestVerbOf(t *testing.T) {
	tests := []struct {
		query string
		want  Verb
	}{
		{"SELECT 1", VerbSelect},
		{"  insert into t values (1)", VerbInsert},
		{"(SELECT a FROM t)", VerbSelect},
		{"UPDATE t SET a = 1", VerbUpdate},
		{"DELETE FROM t", VerbDelete},
		{"WITH x AS (SELECT 1) SELECT * FROM x", VerbOther},
		{"BEGIN", VerbOther},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, VerbOf(tt.query))
		})
	}
}

func TestDebugDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	core, logs := observer.New(zap.DebugLevel)
	drv := NewDebugDriver(OpenDB(dialect.SQLite, db), zap.New(core))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), "INSERT INTO t VALUES (1)", []any{}, nil))
	require.NoError(t, tx.Commit())

	var msgs []string
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"begin transaction", "tx exec", "commit transaction"}, msgs)
}

func BenchmarkDriver(b *testing.B) {
	db, mock, err := sqlmock.New()
	if err != nil {
		b.Fatal(err)
	}
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	b.Run("Exec_Simple", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
			_ = drv.Exec(context.Background(), "INSERT INTO t VALUES (1)", []any{}, nil)
		}
	})
}
