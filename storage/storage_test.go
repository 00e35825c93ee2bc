package storage_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/syssam/vela"
	"github.com/syssam/vela/dialect"
	dsql "github.com/syssam/vela/dialect/sql"
	"github.com/syssam/vela/internal/fixture"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/query"
	"github.com/syssam/vela/session"
	"github.com/syssam/vela/storage"
)

func library(t *testing.T) *model.Model {
	t.Helper()
	m, _, err := model.Build(fixture.Library())
	require.NoError(t, err)
	return m
}

func mockStore(t *testing.T, opts ...storage.Option) (*storage.SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	opts = append([]storage.Option{storage.WithCache(query.NewCache(0))}, opts...)
	st, err := storage.New(dsql.OpenDB(dialect.SQLite, db), opts...)
	require.NoError(t, err)
	return st, mock
}

// rows returns mock rows holding one row of e with the given column
// values; other columns are NULL.
func rows(e *model.Entity, vals map[string]driver.Value) *sqlmock.Rows {
	var names []string
	row := make([]driver.Value, 0, len(e.Members))
	for _, m := range e.Columns() {
		names = append(names, m.Column)
		row = append(row, vals[m.Column])
	}
	return sqlmock.NewRows(names).AddRow(row...)
}

func TestSubmitInsertOrder(t *testing.T) {
	ctx := context.Background()
	st, mock := mockStore(t)
	s := session.Open(library(t), st, session.WithCache(query.NewCache(0)))

	book, err := s.New("Book")
	require.NoError(t, err)
	require.NoError(t, book.Set("Title", "Dune"))
	require.NoError(t, book.Set("Price", "9.99"))
	pub, err := s.New("Publisher")
	require.NoError(t, err)
	require.NoError(t, pub.Set("Name", "Ace"))
	require.NoError(t, book.SetRef("Publisher", pub))

	pubID := pub.PrimaryKey()[0].(uuid.UUID).String()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "publishers" ("id", "name") VALUES (?, ?)`)).
		WithArgs(pubID, "Ace").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "books"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveChanges(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, session.StatusLoaded, book.Status())
	v, err := book.Get("Version")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, 2, s.LastTransaction().Records)
	assert.False(t, s.HasChanges())
}

func TestSubmitIdentity(t *testing.T) {
	ctx := context.Background()
	st, mock := mockStore(t)
	s := session.Open(library(t), st, session.WithCache(query.NewCache(0)))

	user, err := s.New("User")
	require.NoError(t, err)
	require.NoError(t, user.Set("UserName", "ann"))
	review, err := s.New("BookReview")
	require.NoError(t, err)
	book, err := s.Get(ctx, "Book", uuid.New(), session.LoadStub)
	require.NoError(t, err)
	require.NoError(t, review.SetRef("Book", book))
	require.NoError(t, review.SetRef("User", user))
	require.NoError(t, review.Set("Caption", "great"))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users" ("user_name", "user_name_hash", "password") VALUES (?, ?, ?) RETURNING "id"`)).
		WithArgs("ann", model.Hash("ann"), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "book_reviews"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveChanges(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, model.KeyValue{int64(42)}, user.PrimaryKey())
	v, err := review.Get("User_Id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	same, err := s.Get(ctx, "User", 42, session.LoadIfAbsent)
	require.NoError(t, err)
	assert.Same(t, user, same)
}

func TestSubmitConflict(t *testing.T) {
	ctx := context.Background()
	st, mock := mockStore(t)
	m := library(t)
	s := session.Open(m, st, session.WithCache(query.NewCache(0)))

	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).
		WillReturnRows(rows(m.Entity("Book"), map[string]driver.Value{
			"created_on":   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			"version":      int64(3),
			"id":           id.String(),
			"title":        "Dune",
			"price":        "9.99",
			"publisher_id": uuid.NewString(),
		}))
	book, err := s.Get(ctx, "Book", id, session.LoadForce)
	require.NoError(t, err)
	require.NoError(t, book.Set("Title", "Dune Messiah"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "books" SET "version" = ?, "title" = ? WHERE "id" = ? AND "version" = ?`)).
		WithArgs(int64(4), "Dune Messiah", id.String(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = s.SaveChanges(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, vela.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())

	// The record keeps its change and its original row version.
	assert.Equal(t, session.StatusModified, book.Status())
	v, _ := book.Get("Version")
	assert.Equal(t, int64(3), v)
	title, _ := book.Get("Title")
	assert.Equal(t, "Dune Messiah", title)
}

func TestSubmitFailure(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	st, mock := mockStore(t)
	s := session.Open(library(t), st,
		session.WithCache(query.NewCache(0)),
		session.WithLogger(zap.New(core)))

	pub, err := s.New("Publisher")
	require.NoError(t, err)
	require.NoError(t, pub.Set("Name", "Ace"))
	audit, err := s.New("AuditEntry")
	require.NoError(t, err)
	require.NoError(t, audit.Set("Message", "publisher created"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "audit_entries"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "publishers"`)).
		WillReturnError(errors.New("UNIQUE constraint failed: publishers.name"))
	mock.ExpectRollback()

	err = s.SaveChanges(ctx)
	require.Error(t, err)
	var cerr *vela.CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.SQL, `INSERT INTO "publishers"`)
	assert.True(t, vela.IsConstraintError(err))
	require.NoError(t, mock.ExpectationsWereMet())

	// Discard-on-abort records leave the session; others stay pending.
	assert.Equal(t, session.StatusFantom, audit.Status())
	assert.Nil(t, audit.Session())
	assert.Equal(t, session.StatusNew, pub.Status())
	assert.True(t, s.HasChanges())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "save aborted", logs.All()[0].Message)
}

func TestSubmitDeleteMany(t *testing.T) {
	ctx := context.Background()
	st, mock := mockStore(t)
	m := library(t)
	s := session.Open(m, st, session.WithCache(query.NewCache(0)))

	ids := []uuid.UUID{
		uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8"),
	}
	for _, id := range ids {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).
			WillReturnRows(rows(m.Entity("AuditEntry"), map[string]driver.Value{"id": id.String(), "message": "x"}))
		r, err := s.Get(ctx, "AuditEntry", id, session.LoadIfAbsent)
		require.NoError(t, err)
		require.NoError(t, s.Delete(r))
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "audit_entries" WHERE "id" IN ('6ba7b810-9dad-11d1-80b4-00c04fd430c8', '6ba7b811-9dad-11d1-80b4-00c04fd430c8')`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, s.SaveChanges(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Zero(t, s.Tracked())
}

func TestSubmitScheduled(t *testing.T) {
	ctx := context.Background()
	st, mock := mockStore(t)
	s := session.Open(library(t), st, session.WithCache(query.NewCache(0)))

	require.NoError(t, s.Schedule(
		query.From("AuditEntry").Where(query.Like(query.C("Message"), query.V("tmp%"))).Delete()))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "audit_entries" WHERE "audit_entries"."message" LIKE ?`)).
		WithArgs("tmp%").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, s.SaveChanges(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.False(t, s.HasChanges())
}

func TestQueryExec(t *testing.T) {
	ctx := context.Background()
	st, mock := mockStore(t)
	m := library(t)
	tr := query.NewTranslator(m, st.Dialect(), query.WithCache(nil))

	cmd := query.From("Book").Where(query.Gt(query.C("Price"), query.V("10"))).Count()
	q, err := tr.Translate(cmd)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "books" AS "t0" WHERE "t0"."price" > ?`)).
		WithArgs("10").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(7)))
	out, err := st.Query(ctx, q.Statement, cmd.Args())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(7)}}, out)

	upd := query.From("AuditEntry").Update(query.Set("Message", "x"))
	q, err = tr.Translate(upd)
	require.NoError(t, err)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "audit_entries" SET "message" = ?`)).
		WithArgs("x").
		WillReturnError(errors.New("disk I/O error"))
	_, err = st.Exec(ctx, q.Statement, upd.Args())
	var cerr *vela.CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []any{"x"}, cerr.Args)
	require.NoError(t, mock.ExpectationsWereMet())
}
