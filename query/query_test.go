package query_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/vela/dialect"
	"github.com/syssam/vela/internal/fixture"
	"github.com/syssam/vela/model"
	. "github.com/syssam/vela/query"
	"github.com/syssam/vela/schema"
)

func library(t testing.TB) *model.Model {
	t.Helper()
	m, _, err := model.Build(fixture.Library())
	require.NoError(t, err)
	return m
}

func translator(t testing.TB, m *model.Model, name string) *Translator {
	t.Helper()
	d, err := dialect.Get(name)
	require.NoError(t, err)
	return NewTranslator(m, d, WithCache(NewCache(0)))
}

// bind translates cmd and returns the executable SQL and arguments.
func bind(t *testing.T, tr *Translator, cmd *Command) (string, []any) {
	t.Helper()
	res, err := tr.Translate(cmd)
	require.NoError(t, err)
	query, args, err := res.Statement.Bind(nil, cmd.Args())
	require.NoError(t, err)
	return query, args
}

func TestSelect(t *testing.T) {
	m := library(t)
	tests := []struct {
		name string
		cmd  *Command
		sql  string
		args []any
	}{
		{
			name: "filter",
			cmd:  From("Book", "b").Select(C("Title")).Where(Eq(C("Title"), V("Dune"))).Command(),
			sql:  `SELECT "b"."title" FROM "books" AS "b" WHERE "b"."title" = ?`,
			args: []any{"Dune"},
		},
		{
			name: "navigation",
			cmd: From("Book", "b").
				Select(C("Title"), C("Publisher.Name")).
				Where(Eq(C("Publisher.Name"), V("Ace"))).
				Command(),
			sql: `SELECT "b"."title", "b_Publisher"."name" FROM "books" AS "b" ` +
				`INNER JOIN "publishers" AS "b_Publisher" ON "b_Publisher"."id" = "b"."publisher_id" ` +
				`WHERE "b_Publisher"."name" = ?`,
			args: []any{"Ace"},
		},
		{
			name: "null comparison",
			cmd:  From("Book", "b").Select(C("Title")).Where(Eq(C("Isbn"), V(nil)), Ne(C("Discount"), Null)).Command(),
			sql:  `SELECT "b"."title" FROM "books" AS "b" WHERE "b"."isbn" IS NULL AND "b"."discount" IS NOT NULL`,
		},
		{
			name: "logic grouping",
			cmd: From("BookReview", "r").Select(C("Caption")).
				Where(Not(Or(Lt(C("Rating"), Lit(2)), Gt(C("Rating"), Lit(4))))).
				Command(),
			sql: `SELECT "r"."caption" FROM "book_reviews" AS "r" WHERE NOT ("r"."rating" < 2 OR "r"."rating" > 4)`,
		},
		{
			name: "aggregates",
			cmd: From("BookReview", "r").
				Select(C("Book"), As(Avg(C("Rating")), "avg")).
				GroupBy(C("Book")).
				Having(Gt(CountAll(), V(int64(3)))).
				OrderBy(Desc(C("Book"))).
				Command(),
			sql: `SELECT "r"."book_id", AVG("r"."rating") AS "avg" FROM "book_reviews" AS "r" ` +
				`GROUP BY "r"."book_id" HAVING COUNT(*) > ? ORDER BY "r"."book_id" DESC`,
			args: []any{int64(3)},
		},
		{
			name: "limit",
			cmd:  From("Book", "b").Select(C("Title")).OrderBy(C("Title")).Limit(10).Offset(20).ForUpdate().Command(),
			sql:  `SELECT "b"."title" FROM "books" AS "b" ORDER BY "b"."title" LIMIT ? OFFSET ?`,
			args: []any{int64(10), int64(20)},
		},
		{
			name: "correlated exists",
			cmd: From("Book", "b").Select(C("Title")).
				Where(Exists(From("BookReview", "r").Select(Lit(1)).Where(Eq(C("r.Book"), C("b.Id"))))).
				Command(),
			sql: `SELECT "b"."title" FROM "books" AS "b" WHERE EXISTS ` +
				`(SELECT 1 FROM "book_reviews" AS "r" WHERE "r"."book_id" = "b"."id")`,
		},
		{
			name: "sub-select local",
			cmd: From("Book", "b").Select(C("Title")).
				Where(In(C("Id"), V(From("BookReview", "r").Select(C("Book")).Where(Ge(C("Rating"), V(int32(4))))))).
				Command(),
			sql: `SELECT "b"."title" FROM "books" AS "b" WHERE "b"."id" IN ` +
				`(SELECT "r"."book_id" FROM "book_reviews" AS "r" WHERE "r"."rating" >= ?)`,
			args: []any{int32(4)},
		},
		{
			name: "raw filter",
			cmd:  From("BookReview", "r").Select(C("Caption")).Where(Raw("{0} % 2 = 0", C("Rating"))).Command(),
			sql:  `SELECT "r"."caption" FROM "book_reviews" AS "r" WHERE "r"."rating" % 2 = 0`,
		},
		{
			name: "generic function",
			cmd:  From("Author", "a").Select(Func("soundex", C("LastName"))).Command(),
			sql:  `SELECT SOUNDEX("a"."last_name") FROM "authors" AS "a"`,
		},
		{
			name: "concat flattened",
			cmd:  From("Author", "a").Select(Concat(C("FirstName"), Concat(Lit(" "), C("LastName")))).Command(),
			sql:  `SELECT "a"."first_name" || ' ' || "a"."last_name" FROM "authors" AS "a"`,
		},
		{
			name: "cast elided",
			cmd:  From("BookReview", "r").Select(Cast(C("Rating"), schema.TypeString)).Command(),
			sql:  `SELECT "r"."rating" FROM "book_reviews" AS "r"`,
		},
	}
	tr := translator(t, m, dialect.SQLite)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := bind(t, tr, tt.cmd)
			assert.Equal(t, tt.sql, query)
			if tt.args == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

func TestSelectEntity(t *testing.T) {
	m := library(t)
	tr := translator(t, m, dialect.SQLite)
	res, err := tr.Translate(From("Book", "b").Command())
	require.NoError(t, err)
	assert.Same(t, m.Entity("Book"), res.Entity)
	assert.Equal(t, m.Entity("Book").Columns(), res.Columns)
	assert.False(t, res.Scalar)
	assert.True(t, strings.HasPrefix(res.Statement.SQL, `SELECT "b".`), res.Statement.SQL)
	assert.Contains(t, res.Statement.SQL, `"b"."id"`)
	assert.Contains(t, res.Statement.SQL, `"b"."publisher_id"`)
	// Entity selects without ordering use the default order.
	assert.True(t, strings.HasSuffix(res.Statement.SQL, `FROM "books" AS "b" ORDER BY "b"."title"`), res.Statement.SQL)

	res, err = tr.Translate(From("Book", "b").Where(Gt(C("Price"), V("10"))).Count())
	require.NoError(t, err)
	assert.True(t, res.Scalar)
	assert.Nil(t, res.Columns)
	assert.Equal(t, `SELECT COUNT(*) FROM "books" AS "b" WHERE "b"."price" > ?`, res.Statement.SQL)
}

func TestDialects(t *testing.T) {
	m := library(t)
	cmd := func() *Command {
		return From("Author", "a").
			Select(Concat(C("FirstName"), Lit(" "), C("LastName")), Length(C("LastName"))).
			Where(Eq(C("FirstName"), V("Ann"))).
			Limit(5).
			ForUpdate().
			Command()
	}
	tests := []struct {
		dialect string
		sql     string
	}{
		{dialect.SQLite, `SELECT "a"."first_name" || ' ' || "a"."last_name", LENGTH("a"."last_name") FROM "authors" AS "a" WHERE "a"."first_name" = ? LIMIT ?`},
		{dialect.Postgres, `SELECT "a"."first_name" || ' ' || "a"."last_name", LENGTH("a"."last_name") FROM "authors" AS "a" WHERE "a"."first_name" = $1 LIMIT $2 FOR UPDATE`},
		{dialect.MySQL, "SELECT CONCAT(`a`.`first_name`, ' ', `a`.`last_name`), CHAR_LENGTH(`a`.`last_name`) FROM `authors` AS `a` WHERE `a`.`first_name` = ? LIMIT ? FOR UPDATE"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			query, args := bind(t, translator(t, m, tt.dialect), cmd())
			assert.Equal(t, tt.sql, query)
			assert.Equal(t, []any{"Ann", int64(5)}, args)
		})
	}
}

func TestConvert(t *testing.T) {
	m := library(t)
	cmd := From("Book", "b").Select(Cast(C("Price"), schema.TypeFloat64), Cast(C("Title"), schema.TypeString)).Command()
	tests := []struct {
		dialect string
		sql     string
	}{
		{dialect.SQLite, `SELECT "b"."price", "b"."title" FROM "books" AS "b"`},
		{dialect.Postgres, `SELECT CAST("b"."price" AS double precision), "b"."title" FROM "books" AS "b"`},
		{dialect.MySQL, "SELECT CAST(`b`.`price` AS DOUBLE), `b`.`title` FROM `books` AS `b`"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			query, _ := bind(t, translator(t, m, tt.dialect), cmd)
			assert.Equal(t, tt.sql, query)
		})
	}

	// Implicit integer widening needs no cast.
	query, _ := bind(t, translator(t, m, dialect.Postgres),
		From("BookReview", "r").Select(Cast(C("Rating"), schema.TypeInt64)).Command())
	assert.Equal(t, `SELECT "r"."rating" FROM "book_reviews" AS "r"`, query)
}

func TestLists(t *testing.T) {
	m := library(t)
	local := func() *Command {
		return From("BookReview", "r").Select(C("Caption")).Where(In(C("Rating"), V([]int32{1, 2}))).Command()
	}
	constant := From("BookReview", "r").Select(C("Caption")).Where(In(C("Rating"), ListOf([]int32{3, 4}))).Command()

	t.Run("literal", func(t *testing.T) {
		tr := translator(t, m, dialect.SQLite)
		query, args := bind(t, tr, local())
		assert.Equal(t, `SELECT "r"."caption" FROM "book_reviews" AS "r" WHERE "r"."rating" IN (1, 2)`, query)
		assert.Empty(t, args)

		// A longer list reuses the cached statement.
		cmd := From("BookReview", "r").Select(C("Caption")).Where(In(C("Rating"), V([]int32{1, 2, 5}))).Command()
		query, _ = bind(t, tr, cmd)
		assert.Contains(t, query, `IN (1, 2, 5)`)
	})
	t.Run("array", func(t *testing.T) {
		query, args := bind(t, translator(t, m, dialect.Postgres), local())
		assert.Equal(t, `SELECT "r"."caption" FROM "book_reviews" AS "r" WHERE "r"."rating" = ANY($1)`, query)
		require.Len(t, args, 1)
		assert.Equal(t, pq.Array([]int64{1, 2}), args[0])
	})
	t.Run("constant", func(t *testing.T) {
		for _, name := range []string{dialect.SQLite, dialect.Postgres} {
			query, args := bind(t, translator(t, m, name), constant)
			assert.Equal(t, `SELECT "r"."caption" FROM "book_reviews" AS "r" WHERE "r"."rating" IN (3, 4)`, query)
			assert.Empty(t, args)
		}
	})
}

func TestJoinOrder(t *testing.T) {
	m := library(t)
	tr := translator(t, m, dialect.SQLite)

	// The book join refers to the link join declared after it.
	cmd := From("Author", "a").
		Select(C("bk.Title")).
		Join("Book", "bk", Eq(C("bk.Id"), C("ba.Book"))).
		Join("BookAuthor", "ba", Eq(C("ba.Author"), C("a.Id"))).
		LeftJoin("Publisher", "p", Eq(C("p.Id"), C("bk.Publisher"))).
		Command()
	query, _ := bind(t, tr, cmd)
	assert.Equal(t, `SELECT "bk"."title" FROM "authors" AS "a" `+
		`INNER JOIN "book_authors" AS "ba" ON "ba"."author_id" = "a"."id" `+
		`INNER JOIN "books" AS "bk" ON "bk"."id" = "ba"."book_id" `+
		`LEFT JOIN "publishers" AS "p" ON "p"."id" = "bk"."publisher_id"`, query)

	cyclic := From("Author", "a").
		Join("Book", "x", Eq(C("x.Id"), C("y.Id"))).
		Join("Book", "y", Eq(C("y.Id"), C("x.Id"))).
		Command()
	_, err := tr.Translate(cyclic)
	assert.ErrorIs(t, err, ErrJoinOrder)
}

func TestSetCommands(t *testing.T) {
	m := library(t)
	tests := []struct {
		name string
		cmd  *Command
		sql  string
		args []any
	}{
		{
			name: "update",
			cmd:  From("Book").Where(Eq(C("Price"), V("0"))).Update(Set("Title", "Free"), Set("Discount", Null)),
			sql:  `UPDATE "books" SET "title" = ?, "discount" = NULL WHERE "books"."price" = ?`,
			args: []any{"Free", "0"},
		},
		{
			name: "update reference",
			cmd:  From("BookReview").Where(Eq(C("Book"), V("k1"))).Update(Set("User", int64(7))),
			sql:  `UPDATE "book_reviews" SET "user_id" = ? WHERE "book_reviews"."book_id" = ?`,
			args: []any{int64(7), "k1"},
		},
		{
			name: "delete",
			cmd:  From("AuditEntry").Where(Like(C("Message"), V("tmp%"))).Delete(),
			sql:  `DELETE FROM "audit_entries" WHERE "audit_entries"."message" LIKE ?`,
			args: []any{"tmp%"},
		},
		{
			name: "delete with sub-select",
			cmd: From("BookReview").
				Where(In(C("User"), V(From("User", "u").Select(C("Id")).Where(Eq(C("u.UserName"), V("spam")))))).
				Delete(),
			sql: `DELETE FROM "book_reviews" WHERE "book_reviews"."user_id" IN ` +
				`(SELECT "u"."id" FROM "users" AS "u" WHERE "u"."user_name" = ?)`,
			args: []any{"spam"},
		},
	}
	tr := translator(t, m, dialect.SQLite)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := bind(t, tr, tt.cmd)
			assert.Equal(t, tt.sql, query)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestTranslateErrors(t *testing.T) {
	m := library(t)
	tests := []struct {
		name string
		cmd  *Command
		want string
	}{
		{"unknown entity", From("Nope").Command(), `unknown entity "Nope"`},
		{"unknown member", From("Book").Select(C("Nope")).Command(), "unknown member Book.Nope"},
		{"unknown alias", From("Book").Select(Col("z", "Title")).Command(), `unknown alias "z"`},
		{"list member", From("Book").Select(C("Authors")).Command(), "not stored in a column"},
		{"not a reference", From("Book").Select(C("Title.Length")).Command(), "not a reference"},
		{"navigation in update", From("Book").Where(Eq(C("Publisher.Name"), V("x"))).Update(Set("Title", "y")), "cannot navigate"},
		{"join in delete", From("Book").Join("Publisher", "p", Eq(C("p.Id"), C("Publisher"))).Delete(), "cannot join"},
		{"update key", From("Book").Update(Set("Id", "x")), "cannot be updated"},
		{"empty update", From("Book").Update(), "without assignments"},
		{"offset without limit", From("Book").Offset(3).Command(), "offset requires a limit"},
		{"missing template", From("Book").Select(Call{Op: dialect.OpInArray, Args: []Expr{C("Id"), ListOf([]string{"a"})}}).Command(), "no template for"},
		{"duplicate alias", From("Book", "b").Join("Publisher", "b", Eq(C("b.Id"), C("b.Id"))).Command(), "not unique"},
	}
	tr := translator(t, m, dialect.SQLite)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Translate(tt.cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestShapeKey(t *testing.T) {
	a := From("Book", "b").Where(Eq(C("Title"), V("Dune")), Gt(C("Price"), V("5"))).Command()
	b := From("Book", "b").Where(Eq(C("Title"), V("Emma")), Gt(C("Price"), V("9"))).Command()
	c := From("Book", "b").Where(Eq(C("Title"), Lit("Dune")), Gt(C("Price"), V("5"))).Command()

	assert.Equal(t, a.ShapeKey(), b.ShapeKey())
	assert.NotEqual(t, a.ShapeKey(), c.ShapeKey())
	assert.Equal(t, []any{"Dune", "5"}, a.Args())
	assert.Equal(t, []any{"Emma", "9"}, b.Args())
	assert.Equal(t, []any{"5"}, c.Args())

	nested := From("Book", "b").Where(In(C("Id"), V(From("BookReview", "r").Select(C("Book"))))).Command()
	assert.Equal(t, []string{"Book", "BookReview"}, nested.Entities())

	anyList := func(vs ...any) *Command {
		return From("Book", "b").Where(In(C("Title"), V(vs))).Command()
	}
	assert.Equal(t, anyList("a").ShapeKey(), anyList("b", "c").ShapeKey())
	assert.NotEqual(t, anyList("a").ShapeKey(), anyList(int32(1)).ShapeKey())
}

func TestScalarArrayParam(t *testing.T) {
	m := library(t)
	tr := translator(t, m, dialect.SQLite)
	byID := func(id uuid.UUID) *Command {
		return From("Book", "b").Select(C("Title")).Where(Eq(C("Id"), V(id))).Command()
	}
	a, b := byID(uuid.New()), byID(uuid.New())
	assert.Equal(t, a.ShapeKey(), b.ShapeKey())

	query, args := bind(t, tr, a)
	assert.Equal(t, `SELECT "b"."title" FROM "books" AS "b" WHERE "b"."id" = ?`, query)
	assert.Len(t, args, 1)
	query, args = bind(t, tr, b)
	assert.Equal(t, `SELECT "b"."title" FROM "books" AS "b" WHERE "b"."id" = ?`, query)
	assert.Len(t, args, 1)
}

func TestAnyListArray(t *testing.T) {
	m := library(t)
	tr := translator(t, m, dialect.Postgres)
	cmd := func(vs ...any) *Command {
		return From("BookReview", "r").Select(C("Caption")).Where(In(C("Caption"), V(vs))).Command()
	}
	s1, err := tr.Translate(cmd("a", "b"))
	require.NoError(t, err)
	s2, err := tr.Translate(cmd(int32(1)))
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	s3, err := tr.Translate(cmd("c"))
	require.NoError(t, err)
	assert.Same(t, s1, s3)
}

func TestStatementCache(t *testing.T) {
	m := library(t)
	d, err := dialect.Get(dialect.Postgres)
	require.NoError(t, err)
	cache := NewCache(0)
	tr := NewTranslator(m, d, WithCache(cache))

	var g errgroup.Group
	results := make([]*Translation, 32)
	for i := range results {
		g.Go(func() error {
			cmd := From("Book", "b").Select(C("Title")).Where(Eq(C("Title"), V(fmt.Sprint("t", i)))).Command()
			res, err := tr.Translate(cmd)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, cache.Len())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}

	// Commands opting out are never cached.
	_, err = tr.Translate(From("Book", "b").NoCache().Command())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	cache.Clear()
	assert.Zero(t, cache.Len())
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(2)
	for _, k := range []string{"a", "b", "c"} {
		_, err := c.LoadOrBuild(k, func() (any, error) { return k, nil })
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Load("a")
	assert.False(t, ok)
	v, ok := c.Load("c")
	assert.True(t, ok)
	assert.Equal(t, "c", v)

	boom := errors.New("boom")
	_, err := c.LoadOrBuild("d", func() (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	_, ok = c.Load("d")
	assert.False(t, ok)
}

func BenchmarkTranslateCached(b *testing.B) {
	m := library(b)
	tr := translator(b, m, dialect.Postgres)
	for i := 0; i < b.N; i++ {
		cmd := From("Book", "b").Select(C("Title")).Where(Eq(C("Publisher.Name"), V("Ace"))).Command()
		if _, err := tr.Translate(cmd); err != nil {
			b.Fatal(err)
		}
	}
}
