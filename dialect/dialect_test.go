package dialect_test

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/vela/dialect"
	"github.com/syssam/vela/schema"
)

func TestTemplateExpand(t *testing.T) {
	tests := []struct {
		name   string
		tmpl   *dialect.Template
		n      int
		want   []dialect.Part
		errMsg string
	}{
		{
			name: "fixed",
			tmpl: dialect.NewTemplate("{0} = {1}"),
			n:    2,
			want: []dialect.Part{{Arg: 0}, {Text: " = ", Arg: -1}, {Arg: 1}},
		},
		{
			name: "reordered",
			tmpl: dialect.NewTemplate("POSITION({1} IN {0})"),
			n:    2,
			want: []dialect.Part{{Text: "POSITION(", Arg: -1}, {Arg: 1}, {Text: " IN ", Arg: -1}, {Arg: 0}, {Text: ")", Arg: -1}},
		},
		{
			name: "variadic",
			tmpl: dialect.NewVariadic("COALESCE({*})", ", "),
			n:    3,
			want: []dialect.Part{
				{Text: "COALESCE(", Arg: -1}, {Arg: 0}, {Text: ", ", Arg: -1}, {Arg: 1},
				{Text: ", ", Arg: -1}, {Arg: 2}, {Text: ")", Arg: -1},
			},
		},
		{
			name:   "arity mismatch",
			tmpl:   dialect.NewTemplate("NOT {0}"),
			n:      2,
			errMsg: "takes 1 arguments, got 2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, err := tt.tmpl.Expand(tt.n)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, parts)
		})
	}
}

func TestParseTemplateErrors(t *testing.T) {
	for _, f := range []string{"{0", "{x}", "{0} {*}"} {
		_, err := dialect.ParseTemplate(f, ", ")
		assert.Error(t, err, f)
	}
	assert.Panics(t, func() { dialect.NewTemplate("{") })
}

func TestGet(t *testing.T) {
	for _, name := range []string{"sqlite", "sqlite3", "postgres", "mysql"} {
		d, err := dialect.Get(name)
		require.NoError(t, err, name)
		assert.NotNil(t, d)
	}
	_, err := dialect.Get("oracle")
	assert.Error(t, err)
	assert.Equal(t, []string{"mysql", "postgres", "sqlite"}, dialect.Names())
}

func TestLiteral(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	at := time.Date(2024, 3, 9, 8, 7, 6, 0, time.UTC)
	type color int
	tests := []struct {
		dialect string
		v       any
		t       schema.DataType
		want    string
	}{
		{dialect.SQLite, nil, schema.TypeString, "NULL"},
		{dialect.SQLite, true, schema.TypeBool, "1"},
		{dialect.Postgres, true, schema.TypeBool, "TRUE"},
		{dialect.Postgres, int64(42), schema.TypeInt64, "42"},
		{dialect.Postgres, 42, schema.DataType{}, "42"},
		{dialect.Postgres, 1.5, schema.TypeFloat64, "1.5"},
		{dialect.Postgres, "10.25", schema.TypeDecimal, "10.25"},
		{dialect.Postgres, "O'Brien", schema.TypeString, "'O''Brien'"},
		{dialect.MySQL, `a\b`, schema.TypeString, `'a\\b'`},
		{dialect.SQLite, []byte{0xca, 0xfe}, schema.TypeBytes, "X'cafe'"},
		{dialect.Postgres, []byte{0xca, 0xfe}, schema.TypeBytes, `'\xcafe'`},
		{dialect.Postgres, id, schema.TypeUUID, "'6ba7b810-9dad-11d1-80b4-00c04fd430c8'"},
		{dialect.MySQL, at, schema.TypeTime, "'2024-03-09 08:07:06'"},
		{dialect.Postgres, color(3), schema.TypeInt32, "3"},
	}
	for _, tt := range tests {
		d, err := dialect.Get(tt.dialect)
		require.NoError(t, err)
		got, err := d.Literal(tt.v, tt.t)
		require.NoError(t, err, "%s %v", tt.dialect, tt.v)
		assert.Equal(t, tt.want, got, "%s %v", tt.dialect, tt.v)
	}

	d, _ := dialect.Get(dialect.Postgres)
	_, err := d.Literal("1; DROP TABLE x", schema.TypeDecimal)
	assert.Error(t, err)
	_, err = d.Literal(struct{}{}, schema.DataType{})
	assert.Error(t, err)
}

func TestLists(t *testing.T) {
	sqlite, _ := dialect.Get(dialect.SQLite)
	pg, _ := dialect.Get(dialect.Postgres)

	lit, err := sqlite.ListLiteral([]int64{1, 2, 3}, schema.TypeInt64)
	require.NoError(t, err)
	assert.Equal(t, "(1, 2, 3)", lit)

	lit, err = sqlite.ListLiteral([]any{}, schema.TypeInt64)
	require.NoError(t, err)
	assert.Equal(t, "(NULL)", lit)

	_, err = sqlite.ListParam([]int64{1}, schema.TypeInt64)
	assert.ErrorIs(t, err, dialect.ErrArrayParams)
	assert.False(t, sqlite.SupportsArrayParams())

	p, err := pg.ListParam([]int32{1, 2}, schema.TypeInt32)
	require.NoError(t, err)
	v, err := p.(driver.Valuer).Value()
	require.NoError(t, err)
	assert.Equal(t, "{1,2}", v)

	ids := []uuid.UUID{uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")}
	p, err = pg.ListParam(ids, schema.TypeUUID)
	require.NoError(t, err)
	v, err = p.(driver.Valuer).Value()
	require.NoError(t, err)
	assert.Equal(t, `{"6ba7b810-9dad-11d1-80b4-00c04fd430c8"}`, v)

	_, err = pg.ListParam(7, schema.TypeInt64)
	assert.Error(t, err)
}

func TestPlaceholdersAndQuoting(t *testing.T) {
	sqlite, _ := dialect.Get(dialect.SQLite)
	pg, _ := dialect.Get(dialect.Postgres)
	my, _ := dialect.Get(dialect.MySQL)
	assert.Equal(t, "?", sqlite.Placeholder(3))
	assert.Equal(t, "$4", pg.Placeholder(3))
	assert.Equal(t, `"book"`, pg.Quote("book"))
	assert.Equal(t, "`order`", my.Quote("order"))
	assert.Equal(t, `"a""b"`, sqlite.Quote(`a"b`))
}

func TestConversionRequired(t *testing.T) {
	sqlite, _ := dialect.Get(dialect.SQLite)
	pg, _ := dialect.Get(dialect.Postgres)
	my, _ := dialect.Get(dialect.MySQL)
	assert.False(t, sqlite.ConversionRequired(schema.TypeString, schema.TypeInt64))
	assert.True(t, pg.ConversionRequired(schema.TypeString, schema.TypeInt64))
	assert.False(t, pg.ConversionRequired(schema.TypeInt32, schema.TypeInt64))
	assert.False(t, my.ConversionRequired(schema.TypeUUID, schema.TypeString))
	assert.False(t, pg.ConversionRequired(schema.TypeTime, schema.TypeTime))
}

func TestTemplatesPerDialect(t *testing.T) {
	pg, _ := dialect.Get(dialect.Postgres)
	my, _ := dialect.Get(dialect.MySQL)
	sqlite, _ := dialect.Get(dialect.SQLite)
	assert.Equal(t, "CONCAT({*})", my.Template(dialect.OpConcat).Format)
	assert.Equal(t, "{*}", pg.Template(dialect.OpConcat).Format)
	assert.NotNil(t, pg.Template(dialect.OpInArray))
	assert.Nil(t, sqlite.Template(dialect.OpInArray))
	assert.Nil(t, sqlite.Template(dialect.OpLock))
	assert.True(t, dialect.OpCount.IsAggregate())
	assert.False(t, dialect.OpUpper.IsAggregate())
	assert.Equal(t, "count_all", dialect.OpCountAll.String())
}
