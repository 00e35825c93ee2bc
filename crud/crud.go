// Package crud builds the single-record and batch statements a session
// submits for changed records.
//
// Insert-one, delete-one and delete-many statements depend only on the
// entity and are cached. Update-one statements depend on the set of
// changed columns and insert-many statements embed their values as
// literals, so neither is cached.
package crud

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/vela"
	"github.com/syssam/vela/dialect"
	dsql "github.com/syssam/vela/dialect/sql"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/query"
)

// ErrNothingToUpdate is returned by UpdateOne when no updatable column
// changed.
var ErrNothingToUpdate = errors.New("crud: no updatable column changed")

// Builder builds CRUD statements for one dialect.
type Builder struct {
	dialect dialect.Dialect
	cache   vela.StatementCache
}

// Option configures a Builder.
type Option func(*Builder)

// WithCache sets the cache of reusable statements.
func WithCache(c vela.StatementCache) Option {
	return func(b *Builder) { b.cache = c }
}

// New returns a builder for d with a private statement cache.
func New(d dialect.Dialect, opts ...Option) *Builder {
	b := &Builder{dialect: d, cache: query.NewCache(0)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dialect returns the builder dialect.
func (b *Builder) Dialect() dialect.Dialect { return b.dialect }

func (b *Builder) cached(e *model.Entity, op string, build func() (*dsql.Statement, error)) (*dsql.Statement, error) {
	key := fmt.Sprintf("%p|%s|%s", e, b.dialect.Name(), op)
	v, err := b.cache.LoadOrBuild(key, func() (any, error) { return build() })
	if err != nil {
		return nil, err
	}
	return v.(*dsql.Statement), nil
}

// InsertColumns returns the columns written by an insert.
func InsertColumns(e *model.Entity) []*model.Member {
	var cols []*model.Member
	for _, m := range e.Columns() {
		if !m.Has(model.NoDbInsert) {
			cols = append(cols, m)
		}
	}
	return cols
}

// Returning reports whether inserts into e read the generated identity
// back through a RETURNING clause.
func (b *Builder) Returning(e *model.Entity) bool {
	return e.IdentityMember != nil && b.dialect.Returning()
}

// InsertOne returns the insert of one record. Values bind from the record
// columns.
func (b *Builder) InsertOne(e *model.Entity) (*dsql.Statement, error) {
	return b.cached(e, "insert", func() (*dsql.Statement, error) {
		cols := InsertColumns(e)
		names := make([]dsql.Fragment, len(cols))
		values := make([]dsql.Fragment, len(cols))
		for i, m := range cols {
			names[i] = dsql.Ident(m.Column)
			values[i] = dsql.Column(m, false)
		}
		return b.render(e, dsql.Join(
			b.insertInto(e, names),
			dsql.Text(" VALUES "), dsql.Paren(dsql.List(", ", values...)),
			b.returning(e),
		))
	})
}

// InsertMany returns one insert of all records with their values rendered
// as literals.
func (b *Builder) InsertMany(e *model.Entity, recs []dsql.ColumnSource) (*dsql.Statement, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("crud: insert many %s: no records", e.Name)
	}
	cols := InsertColumns(e)
	names := make([]dsql.Fragment, len(cols))
	for i, m := range cols {
		names[i] = dsql.Ident(m.Column)
	}
	rows := make([]dsql.Fragment, len(recs))
	for i, rec := range recs {
		values := make([]dsql.Fragment, len(cols))
		for j, m := range cols {
			values[j] = dsql.Lit(rec.ColumnValue(m, false), m.DataType)
		}
		rows[i] = dsql.Paren(dsql.List(", ", values...))
	}
	return b.render(e, dsql.Join(
		b.insertInto(e, names),
		dsql.Text(" VALUES "), dsql.List(",\n  ", rows...),
	))
}

// UpdateColumns filters changed down to the columns an update may write.
func UpdateColumns(e *model.Entity, changed []*model.Member) []*model.Member {
	var cols []*model.Member
	for _, m := range changed {
		if m.Entity == e && m.Kind == model.MemberColumn && !m.Has(model.NoDbUpdate) {
			cols = append(cols, m)
		}
	}
	return cols
}

// UpdateOne returns the update of the changed columns of one record. The
// WHERE clause matches the original key and row version.
func (b *Builder) UpdateOne(e *model.Entity, changed []*model.Member) (*dsql.Statement, error) {
	cols := UpdateColumns(e, changed)
	if len(cols) == 0 {
		return nil, fmt.Errorf("crud: update %s: %w", e.Name, ErrNothingToUpdate)
	}
	sets := make([]dsql.Fragment, len(cols))
	for i, m := range cols {
		sets[i] = dsql.Join(dsql.Ident(m.Column), dsql.Text(" = "), dsql.Column(m, false))
	}
	where, err := whereOne(e)
	if err != nil {
		return nil, err
	}
	return b.render(e, dsql.Join(
		dsql.Text("UPDATE "), dsql.Ident(e.Table),
		dsql.Text(" SET "), dsql.List(", ", sets...),
		dsql.Text(" WHERE "), where,
	))
}

// DeleteOne returns the delete of one record.
func (b *Builder) DeleteOne(e *model.Entity) (*dsql.Statement, error) {
	return b.cached(e, "delete", func() (*dsql.Statement, error) {
		where, err := whereOne(e)
		if err != nil {
			return nil, err
		}
		return b.render(e, dsql.Join(dsql.Text("DELETE FROM "), dsql.Ident(e.Table), dsql.Text(" WHERE "), where))
	})
}

// CanDeleteMany reports whether records of e can be deleted with one
// statement: the primary key is a single column and there is no row
// version to check.
func CanDeleteMany(e *model.Entity) bool {
	return e.PrimaryKey != nil && len(e.PrimaryKey.Columns) == 1 && !e.Has(model.HasRowVersion)
}

// DeleteMany returns the delete of records by a list of primary key
// values. The list is the first external argument.
func (b *Builder) DeleteMany(e *model.Entity) (*dsql.Statement, error) {
	if !CanDeleteMany(e) {
		return nil, fmt.Errorf("crud: delete many %s: requires a single column key and no row version", e.Name)
	}
	return b.cached(e, "delete_many", func() (*dsql.Statement, error) {
		pk := e.PrimaryKey.Columns[0].Member
		op := dialect.OpIn
		if b.dialect.Template(dialect.OpInArray) != nil {
			op = dialect.OpInArray
		}
		return b.render(e, dsql.Join(
			dsql.Text("DELETE FROM "), dsql.Ident(e.Table), dsql.Text(" WHERE "),
			dsql.Apply(op, dsql.Ident(pk.Column), dsql.ListArg(0, pk.DataType)),
		))
	})
}

// whereOne matches one row by its original key, plus the original row
// version when the entity has one.
func whereOne(e *model.Entity) (dsql.Fragment, error) {
	if e.PrimaryKey == nil {
		return nil, fmt.Errorf("crud: %s has no primary key", e.Name)
	}
	cols := make([]*model.Member, 0, len(e.PrimaryKey.Columns)+1)
	for _, km := range e.PrimaryKey.Columns {
		cols = append(cols, km.Member)
	}
	if e.RowVersion != nil {
		cols = append(cols, e.RowVersion)
	}
	conds := make([]dsql.Fragment, len(cols))
	for i, m := range cols {
		conds[i] = dsql.Apply(dialect.OpEq, dsql.Ident(m.Column), dsql.Column(m, true))
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return dsql.Apply(dialect.OpAnd, conds...), nil
}

func (b *Builder) insertInto(e *model.Entity, names []dsql.Fragment) dsql.Fragment {
	return dsql.Join(
		dsql.Text("INSERT INTO "), dsql.Ident(e.Table),
		dsql.Text(" "), dsql.Paren(dsql.List(", ", names...)),
	)
}

func (b *Builder) returning(e *model.Entity) dsql.Fragment {
	if !b.Returning(e) {
		return nil
	}
	return dsql.Join(dsql.Text(" RETURNING "), dsql.Ident(e.IdentityMember.Column))
}

func (b *Builder) render(e *model.Entity, f dsql.Fragment) (*dsql.Statement, error) {
	st, err := dsql.Render(f, b.dialect)
	if err != nil {
		return nil, fmt.Errorf("crud: %s: %w", strings.ToLower(e.Name), err)
	}
	return st, nil
}
