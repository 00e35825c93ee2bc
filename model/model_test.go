package model_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/syssam/vela"
	"github.com/syssam/vela/internal/fixture"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/schema"
	"github.com/syssam/vela/schema/mixin"
)

func buildLibrary(t *testing.T, opts ...model.Option) *model.Model {
	t.Helper()
	m, log, err := model.Build(fixture.Library(), opts...)
	require.NoError(t, err, "%v", log.Entries)
	return m
}

func memberNames(ms []*model.Member) []string {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Name
	}
	return names
}

func TestBuildLibrary(t *testing.T) {
	m := buildLibrary(t, model.WithLogger(zap.NewNop()))

	t.Run("tables", func(t *testing.T) {
		assert.Equal(t, "books", m.Entity("Book").Table)
		assert.Equal(t, "book_authors", m.Entity("BookAuthor").Table)
		assert.Equal(t, "audit_entries", m.Entity("AuditEntry").Table)
		assert.Nil(t, m.Entity("Missing"))
	})

	t.Run("composite key of references", func(t *testing.T) {
		ba := m.Entity("BookAuthor")
		assert.Equal(t, []string{"Book", "Book_Id", "Author", "Author_Id"}, memberNames(ba.Members))
		require.NotNil(t, ba.PrimaryKey)
		assert.Equal(t, "pk_book_authors", ba.PrimaryKey.Name)
		var cols []string
		for _, c := range ba.PrimaryKey.Columns {
			cols = append(cols, c.Member.Column)
		}
		assert.Equal(t, []string{"book_id", "author_id"}, cols)

		fk := ba.Member("Book_Id")
		assert.True(t, fk.Has(model.ForeignKey|model.PrimaryKey))
		assert.Equal(t, schema.KindUUID, fk.DataType.Kind)
		assert.Same(t, m.Entity("Book").Member("Id"), fk.RefTarget)

		ref := ba.Member("Book")
		require.NotNil(t, ref.Ref)
		assert.True(t, ref.Ref.Cascade)
		assert.Equal(t, "fk_book_authors_book", ref.Ref.FromKey.Name)
		assert.Same(t, m.Entity("Book").PrimaryKey, ref.Ref.ToKey)
		assert.False(t, ba.Member("Author").Ref.Cascade)
		assert.True(t, ba.Has(model.NoUpdate))
	})

	t.Run("sizes and defaults", func(t *testing.T) {
		book := m.Entity("Book")
		assert.Equal(t, 120, book.Member("Title").Size)
		assert.Equal(t, -1, m.Entity("Author").Member("Bio").Size)
		assert.Equal(t, []int{10, 2}, []int{book.Member("Price").Precision, book.Member("Price").Scale})
		assert.Equal(t, []int{18, 4}, []int{book.Member("Discount").Precision, book.Member("Discount").Scale})
		assert.Equal(t, "", book.Member("Title").Default)
		assert.Nil(t, book.Member("Isbn").Default)
		assert.Nil(t, book.Member("Publisher_Id").Default)
		assert.Nil(t, m.Entity("BookAuthor").Member("Book_Id").Default)
	})

	t.Run("flags", func(t *testing.T) {
		book := m.Entity("Book")
		assert.True(t, book.Has(model.HasRowVersion))
		assert.Same(t, book.Member("Version"), book.RowVersion)
		assert.True(t, book.Has(model.CascadeRelevant))
		assert.True(t, book.Member("CreatedOn").Has(model.AutoValue|model.NoDbUpdate|model.Utc))
		assert.True(t, book.Member("Id").Has(model.PrimaryKey|model.NoDbUpdate))

		user := m.Entity("User")
		assert.True(t, user.Has(model.HasIdentity))
		assert.True(t, user.Member("Id").Has(model.Identity|model.NoDbInsert))
		assert.Equal(t, model.MemberTransient, user.Member("DisplayName").Kind)
		assert.True(t, m.Entity("BookReview").Has(model.ReferencesIdentity))
		assert.True(t, m.Entity("AuditEntry").Has(model.DiscardOnAbort))
		assert.Len(t, m.Entity("BookReview").Validators, 1)
	})

	t.Run("keys", func(t *testing.T) {
		var names []string
		for _, k := range m.Entity("Book").Keys {
			names = append(names, k.Name)
		}
		assert.Equal(t, []string{"pk_books", "fk_books_publisher", "uq_books_isbn"}, names)
		author := m.Entity("Author")
		assert.Equal(t, "ix_authors_last_name_first_name", author.Keys[1].Name)
	})

	t.Run("incoming refs and lists", func(t *testing.T) {
		book := m.Entity("Book")
		var incoming []string
		for _, r := range book.IncomingRefs {
			incoming = append(incoming, r.String())
		}
		assert.Equal(t, []string{"BookAuthor.Book", "BookReview.Book"}, incoming)

		books := m.Entity("Publisher").Member("Books")
		require.NotNil(t, books.List)
		assert.Equal(t, model.OneToMany, books.List.Relation)
		assert.Same(t, book.Member("Publisher"), books.List.ParentRef)

		authors := book.Member("Authors")
		require.NotNil(t, authors.List)
		assert.Equal(t, model.ManyToMany, authors.List.Relation)
		assert.Same(t, m.Entity("BookAuthor"), authors.List.Link)
		assert.Same(t, m.Entity("BookAuthor").Member("Book"), authors.List.ParentRef)
		assert.Same(t, m.Entity("BookAuthor").Member("Author"), authors.List.OtherRef)

		require.Len(t, book.DefaultOrder, 1)
		assert.Same(t, book.Member("Title"), book.DefaultOrder[0].Member)
	})
}

// The finished model must not depend on the processor application order.
func TestBuildOrderIndependence(t *testing.T) {
	want, err := buildLibrary(t).Snapshot()
	require.NoError(t, err)
	for seed := int64(1); seed <= 25; seed++ {
		got, err := buildLibrary(t, model.WithRandomizedOrder(seed)).Snapshot()
		require.NoError(t, err)
		assert.Equal(t, want, got, "seed %d", seed)
	}
}

func TestYAMLMatchesFluent(t *testing.T) {
	decls, err := schema.LoadYAML(strings.NewReader(fixture.CoreYAML))
	require.NoError(t, err)
	fromYAML, _, err := model.Build(decls)
	require.NoError(t, err)
	fluent, _, err := model.Build(fixture.Core())
	require.NoError(t, err)

	a, err := fromYAML.Snapshot()
	require.NoError(t, err)
	b, err := fluent.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestTopologicalOrder(t *testing.T) {
	m := buildLibrary(t)
	idx := func(name string) int { return m.Entity(name).TopologicalIndex }

	// Plain references: referenced entities first.
	assert.Less(t, idx("Publisher"), idx("Book"))
	assert.Less(t, idx("Book"), idx("BookAuthor"))
	assert.Less(t, idx("Author"), idx("BookAuthor"))
	assert.Less(t, idx("User"), idx("BookReview"))

	// BookAuthor cascades from Book and plainly references Author: deleting
	// Book and Author together is only safe when Author is deleted after
	// Book, so Author must sort before Book. The same holds for User via
	// BookReview.
	assert.Less(t, idx("Author"), idx("Book"))
	assert.Less(t, idx("User"), idx("Book"))

	order := m.TopologicalOrder()
	require.Len(t, order, 7)
	for i := 1; i < len(order); i++ {
		assert.LessOrEqual(t, order[i-1].TopologicalIndex, order[i].TopologicalIndex)
	}
}

// M cascades from L, L cascades from X and M plainly references Y. Deleting
// X removes L and then M rows, so Y must be deleted after X even though no
// reference connects them.
func TestDeepCascadeChain(t *testing.T) {
	decls := []*schema.EntityDecl{
		schema.Entity("X").Mixin(mixin.ID{}),
		schema.Entity("Y").Mixin(mixin.ID{}),
		schema.Entity("L").Mixin(mixin.ID{}).Fields(
			schema.Field("X", schema.EntityType("X"), schema.CascadeDelete()),
		),
		schema.Entity("M").Mixin(mixin.ID{}).Fields(
			schema.Field("L", schema.EntityType("L"), schema.CascadeDelete()),
			schema.Field("Y", schema.EntityType("Y")),
		),
	}
	m, log, err := model.Build(decls)
	require.NoError(t, err, "%v", log.Entries)
	idx := func(name string) int { return m.Entity(name).TopologicalIndex }

	assert.Less(t, idx("X"), idx("L"))
	assert.Less(t, idx("L"), idx("M"))
	assert.Less(t, idx("Y"), idx("L"), "shallow rule: L is a direct cascade target of M")
	assert.Less(t, idx("Y"), idx("X"), "deep rule: X reaches M through a cascade chain")
	assert.Equal(t, []string{"Y", "X", "L", "M"}, memberNamesOf(m.TopologicalOrder()))
}

func memberNamesOf(es []*model.Entity) []string {
	names := make([]string, len(es))
	for i, e := range es {
		names[i] = e.Name
	}
	return names
}

func TestReferenceCycle(t *testing.T) {
	decls := []*schema.EntityDecl{
		schema.Entity("Employee").Mixin(mixin.ID{}).Fields(
			schema.Field("Department", schema.EntityType("Department"), schema.Nullable()),
			schema.Field("Manager", schema.EntityType("Employee"), schema.Nullable()),
		),
		schema.Entity("Department").Mixin(mixin.ID{}).Fields(
			schema.Field("Head", schema.EntityType("Employee"), schema.Nullable()),
		),
	}
	m, _, err := model.Build(decls)
	require.NoError(t, err)
	emp, dept := m.Entity("Employee"), m.Entity("Department")
	assert.Equal(t, emp.TopologicalIndex, dept.TopologicalIndex)
	assert.True(t, emp.Has(model.NonTrivialGroup))
	assert.True(t, emp.Member("Department_Id").Has(model.Nullable))
}

type colorAttr struct{}

func (colorAttr) Name() string             { return "color" }
func (colorAttr) Order() schema.ApplyOrder { return schema.OrderDefault }

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		decls []*schema.EntityDecl
		want  []string
		skip  string
	}{
		{
			name: "missing primary key stops the pipeline",
			decls: []*schema.EntityDecl{
				schema.Entity("Book").Fields(schema.Field("Title", schema.TypeString, schema.Size(-1))),
			},
			want: []string{"Book: primary key not specified"},
			skip: "invalid size",
		},
		{
			name: "invalid collection type",
			decls: []*schema.EntityDecl{
				schema.Entity("Book").Mixin(mixin.ID{}).Fields(
					schema.Field("Tags", schema.MapType(schema.TypeString, schema.TypeString)),
					schema.Field("Scores", schema.ListType(schema.TypeInt32)),
				),
			},
			want: []string{"Book.Tags: invalid member type map<string,string>", "Book.Scores: invalid member type list<int32>"},
		},
		{
			name: "unknown entity type",
			decls: []*schema.EntityDecl{
				schema.Entity("Book").Mixin(mixin.ID{}).Fields(schema.Field("Owner", schema.EntityType("Person"))),
			},
			want: []string{"Book.Owner: unknown entity type Person"},
		},
		{
			name: "processor errors are all collected",
			decls: []*schema.EntityDecl{
				schema.Entity("Book").Mixin(mixin.ID{}).
					Fields(
						schema.Field("Title", schema.TypeString, schema.Utc()),
						schema.Field("Code", schema.TypeInt32, schema.HashFor("Number")),
						schema.Field("Number", schema.TypeInt64),
					),
			},
			want: []string{"Book.Title: utc: not valid on type string", "Book.Code: hash_for: hash source \"Number\" must be a string member"},
		},
		{
			name: "more than one clustered key",
			decls: []*schema.EntityDecl{
				schema.Entity("Book").Mixin(mixin.ID{}).
					Attrs(schema.ClusteredIndex("Title"), schema.ClusteredIndex("Code")).
					Fields(schema.Field("Title", schema.TypeString), schema.Field("Code", schema.TypeInt32)),
			},
			want: []string{"Book: more than one clustered key"},
		},
		{
			name: "unregistered attribute",
			decls: []*schema.EntityDecl{
				schema.Entity("Book").Mixin(mixin.ID{}).Fields(schema.Field("Title", schema.TypeString, colorAttr{})),
			},
			want: []string{`Book.Title: no processor registered for attribute "color"`},
		},
		{
			name: "unknown key member",
			decls: []*schema.EntityDecl{
				schema.Entity("Book").Mixin(mixin.ID{}).Attrs(schema.Index("Titel")),
			},
			want: []string{`Book: index: unknown key member "Titel"`},
		},
		{
			name: "view output mismatch",
			decls: []*schema.EntityDecl{
				schema.View("BookInfo", "title").Fields(
					schema.Field("Title", schema.TypeString),
					schema.Field("Pages", schema.TypeInt32),
				),
			},
			want: []string{"BookInfo: view does not output member Pages"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, log, err := model.Build(tt.decls)
			require.Error(t, err)
			assert.Nil(t, m)
			assert.True(t, errors.Is(err, vela.ErrInvalidModel))
			var merr *vela.ModelError
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, log.Errors(), merr.Entries)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
			if tt.skip != "" {
				assert.NotContains(t, err.Error(), tt.skip)
			}
		})
	}
}

func TestDefaultStringSize(t *testing.T) {
	m, _, err := model.Build([]*schema.EntityDecl{
		schema.Entity("Tag").Mixin(mixin.ID{}).Fields(
			schema.Field("Label", schema.TypeString),
			schema.Field("Blob", schema.TypeBytes),
			schema.Field("Thumb", schema.TypeBytes, schema.Size(64)),
		),
	})
	require.NoError(t, err)
	tag := m.Entity("Tag")
	assert.Equal(t, model.DefaultStringSize, tag.Member("Label").Size)
	assert.Equal(t, -1, tag.Member("Blob").Size)
	assert.Equal(t, 64, tag.Member("Thumb").Size)
}

func TestDuplicateDeclarationIgnored(t *testing.T) {
	book := schema.Entity("Book").Mixin(mixin.ID{})
	m, log, err := model.Build([]*schema.EntityDecl{book, book})
	require.NoError(t, err)
	assert.Len(t, m.Entities, 1)
	require.Len(t, log.Entries, 1)
	assert.Equal(t, vela.LevelWarning, log.Entries[0].Level)
}

func TestCustomizations(t *testing.T) {
	extended := schema.Entity("ExtendedAuthor").
		Mixin(mixin.UUIDID{}).
		Fields(
			schema.Field("FirstName", schema.TypeString, schema.Size(30)),
			schema.Field("LastName", schema.TypeString, schema.Size(30)),
			schema.Field("Books", schema.ListType(schema.EntityType("Book")),
				schema.ManyToMany("BookAuthor", "Author", "Book")),
			schema.Field("Website", schema.TypeString, schema.Size(200), schema.Nullable()),
		)
	m, log, err := model.Build(fixture.Core(),
		model.WithReplace("Author", extended),
		model.WithAddedMember("Book", schema.Field("Pages", schema.TypeInt32)),
		model.WithAddedIndex("Book", "Pages"),
	)
	require.NoError(t, err, "%v", log.Entries)
	assert.Nil(t, m.Entity("Author"))
	require.NotNil(t, m.Entity("ExtendedAuthor").Member("Website"))
	assert.Same(t, m.Entity("ExtendedAuthor"), m.Entity("BookAuthor").Member("Author").Ref.Target)
	require.NotNil(t, m.Entity("Book").Member("Pages"))
	assert.Equal(t, "ix_books_pages", m.Entity("Book").Keys[3].Name)

	_, _, err = model.Build(fixture.Core(), model.WithAddedIndex("Nope", "X"))
	require.Error(t, err)
}

type tierAttr struct{ Tier string }

func (tierAttr) Name() string             { return "tier" }
func (tierAttr) Order() schema.ApplyOrder { return schema.OrderLate }

func TestRegisterProcessor(t *testing.T) {
	model.RegisterProcessor("tier", func(c *model.Context, a schema.Attribute) error {
		if c.Member != nil {
			return errors.New("entity only")
		}
		c.Entity.Groups["tier:"+a.(tierAttr).Tier] = nil
		return nil
	})
	m, _, err := model.Build([]*schema.EntityDecl{
		schema.Entity("Plan").Mixin(mixin.ID{}).Attrs(tierAttr{Tier: "gold"}),
	})
	require.NoError(t, err)
	_, ok := m.Entity("Plan").Groups["tier:gold"]
	assert.True(t, ok)
}

// values is a minimal record for accessor tests.
type values struct {
	e    *model.Entity
	vals []any
}

func newValues(e *model.Entity) *values {
	return &values{e: e, vals: make([]any, len(e.Members))}
}

func (v *values) Raw(m *model.Member) any       { return v.vals[m.ValueIndex] }
func (v *values) SetRaw(m *model.Member, x any) { v.vals[m.ValueIndex] = x }
func (v *values) Value(name string) any         { return v.e.Member(name).Accessor.Get(v) }
func (v *values) set(name string, x any) error  { return v.e.Member(name).Accessor.Set(v, x) }
func (v *values) raw(name string) any           { return v.Raw(v.e.Member(name)) }

func TestAccessorChains(t *testing.T) {
	m := buildLibrary(t)

	t.Run("utc", func(t *testing.T) {
		book := m.Entity("Book")
		r := newValues(book)
		local := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
		require.NoError(t, r.set("CreatedOn", local))
		assert.Equal(t, time.UTC, r.raw("CreatedOn").(time.Time).Location())
		assert.True(t, local.Equal(r.Value("CreatedOn").(time.Time)))
	})

	t.Run("date only", func(t *testing.T) {
		r := newValues(m.Entity("Book"))
		require.NoError(t, r.set("PublishedOn", time.Date(2024, 5, 1, 17, 30, 0, 0, time.UTC)))
		assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), r.Value("PublishedOn"))
	})

	t.Run("hash secret computed", func(t *testing.T) {
		user := m.Entity("User")
		r := newValues(user)
		require.NoError(t, r.set("UserName", "ada"))
		assert.Equal(t, model.Hash("ada"), r.raw("UserNameHash"))

		require.NoError(t, r.set("Password", "hunter2"))
		assert.Equal(t, "hunter2", r.raw("Password"))
		assert.Equal(t, "", r.Value("Password"))

		assert.Equal(t, "ADA", r.Value("DisplayName"))
		err := r.set("DisplayName", "x")
		assert.ErrorIs(t, err, model.ErrComputedMember)

		assert.Equal(t, []string{"hash_for:UserNameHash"}, user.Member("UserName").Interceptors())
	})
}

func TestKeyValue(t *testing.T) {
	assert.Equal(t, "7", model.KeyValue{int64(7)}.String())
	assert.Equal(t, "1|2", model.KeyValue{1, 2}.String())
	assert.True(t, model.KeyValue{int64(0)}.Empty())
	assert.True(t, model.KeyValue{nil}.Empty())
	assert.False(t, model.KeyValue{int64(3)}.Empty())
}
