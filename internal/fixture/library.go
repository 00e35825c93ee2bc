// Package fixture declares the library schema shared by tests.
package fixture

import (
	"errors"
	"strings"

	"github.com/syssam/vela/schema"
	"github.com/syssam/vela/schema/mixin"
)

// Core returns the publisher, author, book and link declarations. They use
// no function-valued attributes, so they can also be expressed in YAML
// (see CoreYAML).
func Core() []*schema.EntityDecl {
	return []*schema.EntityDecl{
		schema.Entity("Publisher").
			Mixin(mixin.UUIDID{}).
			Fields(
				schema.Field("Name", schema.TypeString, schema.Size(50)),
				schema.Field("Books", schema.ListType(schema.EntityType("Book")), schema.OneToMany("Publisher")),
			),
		schema.Entity("Author").
			Mixin(mixin.UUIDID{}).
			Attrs(schema.Index("LastName", "FirstName")).
			Fields(
				schema.Field("FirstName", schema.TypeString, schema.Size(30)),
				schema.Field("LastName", schema.TypeString, schema.Size(30)),
				schema.Field("Bio", schema.TypeString, schema.Unlimited(), schema.Nullable()),
				schema.Field("Books", schema.ListType(schema.EntityType("Book")),
					schema.ManyToMany("BookAuthor", "Author", "Book")),
			),
		schema.Entity("Book").
			Mixin(mixin.UUIDID{}).
			Attrs(schema.OrderBy("Title")).
			Fields(
				schema.Field("Title", schema.TypeString, schema.Size(120)),
				schema.Field("Isbn", schema.TypeString, schema.Size(20), schema.Nullable(), schema.Unique()),
				schema.Field("Price", schema.TypeDecimal, schema.Precision(10, 2)),
				schema.Field("Discount", schema.TypeDecimal, schema.Nullable()),
				schema.Field("PublishedOn", schema.TypeTime, schema.DateOnly(), schema.Nullable()),
				schema.Field("Publisher", schema.EntityType("Publisher")),
				schema.Field("Authors", schema.ListType(schema.EntityType("Author")),
					schema.ManyToMany("BookAuthor", "Book", "Author")),
			).
			Mixin(mixin.CreateTime{}, mixin.Version{}),
		schema.Entity("BookAuthor").
			Attrs(schema.PrimaryKey("Book", "Author")).
			Fields(
				schema.Field("Book", schema.EntityType("Book"), schema.CascadeDelete()),
				schema.Field("Author", schema.EntityType("Author")),
			),
	}
}

// CoreYAML is the YAML form of Core.
const CoreYAML = `
entities:
  - name: Publisher
    members:
      - {name: Id, type: uuid, primary_key: true, auto: new_id}
      - {name: Name, type: string, size: 50}
      - {name: Books, type: list<Book>, one_to_many: Publisher}
  - name: Author
    indexes:
      - members: [LastName, FirstName]
    members:
      - {name: Id, type: uuid, primary_key: true, auto: new_id}
      - {name: FirstName, type: string, size: 30}
      - {name: LastName, type: string, size: 30}
      - {name: Bio, type: string, unlimited: true, nullable: true}
      - name: Books
        type: list<Book>
        many_to_many: {link: BookAuthor, this_ref: Author, other_ref: Book}
  - name: Book
    order_by: Title
    members:
      - {name: CreatedOn, type: time, auto: created_on, utc: true}
      - {name: Version, type: int64, auto: row_version}
      - {name: Id, type: uuid, primary_key: true, auto: new_id}
      - {name: Title, type: string, size: 120}
      - {name: Isbn, type: string, size: 20, nullable: true, unique: true}
      - {name: Price, type: decimal, precision: [10, 2]}
      - {name: Discount, type: decimal, nullable: true}
      - {name: PublishedOn, type: time, date_only: true, nullable: true}
      - {name: Publisher, type: Publisher}
      - name: Authors
        type: list<Author>
        many_to_many: {link: BookAuthor, this_ref: Book, other_ref: Author}
  - name: BookAuthor
    primary_key: [Book, Author]
    members:
      - {name: Book, type: Book, cascade_delete: true}
      - {name: Author, type: Author}
`

// ErrNegativeRating is reported by the BookReview validator.
var ErrNegativeRating = errors.New("rating must not be negative")

// Library returns Core plus users, reviews and an audit log.
func Library() []*schema.EntityDecl {
	return append(Core(),
		schema.Entity("User").
			Mixin(mixin.ID{}).
			Fields(
				schema.Field("UserName", schema.TypeString, schema.Size(20), schema.Unique()),
				schema.Field("UserNameHash", schema.TypeInt32, schema.HashFor("UserName")),
				schema.Field("Password", schema.TypeString, schema.Size(100), schema.Secret(), schema.Nullable()),
				schema.Field("DisplayName", schema.TypeString, schema.Computed(func(v schema.Values) any {
					name, _ := v.Value("UserName").(string)
					return strings.ToUpper(name)
				})),
			),
		schema.Entity("BookReview").
			Mixin(mixin.UUIDID{}).
			Attrs(schema.Validate(func(v schema.Values) error {
				if r, ok := v.Value("Rating").(int32); ok && r < 0 {
					return ErrNegativeRating
				}
				return nil
			})).
			Fields(
				schema.Field("Book", schema.EntityType("Book"), schema.CascadeDelete()),
				schema.Field("User", schema.EntityType("User")),
				schema.Field("Rating", schema.TypeInt32),
				schema.Field("Caption", schema.TypeString, schema.Size(100)),
				schema.Field("Review", schema.TypeString, schema.Unlimited(), schema.Nullable()),
			),
		schema.Entity("AuditEntry").
			Mixin(mixin.UUIDID{}).
			Attrs(schema.DiscardOnAbort()).
			Fields(
				schema.Field("Message", schema.TypeString, schema.Size(200)),
			),
	)
}
