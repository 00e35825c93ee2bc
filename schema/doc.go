// Package schema provides the declaration language consumed by the model
// builder.
//
// An entity is declared with a name, a list of members and a list of
// attributes. Attributes are typed configuration records; each one is
// applied by a processor registered in the model package.
//
// # Quick Start
//
//	author := schema.Entity("Author").
//	    Mixin(mixin.UUIDID{}).
//	    Fields(
//	        schema.Field("FirstName", schema.TypeString, schema.Size(30)),
//	        schema.Field("LastName", schema.TypeString, schema.Size(30)),
//	        schema.Field("Books", schema.ListType(schema.EntityType("Book")),
//	            schema.ManyToMany("BookAuthor", "Author", "Book")),
//	    ).
//	    Attrs(schema.Index("LastName", "FirstName"))
//
// # Member Types
//
// Scalar types become columns. A member typed with a declared entity name
// becomes a reference (foreign key), and a list of entities becomes an
// entity list backed by a one-to-many or many-to-many relation:
//
//	schema.Field("Publisher", schema.EntityType("Publisher"))      // reference
//	schema.Field("Books", schema.ListType(schema.EntityType("Book")),
//	    schema.OneToMany("Publisher"))                             // entity list
//
// Any other collection type (maps, slices, lists of scalars) is rejected.
//
// # YAML
//
// The same declarations can be loaded from YAML with [LoadYAML]; see
// yaml.go for the accepted document shape.
package schema
