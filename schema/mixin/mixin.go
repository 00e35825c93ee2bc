// Package mixin provides reusable member sets for entity declarations.
//
// A mixin contributes members and entity attributes. Mixin members are
// placed before the entity's own members:
//
//	schema.Entity("Book").
//	    Mixin(mixin.UUIDID{}, mixin.Time{}, mixin.Version{}).
//	    Fields(schema.Field("Title", schema.TypeString, schema.Size(120)))
//
// Custom mixins embed Schema and override what they need:
//
//	type Audit struct{ mixin.Schema }
//
//	func (Audit) Fields() []*schema.MemberDecl {
//	    return []*schema.MemberDecl{
//	        schema.Field("CreatedBy", schema.TypeString, schema.Size(50), schema.NoUpdate()),
//	    }
//	}
package mixin

import "github.com/syssam/vela/schema"

// Schema is the default implementation of schema.Mixin.
// It should be embedded in custom mixins.
type Schema struct{}

// Fields returns the members of the mixin.
func (Schema) Fields() []*schema.MemberDecl { return nil }

// Attributes returns the entity attributes of the mixin.
func (Schema) Attributes() []schema.Attribute { return nil }

var _ schema.Mixin = (*Schema)(nil)

// ID adds an int64 database identity primary key named Id.
type ID struct{ Schema }

// Fields of the ID mixin.
func (ID) Fields() []*schema.MemberDecl {
	return []*schema.MemberDecl{
		schema.Field("Id", schema.TypeInt64, schema.PrimaryKey(), schema.Identity()),
	}
}

// UUIDID adds a UUID primary key named Id generated on insert.
type UUIDID struct{ Schema }

// Fields of the UUIDID mixin.
func (UUIDID) Fields() []*schema.MemberDecl {
	return []*schema.MemberDecl{
		schema.Field("Id", schema.TypeUUID, schema.PrimaryKey(), schema.Auto(schema.AutoNewID)),
	}
}

// CreateTime adds a CreatedOn UTC timestamp set once on insert.
type CreateTime struct{ Schema }

// Fields of the CreateTime mixin.
func (CreateTime) Fields() []*schema.MemberDecl {
	return []*schema.MemberDecl{
		schema.Field("CreatedOn", schema.TypeTime, schema.Auto(schema.AutoCreatedOn), schema.Utc()),
	}
}

// UpdateTime adds an UpdatedOn UTC timestamp refreshed on every save.
type UpdateTime struct{ Schema }

// Fields of the UpdateTime mixin.
func (UpdateTime) Fields() []*schema.MemberDecl {
	return []*schema.MemberDecl{
		schema.Field("UpdatedOn", schema.TypeTime, schema.Auto(schema.AutoUpdatedOn), schema.Utc()),
	}
}

// Time combines CreateTime and UpdateTime.
type Time struct{ Schema }

// Fields of the Time mixin.
func (Time) Fields() []*schema.MemberDecl {
	return append(CreateTime{}.Fields(), UpdateTime{}.Fields()...)
}

// Version adds a row-version concurrency token.
type Version struct{ Schema }

// Fields of the Version mixin.
func (Version) Fields() []*schema.MemberDecl {
	return []*schema.MemberDecl{
		schema.Field("Version", schema.TypeInt64, schema.Auto(schema.AutoRowVersion)),
	}
}

// Annotate wraps a mixin and appends attrs to every member it contributes.
//
//	mixin.Annotate(mixin.Time{}, schema.PropertyGroup("audit"))
func Annotate(m schema.Mixin, attrs ...schema.Attribute) schema.Mixin {
	return annotator{Mixin: m, attrs: attrs}
}

type annotator struct {
	schema.Mixin
	attrs []schema.Attribute
}

func (a annotator) Fields() []*schema.MemberDecl {
	fields := a.Mixin.Fields()
	for _, f := range fields {
		f.Attributes = append(f.Attributes, a.attrs...)
	}
	return fields
}
