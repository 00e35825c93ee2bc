package mixin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/vela/schema"
	"github.com/syssam/vela/schema/mixin"
)

func TestSchemaBaseMixin(t *testing.T) {
	m := mixin.Schema{}
	assert.Nil(t, m.Fields())
	assert.Nil(t, m.Attributes())
}

func TestBuiltinMixins(t *testing.T) {
	tests := []struct {
		name    string
		mixin   schema.Mixin
		members []string
	}{
		{"id", mixin.ID{}, []string{"Id"}},
		{"uuid_id", mixin.UUIDID{}, []string{"Id"}},
		{"time", mixin.Time{}, []string{"CreatedOn", "UpdatedOn"}},
		{"version", mixin.Version{}, []string{"Version"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var names []string
			for _, f := range tt.mixin.Fields() {
				names = append(names, f.Name)
			}
			assert.Equal(t, tt.members, names)
		})
	}
}

func TestMixinPrependsMembers(t *testing.T) {
	e := schema.Entity("Book").
		Fields(schema.Field("Title", schema.TypeString)).
		Mixin(mixin.UUIDID{}, mixin.Version{})
	require.Len(t, e.Members, 3)
	assert.Equal(t, "Id", e.Members[0].Name)
	assert.Equal(t, "Version", e.Members[1].Name)
	assert.Equal(t, "Title", e.Members[2].Name)
}

func TestAnnotate(t *testing.T) {
	m := mixin.Annotate(mixin.Time{}, schema.PropertyGroup("audit"))
	for _, f := range m.Fields() {
		last := f.Attributes[len(f.Attributes)-1]
		assert.Equal(t, schema.PropertyGroupAttr{Group: "audit"}, last)
	}
	// The wrapped mixin is not mutated.
	for _, f := range (mixin.Time{}).Fields() {
		assert.Len(t, f.Attributes, 2)
	}
}
