package schema

// Values gives read access to member values of a record. It is the view
// passed to computed members and validation hooks.
type Values interface {
	Value(member string) any
}

// ComputeFunc produces the value of a computed member.
type ComputeFunc func(v Values) any

// ValidateFunc is a custom record validation hook. A non-nil error becomes
// a validation fault on the record.
type ValidateFunc func(v Values) error

// EntityDecl declares one entity, table- or view-backed.
type EntityDecl struct {
	Name string
	// View marks a view-kind entity; ViewOutput lists the columns the view
	// produces.
	View       bool
	ViewOutput []string
	Attributes []Attribute
	Members    []*MemberDecl
}

// MemberDecl declares a member of an entity.
type MemberDecl struct {
	Name       string
	Type       DataType
	Attributes []Attribute
}

// Mixin is a reusable set of members and entity attributes.
type Mixin interface {
	Fields() []*MemberDecl
	Attributes() []Attribute
}

// Entity starts a table-kind entity declaration.
func Entity(name string) *EntityDecl {
	return &EntityDecl{Name: name}
}

// View starts a view-kind entity declaration. Every declared member must
// appear in output.
func View(name string, output ...string) *EntityDecl {
	return &EntityDecl{Name: name, View: true, ViewOutput: output}
}

// Field declares a member.
func Field(name string, t DataType, attrs ...Attribute) *MemberDecl {
	return &MemberDecl{Name: name, Type: t, Attributes: attrs}
}

// Fields appends members.
func (e *EntityDecl) Fields(members ...*MemberDecl) *EntityDecl {
	e.Members = append(e.Members, members...)
	return e
}

// Attrs appends entity-level attributes.
func (e *EntityDecl) Attrs(attrs ...Attribute) *EntityDecl {
	e.Attributes = append(e.Attributes, attrs...)
	return e
}

// Mixin prepends the members of each mixin and appends its attributes.
func (e *EntityDecl) Mixin(mixins ...Mixin) *EntityDecl {
	var members []*MemberDecl
	for _, m := range mixins {
		members = append(members, m.Fields()...)
		e.Attributes = append(e.Attributes, m.Attributes()...)
	}
	e.Members = append(members, e.Members...)
	return e
}

// Member returns the member with the given name, or nil.
func (e *EntityDecl) Member(name string) *MemberDecl {
	for _, m := range e.Members {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Clone returns a deep copy of the declaration lists. Attribute values are
// shared.
func (e *EntityDecl) Clone() *EntityDecl {
	c := *e
	c.ViewOutput = append([]string(nil), e.ViewOutput...)
	c.Attributes = append([]Attribute(nil), e.Attributes...)
	c.Members = make([]*MemberDecl, len(e.Members))
	for i, m := range e.Members {
		mc := *m
		mc.Attributes = append([]Attribute(nil), m.Attributes...)
		c.Members[i] = &mc
	}
	return &c
}
