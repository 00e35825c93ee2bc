package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syssam/vela/schema"
)

// EntityKind tells table-backed entities from view-backed ones.
type EntityKind uint8

// Entity kinds.
const (
	KindTable EntityKind = iota
	KindView
)

func (k EntityKind) String() string {
	if k == KindView {
		return "view"
	}
	return "table"
}

// EntityFlags describe entity-wide behavior.
type EntityFlags uint32

// Entity flags.
const (
	HasIdentity EntityFlags = 1 << iota
	HasRowVersion
	// CascadeRelevant is set on entities that are the target of a
	// cascade-delete reference.
	CascadeRelevant
	NoUpdate
	DiscardOnAbort
	// ReferencesIdentity is set when a referenced entity has an identity key
	// whose value is only known after insert.
	ReferencesIdentity
	// NonTrivialGroup is set when the entity is part of a reference cycle.
	NonTrivialGroup
)

// MemberKind classifies a member.
type MemberKind uint8

// Member kinds.
const (
	MemberColumn MemberKind = iota
	MemberEntityRef
	MemberEntityList
	MemberTransient
)

var memberKindNames = [...]string{"column", "entity_ref", "entity_list", "transient"}

func (k MemberKind) String() string { return memberKindNames[k] }

// MemberFlags describe member behavior.
type MemberFlags uint32

// Member flags.
const (
	PrimaryKey MemberFlags = 1 << iota
	Nullable
	AutoValue
	Identity
	RowVersion
	NoDbInsert
	NoDbUpdate
	Utc
	DateOnly
	CascadeDelete
	ForeignKey
	Computed
	Secret
	Unlimited
)

// KeyKind is a bit set of key traits.
type KeyKind uint8

// Key kinds.
const (
	KeyPrimary KeyKind = 1 << iota
	KeyForeign
	KeyUnique
	KeyIndex
	KeyClustered
)

func (k KeyKind) String() string {
	var parts []string
	for _, p := range []struct {
		k KeyKind
		s string
	}{{KeyPrimary, "primary"}, {KeyForeign, "foreign"}, {KeyUnique, "unique"}, {KeyIndex, "index"}, {KeyClustered, "clustered"}} {
		if k&p.k != 0 {
			parts = append(parts, p.s)
		}
	}
	return strings.Join(parts, "|")
}

// RelationKind distinguishes entity list relations.
type RelationKind uint8

// Relation kinds.
const (
	OneToMany RelationKind = iota + 1
	ManyToMany
)

// Model is the finished schema model. It is read-only after Build and safe
// for concurrent use.
type Model struct {
	// Entities sorted by name.
	Entities []*Entity
	byName   map[string]*Entity
}

// Entity returns the named entity, or nil.
func (m *Model) Entity(name string) *Entity { return m.byName[name] }

// MustEntity returns the named entity or panics.
func (m *Model) MustEntity(name string) *Entity {
	e := m.byName[name]
	if e == nil {
		panic(fmt.Sprintf("model: unknown entity %q", name))
	}
	return e
}

// TopologicalOrder returns table entities in ascending topological index,
// ties broken by name.
func (m *Model) TopologicalOrder() []*Entity {
	var out []*Entity
	for _, e := range m.Entities {
		if e.Kind == KindTable {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TopologicalIndex < out[j].TopologicalIndex })
	return out
}

// Entity describes one mapped entity.
type Entity struct {
	Name  string
	Table string
	Kind  EntityKind
	Flags EntityFlags
	// Members in value-index order.
	Members    []*Member
	Keys       []*Key
	PrimaryKey *Key
	// TopologicalIndex orders writes: referenced entities come first.
	TopologicalIndex int
	RowVersion       *Member
	IdentityMember   *Member
	RefMembers       []*Member
	Lists            []*Member
	// IncomingRefs holds reference members of other entities targeting
	// this one, sorted by entity and member name.
	IncomingRefs []*Member
	DefaultOrder []OrderItem
	Groups       map[string][]*Member
	Validators   []schema.ValidateFunc
	ViewOutput   []string

	members   map[string]*Member
	orderSpec string
}

// Has reports whether all flags are set.
func (e *Entity) Has(f EntityFlags) bool { return e.Flags&f == f }

// Member returns the named member, or nil.
func (e *Entity) Member(name string) *Member { return e.members[name] }

// Columns returns the members stored in a table column, in value order.
func (e *Entity) Columns() []*Member {
	var cols []*Member
	for _, m := range e.Members {
		if m.Kind == MemberColumn {
			cols = append(cols, m)
		}
	}
	return cols
}

func (e *Entity) String() string { return e.Name }

// Member describes one member of an entity.
type Member struct {
	Entity   *Entity
	Name     string
	Column   string
	Kind     MemberKind
	DataType schema.DataType
	// Size is the maximum length of string and bytes values; -1 means
	// unlimited.
	Size      int
	Precision int
	Scale     int
	Flags     MemberFlags
	AutoKind  schema.AutoKind
	Default   any
	// ValueIndex is the slot of the member in record value arrays.
	ValueIndex int
	// Accessor is the composed get/set chain.
	Accessor Accessor
	Ref      *Reference
	List     *ListInfo
	// RefOwner and RefTarget are set on hidden foreign key columns: the
	// reference member owning the column and the target key column it
	// mirrors.
	RefOwner  *Member
	RefTarget *Member
	Groups    []string

	declSize     int
	fkCols       []*Member
	interceptors []Interceptor
}

// Has reports whether all flags are set.
func (m *Member) Has(f MemberFlags) bool { return m.Flags&f == f }

// Interceptors returns the interceptor names of the accessor chain, inner
// first.
func (m *Member) Interceptors() []string {
	names := make([]string, len(m.interceptors))
	for i, ic := range m.interceptors {
		names[i] = ic.Name
	}
	return names
}

// ForeignKeyColumns returns the hidden columns of a reference member.
func (m *Member) ForeignKeyColumns() []*Member { return m.fkCols }

func (m *Member) String() string { return m.Entity.Name + "." + m.Name }

// Reference describes a reference member.
type Reference struct {
	Target *Entity
	// FromKey is the foreign key on the owning entity.
	FromKey *Key
	// ToKey is the referenced key of the target, usually its primary key.
	ToKey   *Key
	Cascade bool
}

// ListInfo describes an entity list member.
type ListInfo struct {
	Relation RelationKind
	Target   *Entity
	// ParentRef is the reference back to the owner: on Target for
	// one-to-many, on Link for many-to-many.
	ParentRef *Member
	Link      *Entity
	OtherRef  *Member
	OrderBy   []OrderItem

	orderSpec string
}

// Key describes a primary, foreign, unique or index key.
type Key struct {
	Name    string
	Kind    KeyKind
	Entity  *Entity
	Members []KeyMember
	// Columns are Members with references expanded to their foreign key
	// columns.
	Columns []KeyMember
}

// Is reports whether the key has all traits of k.
func (k *Key) Is(kind KeyKind) bool { return k.Kind&kind == kind }

// KeyMember is a key member with its sort direction.
type KeyMember struct {
	Member *Member
	Desc   bool
}

// OrderItem is an element of a default ordering.
type OrderItem struct {
	Member *Member
	Desc   bool
}

// KeyValue is a snapshot of key column values.
type KeyValue []any

// String returns the canonical text form used for identity map lookups.
func (k KeyValue) String() string {
	if len(k) == 1 {
		return fmt.Sprint(k[0])
	}
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "|")
}

// Empty reports whether any key value is nil or zero.
func (k KeyValue) Empty() bool {
	if len(k) == 0 {
		return true
	}
	for _, v := range k {
		if v == nil {
			return true
		}
		if t, ok := schema.TypeOf(v); ok && t.Zero() == v {
			return true
		}
	}
	return false
}

// ValueOf reads the key column values from r.
func (k *Key) ValueOf(r Values) KeyValue {
	kv := make(KeyValue, len(k.Columns))
	for i, c := range k.Columns {
		kv[i] = r.Raw(c.Member)
	}
	return kv
}
