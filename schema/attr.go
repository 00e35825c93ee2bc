package schema

// ApplyOrder ranks attribute processors. System-tier attributes create keys
// and run before relations are wired; the rest run afterwards in ascending
// order.
type ApplyOrder int

// Apply tiers.
const (
	OrderSystem  ApplyOrder = 0
	OrderDefault ApplyOrder = 100
	OrderLate    ApplyOrder = 200
)

// Attribute is a typed configuration record attached to an entity or a
// member. Name selects the processor registered for it.
type Attribute interface {
	Name() string
	Order() ApplyOrder
}

// AutoKind selects how an auto value is produced.
type AutoKind uint8

// Auto value kinds.
const (
	AutoNewID AutoKind = iota + 1
	AutoCreatedOn
	AutoUpdatedOn
	AutoRowVersion
)

func (k AutoKind) String() string {
	switch k {
	case AutoNewID:
		return "new_id"
	case AutoCreatedOn:
		return "created_on"
	case AutoUpdatedOn:
		return "updated_on"
	case AutoRowVersion:
		return "row_version"
	}
	return "unknown"
}

// Attribute names, used as processor registry keys.
const (
	AttrTable          = "table"
	AttrPrimaryKey     = "primary_key"
	AttrUnique         = "unique"
	AttrIndex          = "index"
	AttrSize           = "size"
	AttrPrecision      = "precision"
	AttrUnlimited      = "unlimited"
	AttrNullable       = "nullable"
	AttrAuto           = "auto"
	AttrIdentity       = "identity"
	AttrNoColumn       = "no_column"
	AttrComputed       = "computed"
	AttrNoUpdate       = "no_update"
	AttrReadOnly       = "read_only"
	AttrUtc            = "utc"
	AttrDateOnly       = "date_only"
	AttrHashFor        = "hash_for"
	AttrSecret         = "secret"
	AttrEntityRef      = "entity_ref"
	AttrOneToMany      = "one_to_many"
	AttrManyToMany     = "many_to_many"
	AttrCascadeDelete  = "cascade_delete"
	AttrOrderBy        = "order_by"
	AttrDiscardOnAbort = "discard_on_abort"
	AttrValidate       = "validate"
	AttrPropertyGroup  = "property_group"
	AttrDefault        = "default"
)

type (
	// TableAttr sets the table name of an entity.
	TableAttr struct{ Table string }

	// PrimaryKeyAttr declares the primary key. On a member with no Members
	// it marks that member alone.
	PrimaryKeyAttr struct {
		Members   []string
		Clustered bool
	}

	// UniqueAttr declares a unique key.
	UniqueAttr struct {
		KeyName string
		Members []string
	}

	// IndexAttr declares a non-unique index. A member name prefixed with
	// "-" is sorted descending.
	IndexAttr struct {
		KeyName   string
		Members   []string
		Clustered bool
	}

	SizeAttr      struct{ Size int }
	PrecisionAttr struct{ Precision, Scale int }
	UnlimitedAttr struct{}
	NullableAttr  struct{}

	// AutoAttr makes the member an auto value.
	AutoAttr struct{ Kind AutoKind }

	// IdentityAttr marks a database-generated integer key.
	IdentityAttr struct{}

	// NoColumnAttr makes the member transient.
	NoColumnAttr struct{}

	// ComputedAttr makes the member a computed, non-persisted value.
	ComputedAttr struct{ Fn ComputeFunc }

	// NoUpdateAttr excludes the member from updates. On an entity it
	// disables updates of all its rows.
	NoUpdateAttr struct{}

	// ReadOnlyAttr excludes the member from inserts and updates.
	ReadOnlyAttr struct{}

	UtcAttr      struct{}
	DateOnlyAttr struct{}

	// HashForAttr marks the member as holding a hash of Source, kept in
	// sync whenever Source is set.
	HashForAttr struct{ Source string }

	// SecretAttr makes the member write-only: reads yield the zero value.
	SecretAttr struct{}

	// EntityRefAttr configures a reference member.
	EntityRefAttr struct {
		// FKName overrides the generated foreign key name.
		FKName string
		// TargetUnique selects a unique key of the target to reference
		// instead of its primary key, by key name or by its comma
		// separated member names.
		TargetUnique string
	}

	// OneToManyAttr binds an entity list to the reference member ThisRef
	// of the target entity.
	OneToManyAttr struct{ ThisRef string }

	// ManyToManyAttr binds an entity list through a link entity.
	ManyToManyAttr struct{ Link, ThisRef, OtherRef string }

	CascadeDeleteAttr struct{}

	// OrderByAttr sets a default ordering, such as "LastName,-FirstName".
	OrderByAttr struct{ Spec string }

	// DiscardOnAbortAttr drops new records of the entity from tracking when
	// a save fails.
	DiscardOnAbortAttr struct{}

	ValidateAttr      struct{ Fn ValidateFunc }
	PropertyGroupAttr struct{ Group string }
	DefaultAttr       struct{ Value any }
)

func (TableAttr) Name() string          { return AttrTable }
func (PrimaryKeyAttr) Name() string     { return AttrPrimaryKey }
func (UniqueAttr) Name() string         { return AttrUnique }
func (IndexAttr) Name() string          { return AttrIndex }
func (SizeAttr) Name() string           { return AttrSize }
func (PrecisionAttr) Name() string      { return AttrPrecision }
func (UnlimitedAttr) Name() string      { return AttrUnlimited }
func (NullableAttr) Name() string       { return AttrNullable }
func (AutoAttr) Name() string           { return AttrAuto }
func (IdentityAttr) Name() string       { return AttrIdentity }
func (NoColumnAttr) Name() string       { return AttrNoColumn }
func (ComputedAttr) Name() string       { return AttrComputed }
func (NoUpdateAttr) Name() string       { return AttrNoUpdate }
func (ReadOnlyAttr) Name() string       { return AttrReadOnly }
func (UtcAttr) Name() string            { return AttrUtc }
func (DateOnlyAttr) Name() string       { return AttrDateOnly }
func (HashForAttr) Name() string        { return AttrHashFor }
func (SecretAttr) Name() string         { return AttrSecret }
func (EntityRefAttr) Name() string      { return AttrEntityRef }
func (OneToManyAttr) Name() string      { return AttrOneToMany }
func (ManyToManyAttr) Name() string     { return AttrManyToMany }
func (CascadeDeleteAttr) Name() string  { return AttrCascadeDelete }
func (OrderByAttr) Name() string        { return AttrOrderBy }
func (DiscardOnAbortAttr) Name() string { return AttrDiscardOnAbort }
func (ValidateAttr) Name() string       { return AttrValidate }
func (PropertyGroupAttr) Name() string  { return AttrPropertyGroup }
func (DefaultAttr) Name() string        { return AttrDefault }

func (TableAttr) Order() ApplyOrder          { return OrderSystem }
func (PrimaryKeyAttr) Order() ApplyOrder     { return OrderSystem }
func (UniqueAttr) Order() ApplyOrder         { return OrderSystem }
func (IndexAttr) Order() ApplyOrder          { return OrderSystem }
func (SizeAttr) Order() ApplyOrder           { return OrderDefault }
func (PrecisionAttr) Order() ApplyOrder      { return OrderDefault }
func (UnlimitedAttr) Order() ApplyOrder      { return OrderDefault }
func (NullableAttr) Order() ApplyOrder       { return OrderDefault }
func (AutoAttr) Order() ApplyOrder           { return OrderDefault }
func (IdentityAttr) Order() ApplyOrder       { return OrderDefault }
func (NoColumnAttr) Order() ApplyOrder       { return OrderDefault }
func (ComputedAttr) Order() ApplyOrder       { return OrderLate }
func (NoUpdateAttr) Order() ApplyOrder       { return OrderDefault }
func (ReadOnlyAttr) Order() ApplyOrder       { return OrderDefault }
func (UtcAttr) Order() ApplyOrder            { return OrderDefault }
func (DateOnlyAttr) Order() ApplyOrder       { return OrderDefault }
func (HashForAttr) Order() ApplyOrder        { return OrderLate }
func (SecretAttr) Order() ApplyOrder         { return OrderDefault }
func (EntityRefAttr) Order() ApplyOrder      { return OrderDefault }
func (OneToManyAttr) Order() ApplyOrder      { return OrderDefault }
func (ManyToManyAttr) Order() ApplyOrder     { return OrderDefault }
func (CascadeDeleteAttr) Order() ApplyOrder  { return OrderDefault }
func (OrderByAttr) Order() ApplyOrder        { return OrderLate }
func (DiscardOnAbortAttr) Order() ApplyOrder { return OrderDefault }
func (ValidateAttr) Order() ApplyOrder       { return OrderLate }
func (PropertyGroupAttr) Order() ApplyOrder  { return OrderDefault }
func (DefaultAttr) Order() ApplyOrder        { return OrderDefault }

// Table sets the table name.
func Table(name string) Attribute { return TableAttr{Table: name} }

// PrimaryKey declares the primary key. With no arguments on a member it
// marks that member.
func PrimaryKey(members ...string) Attribute { return PrimaryKeyAttr{Members: members} }

// ClusteredPrimaryKey declares a clustered primary key.
func ClusteredPrimaryKey(members ...string) Attribute {
	return PrimaryKeyAttr{Members: members, Clustered: true}
}

// Unique declares a unique key over members.
func Unique(members ...string) Attribute { return UniqueAttr{Members: members} }

// Index declares an index over members.
func Index(members ...string) Attribute { return IndexAttr{Members: members} }

// ClusteredIndex declares a clustered index over members.
func ClusteredIndex(members ...string) Attribute {
	return IndexAttr{Members: members, Clustered: true}
}

func Size(n int) Attribute                 { return SizeAttr{Size: n} }
func Precision(p, s int) Attribute         { return PrecisionAttr{Precision: p, Scale: s} }
func Unlimited() Attribute                 { return UnlimitedAttr{} }
func Nullable() Attribute                  { return NullableAttr{} }
func Auto(kind AutoKind) Attribute         { return AutoAttr{Kind: kind} }
func Identity() Attribute                  { return IdentityAttr{} }
func NoColumn() Attribute                  { return NoColumnAttr{} }
func Computed(fn ComputeFunc) Attribute    { return ComputedAttr{Fn: fn} }
func NoUpdate() Attribute                  { return NoUpdateAttr{} }
func ReadOnly() Attribute                  { return ReadOnlyAttr{} }
func Utc() Attribute                       { return UtcAttr{} }
func DateOnly() Attribute                  { return DateOnlyAttr{} }
func HashFor(source string) Attribute      { return HashForAttr{Source: source} }
func Secret() Attribute                    { return SecretAttr{} }
func CascadeDelete() Attribute             { return CascadeDeleteAttr{} }
func OrderBy(spec string) Attribute        { return OrderByAttr{Spec: spec} }
func DiscardOnAbort() Attribute            { return DiscardOnAbortAttr{} }
func Validate(fn ValidateFunc) Attribute   { return ValidateAttr{Fn: fn} }
func PropertyGroup(group string) Attribute { return PropertyGroupAttr{Group: group} }
func Default(v any) Attribute              { return DefaultAttr{Value: v} }
func OneToMany(thisRef string) Attribute   { return OneToManyAttr{ThisRef: thisRef} }
func ForeignKey(name string) Attribute     { return EntityRefAttr{FKName: name} }
func RefUnique(keyName string) Attribute   { return EntityRefAttr{TargetUnique: keyName} }

// ManyToMany binds an entity list through link, where thisRef references
// the owning entity and otherRef the list element.
func ManyToMany(link, thisRef, otherRef string) Attribute {
	return ManyToManyAttr{Link: link, ThisRef: thisRef, OtherRef: otherRef}
}
