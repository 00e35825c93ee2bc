package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/syssam/vela/schema"
)

// Processor applies one attribute to the entity or member in c.
// Processors of the same apply order must commute: the finished model may
// not depend on the order they ran in.
type Processor func(c *Context, a schema.Attribute) error

// Context is the target of a processor.
type Context struct {
	Entity *Entity
	// Member is nil for entity-level attributes.
	Member *Member
	b      *builder
}

// AddInterceptor adds an accessor interceptor to m.
func (c *Context) AddInterceptor(m *Member, ic Interceptor) {
	m.interceptors = append(m.interceptors, ic)
}

// AddKey adds a key to the context entity.
func (c *Context) AddKey(k *Key) {
	k.Entity = c.Entity
	c.Entity.Keys = append(c.Entity.Keys, k)
}

// Warn logs a warning for the context target.
func (c *Context) Warn(format string, args ...any) {
	target := c.Entity.Name
	if c.Member != nil {
		target = c.Member.String()
	}
	c.b.log.Warn(target+": "+format, args...)
}

var (
	errMemberOnly = errors.New("attribute applies to members only")
	errEntityOnly = errors.New("attribute applies to entities only")
)

func (c *Context) member(kinds ...MemberKind) (*Member, error) {
	if c.Member == nil {
		return nil, errMemberOnly
	}
	if len(kinds) == 0 {
		return c.Member, nil
	}
	for _, k := range kinds {
		if c.Member.Kind == k {
			return c.Member, nil
		}
	}
	return nil, fmt.Errorf("not valid on a %s member", c.Member.Kind)
}

func (c *Context) typed(kinds ...schema.Kind) (*Member, error) {
	m, err := c.member(MemberColumn, MemberTransient)
	if err != nil {
		return nil, err
	}
	for _, k := range kinds {
		if m.DataType.Kind == k {
			return m, nil
		}
	}
	return nil, fmt.Errorf("not valid on type %s", m.DataType)
}

var registry = struct {
	sync.RWMutex
	m map[string]Processor
}{m: make(map[string]Processor)}

// RegisterProcessor registers fn for attributes with the given name,
// replacing any earlier registration. It is meant to be called from init
// functions.
func RegisterProcessor(name string, fn Processor) {
	registry.Lock()
	defer registry.Unlock()
	registry.m[name] = fn
}

func processorFor(name string) Processor {
	registry.RLock()
	defer registry.RUnlock()
	return registry.m[name]
}

func init() {
	RegisterProcessor(schema.AttrTable, processTable)
	RegisterProcessor(schema.AttrPrimaryKey, processPrimaryKey)
	RegisterProcessor(schema.AttrUnique, processUnique)
	RegisterProcessor(schema.AttrIndex, processIndex)
	RegisterProcessor(schema.AttrSize, processSize)
	RegisterProcessor(schema.AttrPrecision, processPrecision)
	RegisterProcessor(schema.AttrUnlimited, processUnlimited)
	RegisterProcessor(schema.AttrNullable, processNullable)
	RegisterProcessor(schema.AttrAuto, processAuto)
	RegisterProcessor(schema.AttrIdentity, processIdentity)
	RegisterProcessor(schema.AttrNoColumn, processNoColumn)
	RegisterProcessor(schema.AttrComputed, processComputed)
	RegisterProcessor(schema.AttrNoUpdate, processNoUpdate)
	RegisterProcessor(schema.AttrReadOnly, processReadOnly)
	RegisterProcessor(schema.AttrUtc, processUtc)
	RegisterProcessor(schema.AttrDateOnly, processDateOnly)
	RegisterProcessor(schema.AttrHashFor, processHashFor)
	RegisterProcessor(schema.AttrSecret, processSecret)
	RegisterProcessor(schema.AttrEntityRef, processEntityRef)
	RegisterProcessor(schema.AttrOneToMany, processListRelation)
	RegisterProcessor(schema.AttrManyToMany, processListRelation)
	RegisterProcessor(schema.AttrCascadeDelete, processCascadeDelete)
	RegisterProcessor(schema.AttrOrderBy, processOrderBy)
	RegisterProcessor(schema.AttrDiscardOnAbort, processDiscardOnAbort)
	RegisterProcessor(schema.AttrValidate, processValidate)
	RegisterProcessor(schema.AttrPropertyGroup, processPropertyGroup)
	RegisterProcessor(schema.AttrDefault, processDefault)
}

func processTable(c *Context, a schema.Attribute) error {
	if c.Member != nil {
		return errEntityOnly
	}
	name := a.(schema.TableAttr).Table
	if name == "" {
		return errors.New("empty table name")
	}
	c.Entity.Table = name
	return nil
}

// keyMembers resolves key member names; a "-" prefix sorts descending. On a
// member target with no names the member itself is the key.
func (c *Context) keyMembers(names []string) ([]KeyMember, error) {
	if len(names) == 0 {
		if c.Member == nil {
			return nil, errors.New("key without members")
		}
		return []KeyMember{{Member: c.Member}}, nil
	}
	kms := make([]KeyMember, 0, len(names))
	for _, n := range names {
		km := KeyMember{}
		if strings.HasPrefix(n, "-") {
			km.Desc, n = true, n[1:]
		}
		km.Member = c.Entity.Member(strings.TrimSpace(n))
		if km.Member == nil {
			return nil, fmt.Errorf("unknown key member %q", n)
		}
		if km.Member.Kind != MemberColumn && km.Member.Kind != MemberEntityRef {
			return nil, fmt.Errorf("key member %s must be a column or a reference", km.Member.Name)
		}
		kms = append(kms, km)
	}
	return kms, nil
}

func processPrimaryKey(c *Context, a schema.Attribute) error {
	pk := a.(schema.PrimaryKeyAttr)
	if c.Entity.Kind == KindView {
		return errors.New("views cannot declare a primary key")
	}
	kms, err := c.keyMembers(pk.Members)
	if err != nil {
		return err
	}
	k := &Key{Kind: KeyPrimary, Members: kms}
	if pk.Clustered {
		k.Kind |= KeyClustered
	}
	for _, km := range kms {
		km.Member.Flags |= PrimaryKey
	}
	c.AddKey(k)
	c.Entity.PrimaryKey = k
	return nil
}

func processUnique(c *Context, a schema.Attribute) error {
	u := a.(schema.UniqueAttr)
	kms, err := c.keyMembers(u.Members)
	if err != nil {
		return err
	}
	c.AddKey(&Key{Kind: KeyUnique, Name: u.KeyName, Members: kms})
	return nil
}

func processIndex(c *Context, a schema.Attribute) error {
	ix := a.(schema.IndexAttr)
	kms, err := c.keyMembers(ix.Members)
	if err != nil {
		return err
	}
	k := &Key{Kind: KeyIndex, Name: ix.KeyName, Members: kms}
	if ix.Clustered {
		k.Kind |= KeyClustered
	}
	c.AddKey(k)
	return nil
}

func processSize(c *Context, a schema.Attribute) error {
	m, err := c.typed(schema.KindString, schema.KindBytes)
	if err != nil {
		return err
	}
	n := a.(schema.SizeAttr).Size
	if n <= 0 {
		return fmt.Errorf("invalid size %d", n)
	}
	m.declSize = n
	return nil
}

func processPrecision(c *Context, a schema.Attribute) error {
	m, err := c.typed(schema.KindDecimal, schema.KindFloat64)
	if err != nil {
		return err
	}
	p := a.(schema.PrecisionAttr)
	if p.Precision <= 0 || p.Scale < 0 || p.Scale > p.Precision {
		return fmt.Errorf("invalid precision (%d,%d)", p.Precision, p.Scale)
	}
	m.Precision, m.Scale = p.Precision, p.Scale
	return nil
}

func processUnlimited(c *Context, _ schema.Attribute) error {
	m, err := c.typed(schema.KindString, schema.KindBytes)
	if err != nil {
		return err
	}
	m.Flags |= Unlimited
	return nil
}

func processNullable(c *Context, _ schema.Attribute) error {
	m, err := c.member(MemberColumn, MemberEntityRef, MemberTransient)
	if err != nil {
		return err
	}
	m.Flags |= Nullable
	return nil
}

func processAuto(c *Context, a schema.Attribute) error {
	kind := a.(schema.AutoAttr).Kind
	var (
		m   *Member
		err error
	)
	switch kind {
	case schema.AutoNewID:
		m, err = c.typed(schema.KindUUID)
	case schema.AutoCreatedOn, schema.AutoUpdatedOn:
		m, err = c.typed(schema.KindTime)
	case schema.AutoRowVersion:
		m, err = c.typed(schema.KindInt64, schema.KindInt32)
	default:
		err = fmt.Errorf("unknown auto kind %d", kind)
	}
	if err != nil {
		return err
	}
	m.Flags |= AutoValue
	m.AutoKind = kind
	switch kind {
	case schema.AutoCreatedOn:
		m.Flags |= NoDbUpdate
	case schema.AutoRowVersion:
		if c.Entity.RowVersion != nil && c.Entity.RowVersion != m {
			return errors.New("entity already has a row version member")
		}
		m.Flags |= RowVersion
		c.Entity.RowVersion = m
		c.Entity.Flags |= HasRowVersion
	}
	return nil
}

func processIdentity(c *Context, _ schema.Attribute) error {
	m, err := c.typed(schema.KindInt64, schema.KindInt32)
	if err != nil {
		return err
	}
	if c.Entity.IdentityMember != nil && c.Entity.IdentityMember != m {
		return errors.New("entity already has an identity member")
	}
	m.Flags |= Identity | AutoValue | NoDbInsert | NoDbUpdate
	c.Entity.IdentityMember = m
	c.Entity.Flags |= HasIdentity
	return nil
}

func processNoColumn(c *Context, _ schema.Attribute) error {
	m, err := c.member(MemberColumn, MemberTransient)
	if err != nil {
		return err
	}
	if m.Has(PrimaryKey) {
		return errors.New("primary key member must be a column")
	}
	m.Kind = MemberTransient
	m.Column = ""
	return nil
}

func processComputed(c *Context, a schema.Attribute) error {
	m, err := c.member(MemberColumn, MemberTransient)
	if err != nil {
		return err
	}
	fn := a.(schema.ComputedAttr).Fn
	if fn == nil {
		return errors.New("computed member without a function")
	}
	m.Kind = MemberTransient
	m.Column = ""
	m.Flags |= Computed | NoDbInsert | NoDbUpdate
	c.AddInterceptor(m, computedInterceptor(fn))
	return nil
}

func processNoUpdate(c *Context, _ schema.Attribute) error {
	if c.Member == nil {
		c.Entity.Flags |= NoUpdate
		return nil
	}
	m, err := c.member(MemberColumn, MemberEntityRef)
	if err != nil {
		return err
	}
	m.Flags |= NoDbUpdate
	for _, fk := range m.fkCols {
		fk.Flags |= NoDbUpdate
	}
	return nil
}

func processReadOnly(c *Context, _ schema.Attribute) error {
	m, err := c.member(MemberColumn)
	if err != nil {
		return err
	}
	m.Flags |= NoDbInsert | NoDbUpdate
	return nil
}

func processUtc(c *Context, _ schema.Attribute) error {
	m, err := c.typed(schema.KindTime)
	if err != nil {
		return err
	}
	m.Flags |= Utc
	c.AddInterceptor(m, utcInterceptor())
	return nil
}

func processDateOnly(c *Context, _ schema.Attribute) error {
	m, err := c.typed(schema.KindTime)
	if err != nil {
		return err
	}
	m.Flags |= DateOnly
	c.AddInterceptor(m, dateOnlyInterceptor())
	return nil
}

func processHashFor(c *Context, a schema.Attribute) error {
	m, err := c.typed(schema.KindInt32)
	if err != nil {
		return err
	}
	name := a.(schema.HashForAttr).Source
	src := c.Entity.Member(name)
	if src == nil || src.DataType.Kind != schema.KindString {
		return fmt.Errorf("hash source %q must be a string member", name)
	}
	c.AddInterceptor(src, hashInterceptor(m))
	return nil
}

func processSecret(c *Context, _ schema.Attribute) error {
	m, err := c.member(MemberColumn, MemberTransient)
	if err != nil {
		return err
	}
	m.Flags |= Secret
	c.AddInterceptor(m, secretInterceptor())
	return nil
}

// processEntityRef validates placement; the reference itself is wired from
// the attribute before default-tier processors run.
func processEntityRef(c *Context, _ schema.Attribute) error {
	_, err := c.member(MemberEntityRef)
	return err
}

func processListRelation(c *Context, _ schema.Attribute) error {
	_, err := c.member(MemberEntityList)
	return err
}

func processCascadeDelete(c *Context, _ schema.Attribute) error {
	m, err := c.member(MemberEntityRef)
	if err != nil {
		return err
	}
	m.Flags |= CascadeDelete
	m.Ref.Cascade = true
	return nil
}

func processOrderBy(c *Context, a schema.Attribute) error {
	spec := a.(schema.OrderByAttr).Spec
	if c.Member == nil {
		c.Entity.orderSpec = spec
		return nil
	}
	m, err := c.member(MemberEntityList)
	if err != nil {
		return err
	}
	m.List.orderSpec = spec
	return nil
}

func processDiscardOnAbort(c *Context, _ schema.Attribute) error {
	if c.Member != nil {
		return errEntityOnly
	}
	c.Entity.Flags |= DiscardOnAbort
	return nil
}

func processValidate(c *Context, a schema.Attribute) error {
	if c.Member != nil {
		return errEntityOnly
	}
	fn := a.(schema.ValidateAttr).Fn
	if fn == nil {
		return errors.New("validate without a function")
	}
	c.Entity.Validators = append(c.Entity.Validators, fn)
	return nil
}

func processPropertyGroup(c *Context, a schema.Attribute) error {
	m, err := c.member()
	if err != nil {
		return err
	}
	g := a.(schema.PropertyGroupAttr).Group
	for _, have := range m.Groups {
		if have == g {
			return nil
		}
	}
	m.Groups = append(m.Groups, g)
	c.Entity.Groups[g] = append(c.Entity.Groups[g], m)
	return nil
}

func processDefault(c *Context, a schema.Attribute) error {
	m, err := c.member(MemberColumn, MemberTransient)
	if err != nil {
		return err
	}
	m.Default = a.(schema.DefaultAttr).Value
	return nil
}
