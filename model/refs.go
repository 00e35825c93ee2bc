package model

import (
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/syssam/vela/schema"
)

func (b *builder) wireRefs() {
	for _, e := range b.sortedOrder() {
		for _, m := range append([]*Member(nil), e.Members...) {
			if m.Kind == MemberEntityRef {
				b.ensureRef(m)
			}
		}
	}
}

// sortedOrder returns entities by name so wiring does not depend on the
// declaration order.
func (b *builder) sortedOrder() []*Entity {
	return b.model.Entities
}

func memberAttr[T schema.Attribute](b *builder, m *Member) (T, bool) {
	var zero T
	md := b.decls[m.Entity].Member(m.Name)
	if md == nil {
		return zero, false
	}
	for _, a := range md.Attributes {
		if t, ok := a.(T); ok {
			return t, true
		}
	}
	return zero, false
}

// ensureRef creates the foreign key columns and key of a reference member.
// Target keys made of references are expanded first.
func (b *builder) ensureRef(m *Member) bool {
	switch b.refState[m] {
	case refDone:
		return true
	case refExpanding:
		b.log.Error("%s: circular reference in primary keys", m)
		return false
	}
	b.refState[m] = refExpanding
	e, target := m.Entity, b.model.byName[m.DataType.Entity]
	toKey := target.PrimaryKey
	attr, _ := memberAttr[schema.EntityRefAttr](b, m)
	if attr.TargetUnique != "" {
		toKey = findKey(target, KeyUnique, attr.TargetUnique)
		if toKey == nil {
			b.log.Error("%s: target %s has no unique key on %s", m, target.Name, attr.TargetUnique)
			return false
		}
	}
	if toKey == nil {
		b.log.Error("%s: target %s has no primary key", m, target.Name)
		return false
	}
	cols, ok := b.expandKey(toKey)
	if !ok {
		return false
	}
	prefix := inflect.Underscore(m.Name)
	for _, c := range cols {
		name := m.Name + "_" + c.Member.Name
		if e.members[name] != nil {
			b.log.Error("%s: foreign key column %s conflicts with a declared member", m, name)
			return false
		}
		fk := &Member{
			Entity:    e,
			Name:      name,
			Column:    prefix + "_" + c.Member.Column,
			Kind:      MemberColumn,
			DataType:  c.Member.DataType,
			Flags:     ForeignKey | m.Flags&PrimaryKey,
			RefOwner:  m,
			RefTarget: c.Member,
		}
		m.fkCols = append(m.fkCols, fk)
		e.addMember(fk)
	}
	from := &Key{Kind: KeyForeign, Entity: e, Members: []KeyMember{{Member: m}}, Name: attr.FKName}
	e.Keys = append(e.Keys, from)
	m.Ref = &Reference{Target: target, FromKey: from, ToKey: toKey}
	b.refState[m] = refDone
	return true
}

// expandKey returns the key columns, expanding reference members.
func (b *builder) expandKey(k *Key) ([]KeyMember, bool) {
	var cols []KeyMember
	for _, km := range k.Members {
		if km.Member.Kind != MemberEntityRef {
			cols = append(cols, km)
			continue
		}
		if !b.ensureRef(km.Member) {
			return nil, false
		}
		for _, c := range km.Member.fkCols {
			cols = append(cols, KeyMember{Member: c, Desc: km.Desc})
		}
	}
	k.Columns = cols
	return cols, true
}

// findKey returns the key of kind whose members are the comma separated
// names in spec.
func findKey(e *Entity, kind KeyKind, spec string) *Key {
	for _, k := range e.Keys {
		if !k.Is(kind) || len(k.Members) == 0 {
			continue
		}
		names := make([]string, len(k.Members))
		for i, km := range k.Members {
			names[i] = km.Member.Name
		}
		if strings.Join(names, ",") == strings.ReplaceAll(spec, " ", "") || k.Name == spec {
			return k
		}
	}
	return nil
}

func (b *builder) wireLists() {
	for _, e := range b.sortedOrder() {
		for _, m := range e.Members {
			if m.Kind != MemberEntityList {
				continue
			}
			target := b.model.byName[m.DataType.Elem.Entity]
			if m2m, ok := memberAttr[schema.ManyToManyAttr](b, m); ok {
				b.wireManyToMany(m, target, m2m)
				continue
			}
			o2m, _ := memberAttr[schema.OneToManyAttr](b, m)
			parent := b.backRef(m, target, e, o2m.ThisRef)
			if parent == nil {
				continue
			}
			m.List = &ListInfo{Relation: OneToMany, Target: target, ParentRef: parent}
		}
	}
}

func (b *builder) wireManyToMany(m *Member, target *Entity, a schema.ManyToManyAttr) {
	link := b.resolve(a.Link)
	if link == nil {
		b.log.Error("%s: unknown link entity %s", m, a.Link)
		return
	}
	if m.Entity == target && (a.ThisRef == "" || a.OtherRef == "") {
		b.log.Error("%s: self many-to-many needs explicit link references", m)
		return
	}
	thisRef := b.backRef(m, link, m.Entity, a.ThisRef)
	otherRef := b.backRef(m, link, target, a.OtherRef)
	if thisRef == nil || otherRef == nil {
		return
	}
	m.List = &ListInfo{Relation: ManyToMany, Target: target, Link: link, ParentRef: thisRef, OtherRef: otherRef}
}

// backRef finds the reference member of on that targets owner. When name is
// empty the reference must be unique.
func (b *builder) backRef(list *Member, on, owner *Entity, name string) *Member {
	if name != "" {
		ref := on.Member(name)
		if ref == nil || ref.Kind != MemberEntityRef || ref.Ref == nil || ref.Ref.Target != owner {
			b.log.Error("%s: %s.%s is not a reference to %s", list, on.Name, name, owner.Name)
			return nil
		}
		return ref
	}
	var found []*Member
	for _, ref := range on.Members {
		if ref.Kind == MemberEntityRef && ref.Ref != nil && ref.Ref.Target == owner {
			found = append(found, ref)
		}
	}
	switch len(found) {
	case 1:
		return found[0]
	case 0:
		b.log.Error("%s: %s has no reference to %s", list, on.Name, owner.Name)
	default:
		b.log.Error("%s: %s has several references to %s, name one explicitly", list, on.Name, owner.Name)
	}
	return nil
}
