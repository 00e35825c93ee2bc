package model

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/go-openapi/inflect"
	"go.uber.org/zap"

	"github.com/syssam/vela/graph"
	"github.com/syssam/vela/schema"
)

// Defaults applied when a declaration leaves them out.
const (
	DefaultStringSize = 32
	DefaultPrecision  = 18
	DefaultScale      = 4
)

type builder struct {
	opts     options
	log      *Log
	logger   *zap.Logger
	model    *Model
	order    []*Entity
	decls    map[*Entity]*schema.EntityDecl
	aliases  map[string]string
	refState map[*Member]int
}

type pending struct {
	entity *Entity
	member *Member
	attr   schema.Attribute
}

const (
	refExpanding = 1
	refDone      = 2
)

// Build runs the model builder pipeline over decls. The log is returned in
// all cases; on failure the error is a *vela.ModelError holding every error
// entry and the model is nil. Phases after the first failing one are
// skipped.
func Build(decls []*schema.EntityDecl, opts ...Option) (*Model, *Log, error) {
	o := options{logger: zap.NewNop(), replace: make(map[string]*schema.EntityDecl)}
	for _, opt := range opts {
		opt(&o)
	}
	b := &builder{
		opts:     o,
		log:      &Log{},
		logger:   o.logger,
		model:    &Model{byName: make(map[string]*Entity)},
		decls:    make(map[*Entity]*schema.EntityDecl),
		aliases:  make(map[string]string),
		refState: make(map[*Member]int),
	}
	phases := []struct {
		name string
		run  func(decls []*schema.EntityDecl)
	}{
		{"collect entities", b.collectEntities},
		{"customize", func([]*schema.EntityDecl) { b.customize() }},
		{"members", func([]*schema.EntityDecl) { b.buildMembers() }},
		{"primary keys", func([]*schema.EntityDecl) { b.verifyPrimaryKeys() }},
		{"processors", func([]*schema.EntityDecl) { b.runProcessors() }},
		{"complete", func([]*schema.EntityDecl) { b.complete() }},
		{"topology", func([]*schema.EntityDecl) { b.computeTopology() }},
	}
	for _, p := range phases {
		b.logger.Debug("model build phase", zap.String("phase", p.name))
		p.run(decls)
		if b.log.HasErrors() {
			b.logger.Info("model build failed",
				zap.String("phase", p.name),
				zap.Int("errors", len(b.log.Errors())))
			return nil, b.log, b.log.Err()
		}
	}
	b.logger.Info("model built", zap.Int("entities", len(b.model.Entities)))
	return b.model, b.log, nil
}

// resolve follows replacement aliases and returns the named entity.
func (b *builder) resolve(name string) *Entity {
	if alias, ok := b.aliases[name]; ok {
		name = alias
	}
	return b.model.byName[name]
}

func (b *builder) collectEntities(decls []*schema.EntityDecl) {
	used := make(map[string]bool)
	for _, d := range decls {
		if d == nil {
			continue
		}
		if r, ok := b.opts.replace[d.Name]; ok {
			used[d.Name] = true
			if r.Name != d.Name {
				b.aliases[d.Name] = r.Name
			}
			d = r
		}
		if d.Name == "" {
			b.log.Error("entity declaration without a name")
			continue
		}
		if _, dup := b.model.byName[d.Name]; dup {
			b.log.Warn("%s: duplicate declaration ignored", d.Name)
			continue
		}
		e := &Entity{
			Name:       d.Name,
			Table:      inflect.Pluralize(inflect.Underscore(d.Name)),
			members:    make(map[string]*Member),
			Groups:     make(map[string][]*Member),
			ViewOutput: append([]string(nil), d.ViewOutput...),
		}
		if d.View {
			e.Kind = KindView
		}
		b.model.byName[e.Name] = e
		b.model.Entities = append(b.model.Entities, e)
		b.order = append(b.order, e)
		b.decls[e] = d.Clone()
	}
	for old := range b.opts.replace {
		if !used[old] {
			b.log.Error("%s: replaced entity is not declared", old)
		}
	}
	sort.Slice(b.model.Entities, func(i, j int) bool { return b.model.Entities[i].Name < b.model.Entities[j].Name })
	b.logger.Debug("entities collected", zap.Int("count", len(b.order)))
}

func (b *builder) customize() {
	for _, a := range b.opts.added {
		e := b.resolve(a.entity)
		if e == nil {
			b.log.Error("%s: cannot add member %s to unknown entity", a.entity, a.member.Name)
			continue
		}
		d := b.decls[e]
		mc := *a.member
		mc.Attributes = append([]schema.Attribute(nil), a.member.Attributes...)
		d.Members = append(d.Members, &mc)
	}
	for _, ix := range b.opts.indexes {
		e := b.resolve(ix.entity)
		if e == nil {
			b.log.Error("%s: cannot add index to unknown entity", ix.entity)
			continue
		}
		b.decls[e].Attributes = append(b.decls[e].Attributes, schema.Index(ix.members...))
	}
}

func (b *builder) buildMembers() {
	for _, e := range b.order {
		for _, md := range b.decls[e].Members {
			if md.Name == "" {
				b.log.Error("%s: member without a name", e.Name)
				continue
			}
			if e.members[md.Name] != nil {
				b.log.Error("%s.%s: duplicate member", e.Name, md.Name)
				continue
			}
			m := &Member{Entity: e, Name: md.Name, DataType: md.Type}
			t := md.Type
			switch {
			case t.Kind.Scalar():
				m.Kind = MemberColumn
				m.Column = inflect.Underscore(md.Name)
			case t.Kind == schema.KindEntity:
				target := b.resolve(t.Entity)
				if target == nil {
					b.log.Error("%s.%s: unknown entity type %s", e.Name, md.Name, t.Entity)
					continue
				}
				m.Kind = MemberEntityRef
				m.DataType = schema.EntityType(target.Name)
			case t.Kind == schema.KindList && t.Elem != nil && t.Elem.Kind == schema.KindEntity && b.resolve(t.Elem.Entity) != nil:
				m.Kind = MemberEntityList
				m.DataType = schema.ListType(schema.EntityType(b.resolve(t.Elem.Entity).Name))
			default:
				b.log.Error("%s.%s: invalid member type %s, only scalars, entities and lists of entities are supported",
					e.Name, md.Name, t)
				continue
			}
			e.addMember(m)
		}
	}
}

func (e *Entity) addMember(m *Member) {
	e.Members = append(e.Members, m)
	e.members[m.Name] = m
}

func (b *builder) verifyPrimaryKeys() {
	for _, e := range b.order {
		if e.Kind != KindTable {
			continue
		}
		d, count := b.decls[e], 0
		for _, a := range d.Attributes {
			if _, ok := a.(schema.PrimaryKeyAttr); ok {
				count++
			}
		}
		for _, md := range d.Members {
			for _, a := range md.Attributes {
				if _, ok := a.(schema.PrimaryKeyAttr); ok {
					count++
				}
			}
		}
		switch {
		case count == 0:
			b.log.Error("%s: primary key not specified", e.Name)
		case count > 1:
			b.log.Error("%s: multiple primary keys specified", e.Name)
		}
	}
}

func (b *builder) runProcessors() {
	var all []pending
	for _, e := range b.order {
		d := b.decls[e]
		for _, a := range d.Attributes {
			all = append(all, pending{entity: e, attr: a})
		}
		for _, md := range d.Members {
			m := e.members[md.Name]
			for _, a := range md.Attributes {
				all = append(all, pending{entity: e, member: m, attr: a})
			}
		}
	}
	for _, p := range all {
		if processorFor(p.attr.Name()) == nil {
			b.log.Error("%s: no processor registered for attribute %q", p.target(), p.attr.Name())
		}
	}
	if b.log.HasErrors() {
		return
	}
	if b.opts.shuffled {
		r := rand.New(rand.NewSource(b.opts.seed))
		r.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		b.logger.Debug("processor order randomized", zap.Int64("seed", b.opts.seed))
	}
	var system, rest []pending
	for _, p := range all {
		if p.attr.Order() <= schema.OrderSystem {
			system = append(system, p)
		} else {
			rest = append(rest, p)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].attr.Order() < rest[j].attr.Order() })

	b.apply(system)
	if b.log.HasErrors() {
		return
	}
	b.wireRefs()
	b.wireLists()
	if b.log.HasErrors() {
		return
	}
	b.apply(rest)
}

func (p pending) target() string {
	if p.member != nil {
		return p.member.String()
	}
	return p.entity.Name
}

func (b *builder) apply(ps []pending) {
	for _, p := range ps {
		c := &Context{Entity: p.entity, Member: p.member, b: b}
		if err := processorFor(p.attr.Name())(c, p.attr); err != nil {
			b.log.Error("%s: %s: %v", p.target(), p.attr.Name(), err)
		}
	}
}

func (b *builder) complete() {
	for _, e := range b.order {
		b.orderMembers(e)
	}
	for _, e := range b.order {
		b.completeColumns(e)
	}
	for _, e := range b.order {
		b.completeKeys(e)
	}
	if b.log.HasErrors() {
		return
	}
	for _, e := range b.order {
		b.completeEntity(e)
	}
	for _, t := range b.order {
		sort.Slice(t.IncomingRefs, func(i, j int) bool {
			a, c := t.IncomingRefs[i], t.IncomingRefs[j]
			if a.Entity.Name != c.Entity.Name {
				return a.Entity.Name < c.Entity.Name
			}
			return a.Name < c.Name
		})
	}
}

// orderMembers places every hidden foreign key column right after its
// reference member and assigns value indexes.
func (b *builder) orderMembers(e *Entity) {
	declared := make([]*Member, 0, len(e.Members))
	for _, m := range e.Members {
		if m.RefOwner == nil {
			declared = append(declared, m)
		}
	}
	members := make([]*Member, 0, len(e.Members))
	for _, m := range declared {
		members = append(members, m)
		if m.Kind == MemberEntityRef {
			members = append(members, m.fkCols...)
		}
	}
	e.Members = members
	for i, m := range members {
		m.ValueIndex = i
	}
}

func rootTarget(m *Member) *Member {
	for m.RefTarget != nil {
		m = m.RefTarget
	}
	return m
}

func (b *builder) completeColumns(e *Entity) {
	for _, m := range e.Members {
		if m.Kind != MemberColumn && m.Kind != MemberTransient {
			continue
		}
		if m.RefOwner != nil {
			continue
		}
		switch m.DataType.Kind {
		case schema.KindString:
			switch {
			case m.Has(Unlimited):
				m.Size = -1
			case m.declSize > 0:
				m.Size = m.declSize
			default:
				m.Size = DefaultStringSize
			}
		case schema.KindBytes:
			m.Size = -1
			if m.declSize > 0 && !m.Has(Unlimited) {
				m.Size = m.declSize
			}
		case schema.KindDecimal:
			if m.Precision == 0 {
				m.Precision, m.Scale = DefaultPrecision, DefaultScale
			}
		}
	}
}

func (b *builder) completeKeys(e *Entity) {
	for _, m := range e.Members {
		if m.RefOwner != nil {
			root := rootTarget(m)
			m.DataType, m.Size, m.Precision, m.Scale = root.DataType, root.Size, root.Precision, root.Scale
			m.Flags |= m.RefOwner.Flags & (Nullable | PrimaryKey)
			m.Flags |= ForeignKey
		}
	}
	clustered := 0
	for _, k := range e.Keys {
		k.Columns = k.Columns[:0]
		for _, km := range k.Members {
			switch km.Member.Kind {
			case MemberColumn:
				k.Columns = append(k.Columns, km)
			case MemberEntityRef:
				for _, c := range km.Member.fkCols {
					k.Columns = append(k.Columns, KeyMember{Member: c, Desc: km.Desc})
				}
			default:
				b.log.Error("%s: key member %s must be a column or a reference", e.Name, km.Member.Name)
			}
		}
		if k.Is(KeyClustered) {
			clustered++
		}
		if k.Name == "" {
			k.Name = keyName(e, k)
		}
	}
	if clustered > 1 {
		b.log.Error("%s: more than one clustered key", e.Name)
	}
	sort.SliceStable(e.Keys, func(i, j int) bool {
		a, c := e.Keys[i], e.Keys[j]
		if ra, rc := keyRank(a.Kind), keyRank(c.Kind); ra != rc {
			return ra < rc
		}
		return a.Name < c.Name
	})
}

func keyRank(k KeyKind) int {
	switch {
	case k&KeyPrimary != 0:
		return 0
	case k&KeyForeign != 0:
		return 1
	case k&KeyUnique != 0:
		return 2
	default:
		return 3
	}
}

func keyName(e *Entity, k *Key) string {
	if k.Is(KeyPrimary) {
		return "pk_" + e.Table
	}
	prefix := "ix_"
	switch {
	case k.Is(KeyForeign):
		prefix = "fk_"
	case k.Is(KeyUnique):
		prefix = "uq_"
	}
	parts := []string{e.Table}
	for _, km := range k.Members {
		parts = append(parts, inflect.Underscore(km.Member.Name))
	}
	return prefix + strings.Join(parts, "_")
}

func (b *builder) completeEntity(e *Entity) {
	e.RefMembers, e.Lists = nil, nil
	nonKeyUpdatable := false
	for _, m := range e.Members {
		switch m.Kind {
		case MemberEntityRef:
			e.RefMembers = append(e.RefMembers, m)
			m.Ref.Target.IncomingRefs = append(m.Ref.Target.IncomingRefs, m)
			if m.Ref.Cascade {
				m.Ref.Target.Flags |= CascadeRelevant
			}
			if m.Ref.Target.Has(HasIdentity) {
				e.Flags |= ReferencesIdentity
			}
		case MemberEntityList:
			e.Lists = append(e.Lists, m)
			if m.List.orderSpec != "" {
				items, err := parseOrder(m.List.Target, m.List.orderSpec)
				if err != nil {
					b.log.Error("%s: %v", m, err)
				}
				m.List.OrderBy = items
			}
		case MemberColumn:
			if m.Has(PrimaryKey) {
				m.Flags |= NoDbUpdate
			}
			if !m.Has(NoDbUpdate) {
				nonKeyUpdatable = true
			}
		}
		b.completeDefault(m)
		composeAccessor(m)
	}
	if !nonKeyUpdatable {
		e.Flags |= NoUpdate
	}
	if e.orderSpec != "" {
		items, err := parseOrder(e, e.orderSpec)
		if err != nil {
			b.log.Error("%s: %v", e.Name, err)
		}
		e.DefaultOrder = items
	}
	for g, ms := range e.Groups {
		sort.Slice(ms, func(i, j int) bool { return ms[i].ValueIndex < ms[j].ValueIndex })
		e.Groups[g] = ms
	}
	for _, m := range e.Members {
		sort.Strings(m.Groups)
	}
	if e.Kind == KindView {
		out := make(map[string]bool, len(e.ViewOutput))
		for _, c := range e.ViewOutput {
			out[c] = true
		}
		for _, m := range e.Members {
			if m.Kind == MemberColumn && !out[m.Column] && !out[m.Name] {
				b.log.Error("%s: view does not output member %s", e.Name, m.Name)
			}
		}
	}
}

func (b *builder) completeDefault(m *Member) {
	if m.Default != nil {
		v, err := m.DataType.Convert(m.Default)
		if err != nil {
			b.log.Error("%s: invalid default: %v", m, err)
			return
		}
		m.Default = v
		return
	}
	// Foreign key columns stay nil until their reference is assigned, so an
	// unset required reference fails validation.
	if m.Kind == MemberColumn && m.RefOwner == nil && !m.Has(Nullable) && !m.Has(AutoValue) {
		m.Default = m.DataType.Zero()
	}
}

func parseOrder(e *Entity, spec string) ([]OrderItem, error) {
	var items []OrderItem
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		item := OrderItem{}
		switch {
		case strings.HasPrefix(part, "-"):
			item.Desc, part = true, part[1:]
		case strings.HasSuffix(strings.ToLower(part), " desc"):
			item.Desc, part = true, strings.TrimSpace(part[:len(part)-5])
		}
		m := e.Member(part)
		if m == nil || (m.Kind != MemberColumn && m.Kind != MemberEntityRef) {
			return nil, fmt.Errorf("order by: %s has no column or reference member %q", e.Name, part)
		}
		item.Member = m
		items = append(items, item)
	}
	return items, nil
}

// computeTopology builds the dependency graph, injects cascade edges and
// assigns topological indexes.
func (b *builder) computeTopology() {
	g := graph.New()
	var tables []*Entity
	for _, e := range b.model.Entities {
		if e.Kind == KindTable {
			tables = append(tables, e)
			g.Add(e.Name, e)
		}
	}
	for _, e := range tables {
		for _, m := range e.RefMembers {
			if t := m.Ref.Target; t.Kind == KindTable {
				g.Vertex(e.Name).Link(g.Vertex(t.Name))
			}
		}
	}
	// Deleting a cascade target removes the dependent rows implicitly, so
	// the non-cascade targets of those rows must be deleted after it. The
	// rule is applied through whole cascade chains.
	for _, e := range tables {
		var plain []*Entity
		for _, m := range e.RefMembers {
			if !m.Ref.Cascade && m.Ref.Target.Kind == KindTable {
				plain = append(plain, m.Ref.Target)
			}
		}
		if len(plain) == 0 {
			continue
		}
		for _, a := range cascadeClosure(e) {
			for _, y := range plain {
				if y == a {
					continue
				}
				g.Vertex(a.Name).Link(g.Vertex(y.Name))
				b.logger.Debug("cascade edge injected",
					zap.String("from", a.Name),
					zap.String("to", y.Name),
					zap.String("via", e.Name))
			}
		}
	}
	if err := g.Order(); err != nil {
		b.log.Error("internal error: %v", err)
		return
	}
	for _, v := range g.Vertices() {
		e := v.Data.(*Entity)
		e.TopologicalIndex = v.Index
		if v.NonTrivial {
			e.Flags |= NonTrivialGroup
		}
	}
}

// cascadeClosure returns the entities reachable from e through cascade
// references, e excluded.
func cascadeClosure(e *Entity) []*Entity {
	seen := map[*Entity]bool{e: true}
	var out []*Entity
	queue := []*Entity{e}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, m := range cur.RefMembers {
			t := m.Ref.Target
			if !m.Ref.Cascade || seen[t] || t.Kind != KindTable {
				continue
			}
			seen[t] = true
			out = append(out, t)
			queue = append(queue, t)
		}
	}
	return out
}
