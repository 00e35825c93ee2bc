package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/syssam/vela/model"
	"github.com/syssam/vela/query"
)

// EntityList is the value of a one-to-many or many-to-many list member.
// Items are loaded on first access; changes made with Add and Remove are
// applied on save.
type EntityList struct {
	owner  *Record
	member *model.Member
	// mu serializes loading when a ConcurrentReadOnly session shares the
	// list between goroutines.
	mu      sync.Mutex
	loaded  bool
	items   []*Record
	added   []*Record
	removed []*Record
}

// Member returns the list member.
func (l *EntityList) Member() *model.Member { return l.member }

// Items returns the list items, loading them from storage on first use.
func (l *EntityList) Items(ctx context.Context) ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		items, err := l.load(ctx)
		if err != nil {
			return nil, err
		}
		l.items, l.loaded = items, true
	}
	out := make([]*Record, 0, len(l.items)+len(l.added))
	for _, r := range l.items {
		if r.status != StatusFantom && r.status != StatusDeleting && !contains(l.removed, r) && !contains(l.added, r) {
			out = append(out, r)
		}
	}
	return append(out, l.added...), nil
}

// Len returns the number of items.
func (l *EntityList) Len(ctx context.Context) (int, error) {
	items, err := l.Items(ctx)
	return len(items), err
}

// Add appends r. For one-to-many lists the reference of r is pointed at
// the owner; many-to-many lists get a link record on save.
func (l *EntityList) Add(r *Record) error {
	info := l.member.List
	if r.entity != info.Target {
		return fmt.Errorf("session: %s holds %s, not %s", l.member, info.Target.Name, r.entity.Name)
	}
	if err := l.owner.writable(); err != nil {
		return err
	}
	if info.Relation == model.OneToMany {
		if err := r.SetRef(info.ParentRef.Name, l.owner); err != nil {
			return err
		}
	} else {
		l.owner.session.track(l.owner)
	}
	if i := index(l.removed, r); i >= 0 {
		l.removed = append(l.removed[:i], l.removed[i+1:]...)
		return nil
	}
	if !contains(l.added, r) {
		l.added = append(l.added, r)
	}
	return nil
}

// Remove takes r out of the list. A one-to-many item has its reference
// cleared, which requires a nullable reference; delete the item instead
// otherwise.
func (l *EntityList) Remove(r *Record) error {
	info := l.member.List
	if err := l.owner.writable(); err != nil {
		return err
	}
	if info.Relation == model.OneToMany {
		if !info.ParentRef.Has(model.Nullable) {
			return fmt.Errorf("session: %s is required; delete the %s instead", info.ParentRef, r.entity.Name)
		}
		if err := r.SetRef(info.ParentRef.Name, nil); err != nil {
			return err
		}
	} else {
		l.owner.session.track(l.owner)
	}
	if i := index(l.added, r); i >= 0 {
		l.added = append(l.added[:i], l.added[i+1:]...)
		return nil
	}
	if !contains(l.removed, r) {
		l.removed = append(l.removed, r)
	}
	return nil
}

func (l *EntityList) pending() bool {
	return len(l.added) > 0 || len(l.removed) > 0
}

func (l *EntityList) load(ctx context.Context) ([]*Record, error) {
	info := l.member.List
	s := l.owner.session
	if l.owner.status == StatusNew {
		return nil, nil
	}
	var b *query.Builder
	switch info.Relation {
	case model.OneToMany:
		b = query.From(info.Target.Name, "t").Where(l.parentMatch("t", info.ParentRef))
	case model.ManyToMany:
		var on []query.Expr
		for _, fk := range info.OtherRef.ForeignKeyColumns() {
			on = append(on, query.Eq(query.Col("l", fk.Name), query.Col("t", fk.RefTarget.Name)))
		}
		b = query.From(info.Target.Name, "t").
			Join(info.Link.Name, "l", conj(on)).
			Where(l.parentMatch("l", info.ParentRef))
	default:
		return nil, fmt.Errorf("session: %s has unknown relation %d", l.member, info.Relation)
	}
	for _, o := range info.OrderBy {
		x := query.Col("t", o.Member.Name)
		if o.Desc {
			b.OrderBy(query.Desc(x))
		} else {
			b.OrderBy(query.Asc(x))
		}
	}
	res, err := s.Execute(ctx, b.Command())
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", l.member, err)
	}
	return res.([]*Record), nil
}

// parentMatch matches the rows of alias whose ref points at the owner.
func (l *EntityList) parentMatch(alias string, ref *model.Member) query.Expr {
	var conds []query.Expr
	for _, fk := range ref.ForeignKeyColumns() {
		conds = append(conds, query.Eq(query.Col(alias, fk.Name), query.V(l.owner.values[fk.RefTarget.ValueIndex])))
	}
	return conj(conds)
}

// links creates and deletes the link records of a many-to-many list.
func (l *EntityList) links(ctx context.Context) error {
	info := l.member.List
	if info.Relation != model.ManyToMany || !l.pending() {
		return nil
	}
	s := l.owner.session
	for _, r := range l.added {
		link, err := s.New(info.Link.Name)
		if err != nil {
			return err
		}
		if err := link.SetRef(info.ParentRef.Name, l.owner); err != nil {
			return err
		}
		if err := link.SetRef(info.OtherRef.Name, r); err != nil {
			return err
		}
	}
	for _, r := range l.removed {
		conds := []query.Expr{l.parentMatch("l", info.ParentRef)}
		for _, fk := range info.OtherRef.ForeignKeyColumns() {
			conds = append(conds, query.Eq(query.Col("l", fk.Name), query.V(r.values[fk.RefTarget.ValueIndex])))
		}
		res, err := s.Execute(ctx, query.From(info.Link.Name, "l").Where(conds...).Command())
		if err != nil {
			return err
		}
		for _, link := range res.([]*Record) {
			if err := s.Delete(link); err != nil {
				return err
			}
		}
	}
	l.added, l.removed = nil, nil
	return nil
}

func (l *EntityList) reset() {
	l.loaded = false
	l.items = nil
}

func conj(xs []query.Expr) query.Expr {
	if len(xs) == 1 {
		return xs[0]
	}
	return query.And(xs...)
}

func index(rs []*Record, r *Record) int {
	for i, x := range rs {
		if x == r {
			return i
		}
	}
	return -1
}

func contains(rs []*Record, r *Record) bool { return index(rs, r) >= 0 }
