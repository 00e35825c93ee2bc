package model

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

type entitySnapshot struct {
	Name       string           `msgpack:"name"`
	Table      string           `msgpack:"table"`
	Kind       string           `msgpack:"kind"`
	Flags      uint32           `msgpack:"flags"`
	Index      int              `msgpack:"topo"`
	RowVersion string           `msgpack:"row_version,omitempty"`
	Identity   string           `msgpack:"identity,omitempty"`
	Members    []memberSnapshot `msgpack:"members"`
	Keys       []keySnapshot    `msgpack:"keys"`
	Incoming   []string         `msgpack:"incoming,omitempty"`
	Order      []string         `msgpack:"order,omitempty"`
	Groups     [][]string       `msgpack:"groups,omitempty"`
	Validators int              `msgpack:"validators"`
}

type memberSnapshot struct {
	Name         string   `msgpack:"name"`
	Column       string   `msgpack:"column,omitempty"`
	Kind         string   `msgpack:"kind"`
	Type         string   `msgpack:"type"`
	Size         int      `msgpack:"size"`
	Precision    int      `msgpack:"precision"`
	Scale        int      `msgpack:"scale"`
	Flags        uint32   `msgpack:"flags"`
	Auto         string   `msgpack:"auto,omitempty"`
	Default      string   `msgpack:"default,omitempty"`
	Index        int      `msgpack:"index"`
	Interceptors []string `msgpack:"interceptors,omitempty"`
	Ref          []string `msgpack:"ref,omitempty"`
	List         []string `msgpack:"list,omitempty"`
	Groups       []string `msgpack:"groups,omitempty"`
}

type keySnapshot struct {
	Name    string   `msgpack:"name"`
	Kind    uint8    `msgpack:"kind"`
	Members []string `msgpack:"members"`
	Columns []string `msgpack:"columns"`
}

// Snapshot returns a deterministic binary encoding of the model structure.
// Two builds over the same declarations produce equal snapshots.
func (m *Model) Snapshot() ([]byte, error) {
	out := make([]entitySnapshot, 0, len(m.Entities))
	for _, e := range m.Entities {
		out = append(out, snapshotEntity(e))
	}
	return msgpack.Marshal(out)
}

func snapshotEntity(e *Entity) entitySnapshot {
	s := entitySnapshot{
		Name:       e.Name,
		Table:      e.Table,
		Kind:       e.Kind.String(),
		Flags:      uint32(e.Flags),
		Index:      e.TopologicalIndex,
		Validators: len(e.Validators),
	}
	if e.RowVersion != nil {
		s.RowVersion = e.RowVersion.Name
	}
	if e.IdentityMember != nil {
		s.Identity = e.IdentityMember.Name
	}
	for _, m := range e.Members {
		s.Members = append(s.Members, snapshotMember(m))
	}
	for _, k := range e.Keys {
		s.Keys = append(s.Keys, keySnapshot{
			Name:    k.Name,
			Kind:    uint8(k.Kind),
			Members: keyNames(k.Members),
			Columns: keyNames(k.Columns),
		})
	}
	for _, r := range e.IncomingRefs {
		s.Incoming = append(s.Incoming, r.String())
	}
	for _, o := range e.DefaultOrder {
		s.Order = append(s.Order, orderName(o))
	}
	groups := make([]string, 0, len(e.Groups))
	for g := range e.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		row := []string{g}
		for _, m := range e.Groups[g] {
			row = append(row, m.Name)
		}
		s.Groups = append(s.Groups, row)
	}
	return s
}

func snapshotMember(m *Member) memberSnapshot {
	s := memberSnapshot{
		Name:         m.Name,
		Column:       m.Column,
		Kind:         m.Kind.String(),
		Type:         m.DataType.String(),
		Size:         m.Size,
		Precision:    m.Precision,
		Scale:        m.Scale,
		Flags:        uint32(m.Flags),
		Index:        m.ValueIndex,
		Interceptors: m.Interceptors(),
		Groups:       m.Groups,
	}
	if m.AutoKind != 0 {
		s.Auto = m.AutoKind.String()
	}
	if m.Default != nil {
		s.Default = fmt.Sprintf("%T:%v", m.Default, m.Default)
	}
	if r := m.Ref; r != nil {
		s.Ref = []string{r.Target.Name, r.FromKey.Name, r.ToKey.Name, fmt.Sprint(r.Cascade)}
	}
	if l := m.List; l != nil {
		s.List = []string{fmt.Sprint(l.Relation), l.Target.Name, l.ParentRef.String()}
		if l.Link != nil {
			s.List = append(s.List, l.Link.Name, l.OtherRef.String())
		}
		for _, o := range l.OrderBy {
			s.List = append(s.List, orderName(o))
		}
	}
	return s
}

func keyNames(kms []KeyMember) []string {
	names := make([]string, len(kms))
	for i, km := range kms {
		names[i] = orderName(OrderItem(km))
	}
	return names
}

func orderName(o OrderItem) string {
	if o.Desc {
		return "-" + o.Member.Name
	}
	return o.Member.Name
}
