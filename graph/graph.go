package graph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoConvergence is returned when index relaxation fails to reach a fixed
// point within twice the vertex count.
var ErrNoConvergence = errors.New("graph: topological index relaxation did not converge")

// Vertex is a graph node.
type Vertex struct {
	Name string
	Data any
	// Index is the topological index assigned by Order.
	Index int
	// SCC is the component number assigned by Order, in Tarjan emit order.
	SCC int
	// NonTrivial is set for vertices in a cycle, including self-loops.
	NonTrivial bool

	out     []*Vertex
	outSet  map[*Vertex]struct{}
	visit   int
	low     int
	onStack bool
}

// Link adds an edge from v to to. Duplicate edges are ignored.
func (v *Vertex) Link(to *Vertex) {
	if _, ok := v.outSet[to]; ok {
		return
	}
	v.outSet[to] = struct{}{}
	v.out = append(v.out, to)
}

// Out returns the targets of v's edges in insertion order.
func (v *Vertex) Out() []*Vertex { return v.out }

// LinksTo reports whether v has an edge to to.
func (v *Vertex) LinksTo(to *Vertex) bool {
	_, ok := v.outSet[to]
	return ok
}

func (v *Vertex) String() string { return v.Name }

// Graph is a directed graph that owns its vertices.
type Graph struct {
	vertices []*Vertex
	byName   map[string]*Vertex
	sccs     [][]*Vertex
	rounds   int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{byName: make(map[string]*Vertex)}
}

// Add returns the vertex with the given name, creating it if needed.
func (g *Graph) Add(name string, data any) *Vertex {
	if v, ok := g.byName[name]; ok {
		if data != nil {
			v.Data = data
		}
		return v
	}
	v := &Vertex{Name: name, Data: data, outSet: make(map[*Vertex]struct{})}
	g.vertices = append(g.vertices, v)
	g.byName[name] = v
	return v
}

// Vertex returns the named vertex, or nil.
func (g *Graph) Vertex(name string) *Vertex { return g.byName[name] }

// Vertices returns all vertices sorted by name.
func (g *Graph) Vertices() []*Vertex {
	vs := append([]*Vertex(nil), g.vertices...)
	sort.Slice(vs, func(i, j int) bool { return vs[i].Name < vs[j].Name })
	return vs
}

// Len returns the number of vertices.
func (g *Graph) Len() int { return len(g.vertices) }

// Components returns the strongly connected components found by the last
// Order call, in ascending topological index.
func (g *Graph) Components() [][]*Vertex { return g.sccs }

// Order computes components and topological indexes. Traversal is driven by
// vertex and edge names, so the result does not depend on insertion order.
func (g *Graph) Order() error {
	vs := g.Vertices()
	for _, v := range vs {
		v.visit, v.low, v.onStack = 0, 0, false
		sort.Slice(v.out, func(i, j int) bool { return v.out[i].Name < v.out[j].Name })
	}
	t := &tarjan{}
	for _, v := range vs {
		if v.visit == 0 {
			t.connect(v)
		}
	}
	levels, err := g.relax(t.sccs)
	if err != nil {
		return err
	}
	order := make([]int, len(t.sccs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return levels[order[i]] < levels[order[j]] })
	g.sccs = make([][]*Vertex, len(order))
	for idx, c := range order {
		comp := t.sccs[c]
		nonTrivial := len(comp) > 1 || comp[0].LinksTo(comp[0])
		for _, v := range comp {
			v.Index = idx
			v.NonTrivial = nonTrivial
		}
		g.sccs[idx] = comp
	}
	return nil
}

// relax computes the level of every component: zero for components without
// outgoing edges, otherwise one more than the highest level it points to.
func (g *Graph) relax(sccs [][]*Vertex) ([]int, error) {
	levels := make([]int, len(sccs))
	limit := 2 * len(g.vertices)
	for g.rounds = 0; ; g.rounds++ {
		if g.rounds > limit {
			return nil, fmt.Errorf("%w after %d rounds", ErrNoConvergence, g.rounds)
		}
		changed := false
		for c, comp := range sccs {
			for _, v := range comp {
				for _, w := range v.out {
					if w.SCC == c {
						continue
					}
					if lvl := levels[w.SCC] + 1; lvl > levels[c] {
						levels[c] = lvl
						changed = true
					}
				}
			}
		}
		if !changed {
			return levels, nil
		}
	}
}

type tarjan struct {
	counter int
	stack   []*Vertex
	sccs    [][]*Vertex
}

func (t *tarjan) connect(v *Vertex) {
	t.counter++
	v.visit, v.low = t.counter, t.counter
	t.stack = append(t.stack, v)
	v.onStack = true
	for _, w := range v.out {
		switch {
		case w.visit == 0:
			t.connect(w)
			v.low = min(v.low, w.low)
		case w.onStack:
			v.low = min(v.low, w.visit)
		}
	}
	if v.low != v.visit {
		return
	}
	var comp []*Vertex
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		w.onStack = false
		w.SCC = len(t.sccs)
		comp = append(comp, w)
		if w == v {
			break
		}
	}
	sort.Slice(comp, func(i, j int) bool { return comp[i].Name < comp[j].Name })
	t.sccs = append(t.sccs, comp)
}
