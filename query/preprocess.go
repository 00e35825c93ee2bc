package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syssam/vela/schema"
)

// prepared is the parameterized form of a command. Locals are replaced by
// parameters numbered in a single index space shared with nested
// sub-selects, so commands that differ only in local values have the same
// shape and share one translated statement.
type prepared struct {
	cmd      *Command
	args     []any
	entities []string
	shape    string
}

func (c *Command) prepare() *prepared {
	if c.prep == nil {
		p := &preparer{entities: make(map[string]struct{})}
		out := p.command(c)
		var sb strings.Builder
		writeCommand(&sb, out)
		c.prep = &prepared{cmd: out, args: p.args, shape: sb.String()}
		for e := range p.entities {
			c.prep.entities = append(c.prep.entities, e)
		}
		sort.Strings(c.prep.entities)
	}
	return c.prep
}

// Args returns the parameter values of the command in index order.
func (c *Command) Args() []any { return c.prepare().args }

// Entities returns the names of all entities the command reads or writes,
// including those of sub-selects. Callers caching query results use it to
// find the results a write to one of these entities makes stale.
func (c *Command) Entities() []string { return c.prepare().entities }

// ShapeKey returns the cache key of the command. Commands with equal keys
// translate to the same statement.
func (c *Command) ShapeKey() string { return c.prepare().shape }

type preparer struct {
	args     []any
	entities map[string]struct{}
}

func (p *preparer) command(c *Command) *Command {
	out := &Command{
		Kind:    c.Kind,
		Entity:  c.Entity,
		Alias:   c.Alias,
		Lock:    c.Lock,
		NoCache: c.NoCache,
	}
	p.entities[c.Entity] = struct{}{}
	for _, j := range c.Joins {
		p.entities[j.Entity] = struct{}{}
		j.On = p.expr(j.On)
		out.Joins = append(out.Joins, j)
	}
	for _, a := range c.Set {
		out.Set = append(out.Set, Assignment{Member: a.Member, Value: p.expr(a.Value)})
	}
	out.Output = p.exprs(c.Output)
	out.Where = p.expr(c.Where)
	out.GroupBy = p.exprs(c.GroupBy)
	out.Having = p.expr(c.Having)
	for _, o := range c.OrderBy {
		out.OrderBy = append(out.OrderBy, Order{X: p.expr(o.X), Desc: o.Desc})
	}
	out.Limit = p.expr(c.Limit)
	out.Offset = p.expr(c.Offset)
	return out
}

func (p *preparer) exprs(xs []Expr) []Expr {
	if len(xs) == 0 {
		return nil
	}
	out := make([]Expr, len(xs))
	for i, x := range xs {
		out[i] = p.expr(x)
	}
	return out
}

func (p *preparer) expr(e Expr) Expr {
	switch x := e.(type) {
	case nil:
		return nil
	case Local:
		switch v := x.Value.(type) {
		case nil:
			return Null
		case *Builder:
			return SubQuery{Cmd: p.command(v.cmd)}
		case *Command:
			return SubQuery{Cmd: p.command(v)}
		}
		p.args = append(p.args, x.Value)
		return param{index: len(p.args) - 1, value: x.Value, list: isList(x.Value)}
	case SubQuery:
		return SubQuery{Cmd: p.command(x.Cmd)}
	case Call:
		return Call{Op: x.Op, Name: x.Name, Args: p.exprs(x.Args)}
	case Alias:
		return Alias{X: p.expr(x.X), Name: x.Name}
	case Group:
		return Group{X: p.expr(x.X)}
	case Order:
		return Order{X: p.expr(x.X), Desc: x.Desc}
	case Filter:
		return Filter{Template: x.Template, Args: p.exprs(x.Args)}
	case Convert:
		return Convert{X: p.expr(x.X), To: x.To}
	default:
		return e
	}
}

func writeCommand(sb *strings.Builder, c *Command) {
	fmt.Fprintf(sb, "%s(%s %s", c.Kind, c.Entity, c.Alias)
	for _, j := range c.Joins {
		fmt.Fprintf(sb, " join(%s %s %t ", j.Entity, j.Alias, j.Left)
		writeExpr(sb, j.On)
		sb.WriteByte(')')
	}
	for _, a := range c.Set {
		fmt.Fprintf(sb, " set(%s ", a.Member)
		writeExpr(sb, a.Value)
		sb.WriteByte(')')
	}
	writeList(sb, " out", c.Output)
	writeClause(sb, " where", c.Where)
	writeList(sb, " group", c.GroupBy)
	writeClause(sb, " having", c.Having)
	for _, o := range c.OrderBy {
		writeClause(sb, " order", o)
	}
	writeClause(sb, " limit", c.Limit)
	writeClause(sb, " offset", c.Offset)
	if c.Lock {
		sb.WriteString(" lock")
	}
	sb.WriteByte(')')
}

func writeClause(sb *strings.Builder, name string, e Expr) {
	if e == nil {
		return
	}
	sb.WriteString(name)
	sb.WriteByte('(')
	writeExpr(sb, e)
	sb.WriteByte(')')
}

func writeList(sb *strings.Builder, name string, xs []Expr) {
	if len(xs) == 0 {
		return
	}
	sb.WriteString(name)
	sb.WriteByte('(')
	for i, x := range xs {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeExpr(sb, x)
	}
	sb.WriteByte(')')
}

func writeExpr(sb *strings.Builder, e Expr) {
	switch x := e.(type) {
	case nil:
		sb.WriteString("nil")
	case Const:
		fmt.Fprintf(sb, "const(%s %T %#v)", x.Type, x.Value, x.Value)
	case param:
		// Only the position and Go type of a parameter shape the statement.
		// Lists of interfaces are typed by their first element.
		fmt.Fprintf(sb, "$%d:%T", x.index, x.value)
		if x.list {
			if et := elemType(x.value, schema.DataType{}); !et.IsZero() {
				fmt.Fprintf(sb, "<%s>", et)
			}
		}
	case Column:
		fmt.Fprintf(sb, "col(%s %s)", x.Alias, x.Path)
	case Call:
		fmt.Fprintf(sb, "%s%s", x.Op, x.Name)
		writeList(sb, "", x.Args)
		if len(x.Args) == 0 {
			sb.WriteString("()")
		}
	case SubQuery:
		writeCommand(sb, x.Cmd)
	case Alias:
		writeExpr(sb, x.X)
		fmt.Fprintf(sb, " as %q", x.Name)
	case Group:
		writeList(sb, "group", []Expr{x.X})
	case Order:
		writeExpr(sb, x.X)
		if x.Desc {
			sb.WriteString(" desc")
		}
	case Filter:
		fmt.Fprintf(sb, "filter%q", x.Template)
		writeList(sb, "", x.Args)
	case Convert:
		fmt.Fprintf(sb, "convert<%s>", x.To)
		writeList(sb, "", []Expr{x.X})
	case List:
		fmt.Fprintf(sb, "list(%s %#v)", x.Elem, x.Values)
	default:
		fmt.Fprintf(sb, "%T", e)
	}
}
