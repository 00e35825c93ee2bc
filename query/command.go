package query

import "github.com/syssam/vela/dialect"

// Kind is the kind of a command.
type Kind uint8

// Command kinds.
const (
	KindSelect Kind = iota
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "select"
	}
}

// Join adds a source to a select.
type Join struct {
	Entity string
	Alias  string
	On     Expr
	Left   bool
}

// Assignment sets a member in an update command.
type Assignment struct {
	Member string
	Value  Expr
}

// Set returns an assignment. A non-Expr value is captured as a local.
func Set(member string, v any) Assignment {
	if e, ok := v.(Expr); ok {
		return Assignment{Member: member, Value: e}
	}
	return Assignment{Member: member, Value: V(v)}
}

// Command is a select, set-based update or set-based delete over one root
// entity.
type Command struct {
	Kind    Kind
	Entity  string
	Alias   string
	Joins   []Join
	Output  []Expr
	Where   Expr
	GroupBy []Expr
	Having  Expr
	OrderBy []Order
	Lock    bool
	Limit   Expr
	Offset  Expr
	Set     []Assignment
	// NoCache keeps the translation out of the statement cache.
	NoCache bool

	prep *prepared
}

// Builder builds a select command fluently.
type Builder struct {
	cmd *Command
}

// From starts a query over entity. The optional alias names the root
// source; it defaults to "t0".
func From(entity string, alias ...string) *Builder {
	a := "t0"
	if len(alias) > 0 && alias[0] != "" {
		a = alias[0]
	}
	return &Builder{cmd: &Command{Kind: KindSelect, Entity: entity, Alias: a}}
}

// Join adds an inner join.
func (b *Builder) Join(entity, alias string, on Expr) *Builder {
	b.cmd.Joins = append(b.cmd.Joins, Join{Entity: entity, Alias: alias, On: on})
	return b
}

// LeftJoin adds a left outer join.
func (b *Builder) LeftJoin(entity, alias string, on Expr) *Builder {
	b.cmd.Joins = append(b.cmd.Joins, Join{Entity: entity, Alias: alias, On: on, Left: true})
	return b
}

// Select sets the output expressions. Without output, a select returns the
// root entity's columns and maps rows to records.
func (b *Builder) Select(xs ...Expr) *Builder {
	b.cmd.Output = append(b.cmd.Output, xs...)
	return b
}

// Where adds filter conditions, joined with AND.
func (b *Builder) Where(conds ...Expr) *Builder {
	for _, c := range conds {
		b.cmd.Where = and(b.cmd.Where, c)
	}
	return b
}

// GroupBy adds grouping expressions.
func (b *Builder) GroupBy(xs ...Expr) *Builder {
	b.cmd.GroupBy = append(b.cmd.GroupBy, xs...)
	return b
}

// Having adds group filter conditions.
func (b *Builder) Having(conds ...Expr) *Builder {
	for _, c := range conds {
		b.cmd.Having = and(b.cmd.Having, c)
	}
	return b
}

// OrderBy adds ordering terms. Plain expressions sort ascending.
func (b *Builder) OrderBy(xs ...Expr) *Builder {
	for _, x := range xs {
		o, ok := x.(Order)
		if !ok {
			o = Asc(x)
		}
		b.cmd.OrderBy = append(b.cmd.OrderBy, o)
	}
	return b
}

// ForUpdate locks the selected rows where the dialect supports it.
func (b *Builder) ForUpdate() *Builder {
	b.cmd.Lock = true
	return b
}

// Limit bounds the number of rows. The value is a parameter, so queries
// differing only in their limit share a statement.
func (b *Builder) Limit(n int) *Builder {
	b.cmd.Limit = V(int64(n))
	return b
}

// Offset skips rows. It requires a limit.
func (b *Builder) Offset(n int) *Builder {
	b.cmd.Offset = V(int64(n))
	return b
}

// NoCache keeps the command out of the statement cache.
func (b *Builder) NoCache() *Builder {
	b.cmd.NoCache = true
	return b
}

// Command returns a copy of the select command.
func (b *Builder) Command() *Command { return b.clone() }

// Count returns a command counting the matching rows.
func (b *Builder) Count() *Command {
	c := b.clone()
	c.Output = []Expr{CountAll()}
	c.OrderBy = nil
	return c
}

// Update returns a set-based update of the matching rows.
func (b *Builder) Update(sets ...Assignment) *Command {
	c := b.clone()
	c.Kind = KindUpdate
	c.Set = append([]Assignment(nil), sets...)
	return c
}

// Delete returns a set-based delete of the matching rows.
func (b *Builder) Delete() *Command {
	c := b.clone()
	c.Kind = KindDelete
	return c
}

func (b *Builder) clone() *Command {
	c := *b.cmd
	c.prep = nil
	c.Joins = append([]Join(nil), b.cmd.Joins...)
	c.Output = append([]Expr(nil), b.cmd.Output...)
	c.GroupBy = append([]Expr(nil), b.cmd.GroupBy...)
	c.OrderBy = append([]Order(nil), b.cmd.OrderBy...)
	return &c
}

func and(a, b Expr) Expr {
	if a == nil {
		return b
	}
	if c, ok := a.(Call); ok && c.Op == dialect.OpAnd && c.Name == "" {
		return Call{Op: dialect.OpAnd, Args: append(append([]Expr(nil), c.Args...), b)}
	}
	return And(a, b)
}
