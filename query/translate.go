package query

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/syssam/vela"
	"github.com/syssam/vela/dialect"
	dsql "github.com/syssam/vela/dialect/sql"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/schema"
)

// ErrJoinOrder is returned when join dependencies form a cycle.
var ErrJoinOrder = errors.New("query: join order does not converge")

// Translation is a translated command.
type Translation struct {
	Kind      Kind
	Statement *dsql.Statement
	// Entity is the root entity of the command.
	Entity *model.Entity
	// Columns is set for selects returning entity rows: the selected
	// columns in output order.
	Columns []*model.Member
	// Scalar is set for selects returning a single aggregate value.
	Scalar bool
}

// Translator translates commands for one model and dialect.
type Translator struct {
	model   *model.Model
	dialect dialect.Dialect
	cache   vela.StatementCache
	logger  *zap.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithCache sets the statement cache. A nil cache disables caching.
func WithCache(c vela.StatementCache) Option {
	return func(t *Translator) { t.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Translator) { t.logger = l }
}

// NewTranslator returns a translator using DefaultCache.
func NewTranslator(m *model.Model, d dialect.Dialect, opts ...Option) *Translator {
	t := &Translator{model: m, dialect: d, cache: DefaultCache, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate translates cmd with the process-wide statement cache.
func Translate(m *model.Model, d dialect.Dialect, cmd *Command) (*Translation, error) {
	return NewTranslator(m, d).Translate(cmd)
}

// Dialect returns the translator dialect.
func (t *Translator) Dialect() dialect.Dialect { return t.dialect }

// Model returns the translator model.
func (t *Translator) Model() *model.Model { return t.model }

// Translate returns the statement of cmd. Bind it with cmd.Args().
func (t *Translator) Translate(cmd *Command) (*Translation, error) {
	p := cmd.prepare()
	if cmd.NoCache || t.cache == nil {
		return t.translate(p.cmd)
	}
	key := fmt.Sprintf("%p|%s|%s", t.model, t.dialect.Name(), p.shape)
	v, err := t.cache.LoadOrBuild(key, func() (any, error) {
		tr, err := t.translate(p.cmd)
		if err == nil {
			t.logger.Debug("statement translated",
				zap.String("entity", cmd.Entity),
				zap.Stringer("kind", cmd.Kind),
				zap.String("sql", tr.Statement.SQL))
		}
		return tr, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*Translation), nil
}

func (t *Translator) translate(c *Command) (*Translation, error) {
	s, err := newScope(t, c, nil)
	if err != nil {
		return nil, err
	}
	var f dsql.Fragment
	tr := &Translation{Kind: c.Kind, Entity: s.root.entity}
	switch c.Kind {
	case KindSelect:
		f, err = s.selectStmt(tr)
	case KindUpdate:
		f, err = s.updateStmt()
	case KindDelete:
		f, err = s.deleteStmt()
	default:
		err = fmt.Errorf("query: unknown command kind %d", c.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("query: %s %s: %w", c.Kind, c.Entity, err)
	}
	if tr.Statement, err = dsql.Render(f, t.dialect); err != nil {
		return nil, fmt.Errorf("query: %s %s: %w", c.Kind, c.Entity, err)
	}
	return tr, nil
}

// source is a table of the FROM clause.
type source struct {
	alias  string
	entity *model.Entity
	on     Expr
	onFrag dsql.Fragment
	left   bool
	// deps are the aliases the join condition refers to.
	deps map[string]bool
	// nav is the reference member of an implicit navigation join.
	nav    *model.Member
	parent *source
	rank   int
	order  int
}

// scope translates one command; sub-selects get a child scope that
// resolves unknown aliases in its parent.
type scope struct {
	t       *Translator
	cmd     *Command
	parent  *scope
	root    *source
	sources []*source
	byAlias map[string]*source
	// qualify is false for update and delete, which reference columns by
	// table name.
	qualify bool
	// refs collects aliases while a join condition is translated.
	refs map[string]bool
}

func newScope(t *Translator, c *Command, parent *scope) (*scope, error) {
	e := t.model.Entity(c.Entity)
	if e == nil {
		return nil, fmt.Errorf("query: unknown entity %q", c.Entity)
	}
	s := &scope{t: t, cmd: c, parent: parent, byAlias: make(map[string]*source), qualify: c.Kind == KindSelect}
	s.root = &source{alias: c.Alias, entity: e}
	s.add(s.root)
	if len(c.Joins) > 0 && !s.qualify {
		return nil, fmt.Errorf("query: %s %s cannot join", c.Kind, c.Entity)
	}
	for _, j := range c.Joins {
		je := t.model.Entity(j.Entity)
		if je == nil {
			return nil, fmt.Errorf("query: unknown entity %q", j.Entity)
		}
		if j.Alias == "" || s.byAlias[j.Alias] != nil {
			return nil, fmt.Errorf("query: join alias %q is empty or not unique", j.Alias)
		}
		s.add(&source{alias: j.Alias, entity: je, on: j.On, left: j.Left})
	}
	return s, nil
}

func (s *scope) add(src *source) {
	src.order = len(s.sources)
	s.sources = append(s.sources, src)
	s.byAlias[src.alias] = src
}

func (s *scope) d() dialect.Dialect { return s.t.dialect }

func (s *scope) selectStmt(tr *Translation) (dsql.Fragment, error) {
	c := s.cmd
	var out []dsql.Fragment
	if len(c.Output) == 0 {
		for _, m := range s.root.entity.Columns() {
			out = append(out, dsql.Ident(s.root.alias, m.Column))
			tr.Columns = append(tr.Columns, m)
		}
	} else {
		for _, x := range c.Output {
			f, err := s.expr(x)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		tr.Scalar = len(c.Output) == 1 && isAggregate(c.Output[0])
	}
	where, err := s.optional(c.Where)
	if err != nil {
		return nil, err
	}
	group, err := s.list(c.GroupBy)
	if err != nil {
		return nil, err
	}
	having, err := s.optional(c.Having)
	if err != nil {
		return nil, err
	}
	orders := c.OrderBy
	if len(orders) == 0 && tr.Columns != nil {
		for _, o := range s.root.entity.DefaultOrder {
			orders = append(orders, Order{X: Col(s.root.alias, o.Member.Name), Desc: o.Desc})
		}
	}
	var order []dsql.Fragment
	for _, o := range orders {
		f, err := s.expr(o.X)
		if err != nil {
			return nil, err
		}
		if o.Desc {
			f = dsql.Join(f, dsql.Text(" DESC"))
		}
		order = append(order, f)
	}
	limit, err := s.limit()
	if err != nil {
		return nil, err
	}
	from, err := s.from()
	if err != nil {
		return nil, err
	}

	parts := []dsql.Fragment{dsql.Text("SELECT "), dsql.List(", ", out...), dsql.Text(" FROM "), from}
	if where != nil {
		parts = append(parts, dsql.Text(" WHERE "), where)
	}
	if len(group) > 0 {
		parts = append(parts, dsql.Text(" GROUP BY "), dsql.List(", ", group...))
	}
	if having != nil {
		parts = append(parts, dsql.Text(" HAVING "), having)
	}
	if len(order) > 0 {
		parts = append(parts, dsql.Text(" ORDER BY "), dsql.List(", ", order...))
	}
	if limit != nil {
		parts = append(parts, dsql.Text(" "), limit)
	}
	// Dialects without a lock template lock at the transaction level.
	if c.Lock && s.d().Template(dialect.OpLock) != nil {
		parts = append(parts, dsql.Text(" "), dsql.Apply(dialect.OpLock))
	}
	return dsql.Join(parts...), nil
}

func (s *scope) limit() (dsql.Fragment, error) {
	c := s.cmd
	switch {
	case c.Limit == nil && c.Offset == nil:
		return nil, nil
	case c.Limit == nil:
		return nil, errors.New("query: offset requires a limit")
	}
	lim, err := s.expr(c.Limit)
	if err != nil {
		return nil, err
	}
	if c.Offset == nil {
		return dsql.Apply(dialect.OpLimit, lim), nil
	}
	off, err := s.expr(c.Offset)
	if err != nil {
		return nil, err
	}
	return dsql.Apply(dialect.OpLimitOffset, lim, off), nil
}

// from renders the sources. Join conditions are translated first since
// they may add navigation joins; the joins are then ordered so that every
// join follows the sources its condition refers to.
func (s *scope) from() (dsql.Fragment, error) {
	for i := 1; i < len(s.sources); i++ {
		src := s.sources[i]
		if src.nav != nil {
			continue
		}
		s.refs = make(map[string]bool)
		f, err := s.expr(src.on)
		if err != nil {
			return nil, err
		}
		src.onFrag, src.deps, s.refs = f, s.refs, nil
		delete(src.deps, src.alias)
	}
	joins, err := s.orderJoins()
	if err != nil {
		return nil, err
	}
	parts := []dsql.Fragment{dsql.Ident(s.root.entity.Table), dsql.Text(" AS "), dsql.Ident(s.root.alias)}
	for _, src := range joins {
		kw := " INNER JOIN "
		if src.left {
			kw = " LEFT JOIN "
		}
		parts = append(parts, dsql.Text(kw), dsql.Ident(src.entity.Table), dsql.Text(" AS "), dsql.Ident(src.alias))
		if src.onFrag != nil {
			parts = append(parts, dsql.Text(" ON "), src.onFrag)
		} else {
			parts = append(parts, dsql.Text(" ON 1 = 1"))
		}
	}
	return dsql.Join(parts...), nil
}

// orderJoins stabilizes join ranks: a join ranks one above the highest
// ranked source it depends on. Ranks of acyclic dependencies settle within
// the number of sources; relaxation is bounded at twice that.
func (s *scope) orderJoins() ([]*source, error) {
	joins := s.sources[1:]
	limit := 2 * len(s.sources)
	for pass := 0; ; pass++ {
		if pass >= limit {
			return nil, ErrJoinOrder
		}
		changed := false
		for _, src := range joins {
			r := 1
			for a := range src.deps {
				if dep := s.byAlias[a]; dep != nil && dep.rank+1 > r {
					r = dep.rank + 1
				}
			}
			if r != src.rank {
				src.rank, changed = r, true
			}
		}
		if !changed {
			break
		}
	}
	out := append([]*source(nil), joins...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		return out[i].order < out[j].order
	})
	return out, nil
}

func (s *scope) updateStmt() (dsql.Fragment, error) {
	e := s.root.entity
	if len(s.cmd.Set) == 0 {
		return nil, errors.New("query: update without assignments")
	}
	var sets []dsql.Fragment
	for _, a := range s.cmd.Set {
		m, err := column(e, a.Member)
		if err != nil {
			return nil, err
		}
		if m.Has(model.PrimaryKey) || m.Has(model.Computed) {
			return nil, fmt.Errorf("query: member %s cannot be updated", m)
		}
		v, err := s.expr(a.Value)
		if err != nil {
			return nil, err
		}
		sets = append(sets, dsql.Join(dsql.Ident(m.Column), dsql.Text(" = "), v))
	}
	where, err := s.optional(s.cmd.Where)
	if err != nil {
		return nil, err
	}
	parts := []dsql.Fragment{dsql.Text("UPDATE "), dsql.Ident(e.Table), dsql.Text(" SET "), dsql.List(", ", sets...)}
	if where != nil {
		parts = append(parts, dsql.Text(" WHERE "), where)
	}
	return dsql.Join(parts...), nil
}

func (s *scope) deleteStmt() (dsql.Fragment, error) {
	e := s.root.entity
	where, err := s.optional(s.cmd.Where)
	if err != nil {
		return nil, err
	}
	parts := []dsql.Fragment{dsql.Text("DELETE FROM "), dsql.Ident(e.Table)}
	if where != nil {
		parts = append(parts, dsql.Text(" WHERE "), where)
	}
	return dsql.Join(parts...), nil
}

// column returns the stored column of a member; references resolve to
// their single foreign key column.
func column(e *model.Entity, name string) (*model.Member, error) {
	m := e.Member(name)
	if m == nil {
		return nil, fmt.Errorf("query: unknown member %s.%s", e.Name, name)
	}
	switch m.Kind {
	case model.MemberColumn:
		return m, nil
	case model.MemberEntityRef:
		if fks := m.ForeignKeyColumns(); len(fks) == 1 {
			return fks[0], nil
		}
		return nil, fmt.Errorf("query: reference %s has a composite key", m)
	}
	return nil, fmt.Errorf("query: member %s is not stored in a column", m)
}

// resolve finds the source and column of a column reference.
func (s *scope) resolve(c Column) (*scope, *source, *model.Member, error) {
	alias, path := c.Alias, c.Path
	if alias == "" {
		alias = s.root.alias
		if i := strings.IndexByte(path, '.'); i > 0 && s.root.entity.Member(path[:i]) == nil {
			if _, src := s.lookup(path[:i]); src != nil {
				alias, path = path[:i], path[i+1:]
			}
		}
	}
	owner, src := s.lookup(alias)
	if src == nil {
		return nil, nil, nil, fmt.Errorf("query: unknown alias %q", alias)
	}
	segs := strings.Split(path, ".")
	for _, seg := range segs[:len(segs)-1] {
		ref := src.entity.Member(seg)
		if ref == nil || ref.Kind != model.MemberEntityRef {
			return nil, nil, nil, fmt.Errorf("query: %s.%s is not a reference", src.entity.Name, seg)
		}
		if !owner.qualify {
			return nil, nil, nil, fmt.Errorf("query: %s cannot navigate %s", owner.cmd.Kind, ref)
		}
		src = owner.navigate(src, ref)
	}
	m, err := column(src.entity, segs[len(segs)-1])
	if err != nil {
		return nil, nil, nil, err
	}
	return owner, src, m, nil
}

func (s *scope) lookup(alias string) (*scope, *source) {
	for sc := s; sc != nil; sc = sc.parent {
		if src := sc.byAlias[alias]; src != nil {
			return sc, src
		}
	}
	return nil, nil
}

// navigate returns the implicit join of ref from src, adding it on first
// use. Nullable references join left.
func (s *scope) navigate(src *source, ref *model.Member) *source {
	alias := src.alias + "_" + ref.Name
	if j := s.byAlias[alias]; j != nil {
		return j
	}
	target := ref.Ref.Target
	var conds []dsql.Fragment
	for _, fk := range ref.ForeignKeyColumns() {
		conds = append(conds, dsql.Apply(dialect.OpEq,
			dsql.Ident(alias, fk.RefTarget.Column), dsql.Ident(src.alias, fk.Column)))
	}
	j := &source{
		alias:  alias,
		entity: target,
		onFrag: dsql.Apply(dialect.OpAnd, conds...),
		left:   ref.Has(model.Nullable),
		deps:   map[string]bool{src.alias: true},
		nav:    ref,
		parent: src,
	}
	s.add(j)
	return j
}

func (s *scope) optional(e Expr) (dsql.Fragment, error) {
	if e == nil {
		return nil, nil
	}
	return s.expr(e)
}

func (s *scope) list(xs []Expr) ([]dsql.Fragment, error) {
	out := make([]dsql.Fragment, 0, len(xs))
	for _, x := range xs {
		f, err := s.expr(x)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *scope) expr(e Expr) (dsql.Fragment, error) {
	switch x := e.(type) {
	case nil:
		return nil, errors.New("query: missing expression")
	case Const:
		if x.Value == nil {
			return dsql.Text("NULL"), nil
		}
		if isList(x.Value) {
			return dsql.ListLit(x.Value, elemType(x.Value, x.Type)), nil
		}
		return dsql.Lit(x.Value, x.Type), nil
	case List:
		return dsql.ListLit(x.Values, elemType(x.Values, x.Elem)), nil
	case param:
		if x.list {
			return dsql.ListArg(x.index, elemType(x.value, schema.DataType{})), nil
		}
		t, _ := schema.TypeOf(x.value)
		return dsql.Arg(x.index, t), nil
	case Column:
		owner, src, m, err := s.resolve(x)
		if err != nil {
			return nil, err
		}
		if s.refs != nil && owner == s {
			s.refs[src.alias] = true
		}
		if !owner.qualify {
			return dsql.Ident(src.entity.Table, m.Column), nil
		}
		return dsql.Ident(src.alias, m.Column), nil
	case Call:
		return s.call(x)
	case SubQuery:
		sub, err := newScope(s.t, x.Cmd, s)
		if err != nil {
			return nil, err
		}
		if x.Cmd.Kind != KindSelect {
			return nil, fmt.Errorf("query: %s cannot be nested", x.Cmd.Kind)
		}
		f, err := sub.selectStmt(&Translation{})
		if err != nil {
			return nil, err
		}
		return dsql.Paren(f), nil
	case Alias:
		f, err := s.expr(x.X)
		if err != nil {
			return nil, err
		}
		return dsql.Join(f, dsql.Text(" AS "), dsql.Ident(x.Name)), nil
	case Group:
		f, err := s.expr(x.X)
		if err != nil {
			return nil, err
		}
		return dsql.Paren(f), nil
	case Order:
		f, err := s.expr(x.X)
		if err != nil || !x.Desc {
			return f, err
		}
		return dsql.Join(f, dsql.Text(" DESC")), nil
	case Filter:
		return s.filter(x)
	case Convert:
		f, err := s.expr(x.X)
		if err != nil {
			return nil, err
		}
		if !s.d().ConversionRequired(s.typeOf(x.X), x.To) {
			return f, nil
		}
		return dsql.Apply(dialect.OpConvert, f, dsql.Text(s.d().TypeName(x.To))), nil
	}
	return nil, fmt.Errorf("query: unsupported expression %T", e)
}

func (s *scope) call(c Call) (dsql.Fragment, error) {
	switch c.Op {
	case dialect.OpConcat:
		c.Args = flattenConcat(c.Args)
	case dialect.OpEq, dialect.OpNe:
		// Comparing with NULL tests for NULL.
		if len(c.Args) == 2 && isNull(c.Args[1]) {
			op := dialect.OpIsNull
			if c.Op == dialect.OpNe {
				op = dialect.OpIsNotNull
			}
			return s.call(Call{Op: op, Args: c.Args[:1]})
		}
	case dialect.OpIn:
		if len(c.Args) == 2 {
			if p, ok := c.Args[1].(param); ok && p.list && s.d().Template(dialect.OpInArray) != nil {
				c.Op = dialect.OpInArray
			}
		}
	}
	args := make([]dsql.Fragment, len(c.Args))
	for i, a := range c.Args {
		f, err := s.expr(a)
		if err != nil {
			return nil, err
		}
		if needsParen(c.Op, a) {
			f = dsql.Paren(f)
		}
		args[i] = f
	}
	if c.Op == dialect.OpInvalid || s.d().Template(c.Op) == nil {
		if c.Name == "" {
			return nil, fmt.Errorf("query: dialect %s has no template for %s", s.d().Name(), c.Op)
		}
		return dsql.Join(dsql.Text(c.Name+"("), dsql.List(", ", args...), dsql.Text(")")), nil
	}
	return dsql.Apply(c.Op, args...), nil
}

// filter expands a raw template with translated arguments.
func (s *scope) filter(x Filter) (dsql.Fragment, error) {
	tpl, err := dialect.ParseTemplate(x.Template, ", ")
	if err != nil {
		return nil, err
	}
	parts, err := tpl.Expand(len(x.Args))
	if err != nil {
		return nil, err
	}
	args, err := s.list(x.Args)
	if err != nil {
		return nil, err
	}
	out := make([]dsql.Fragment, len(parts))
	for i, p := range parts {
		if p.IsArg() {
			out[i] = args[p.Arg]
		} else {
			out[i] = dsql.Text(p.Text)
		}
	}
	return dsql.Join(out...), nil
}

// typeOf infers the data type of an expression; zero when unknown.
func (s *scope) typeOf(e Expr) schema.DataType {
	switch x := e.(type) {
	case Const:
		if !x.Type.IsZero() {
			return x.Type
		}
		t, _ := schema.TypeOf(x.Value)
		return t
	case param:
		t, _ := schema.TypeOf(x.value)
		return t
	case Column:
		if _, _, m, err := s.resolve(x); err == nil {
			return m.DataType
		}
	case Convert:
		return x.To
	case Alias:
		return s.typeOf(x.X)
	case Group:
		return s.typeOf(x.X)
	case Call:
		switch x.Op {
		case dialect.OpEq, dialect.OpNe, dialect.OpLt, dialect.OpLe, dialect.OpGt, dialect.OpGe,
			dialect.OpLike, dialect.OpIn, dialect.OpInArray, dialect.OpIsNull, dialect.OpIsNotNull,
			dialect.OpAnd, dialect.OpOr, dialect.OpNot, dialect.OpExists:
			return schema.TypeBool
		case dialect.OpCount, dialect.OpCountAll, dialect.OpCountDistinct, dialect.OpLength:
			return schema.TypeInt64
		case dialect.OpAvg:
			return schema.TypeFloat64
		case dialect.OpConcat, dialect.OpLower, dialect.OpUpper:
			return schema.TypeString
		case dialect.OpNow:
			return schema.TypeTime
		}
		if len(x.Args) > 0 {
			return s.typeOf(x.Args[0])
		}
	}
	return schema.DataType{}
}

func isAggregate(e Expr) bool {
	switch x := e.(type) {
	case Alias:
		return isAggregate(x.X)
	case Call:
		return x.Op.IsAggregate()
	}
	return false
}

func isNull(e Expr) bool {
	c, ok := e.(Const)
	return ok && c.Value == nil
}

func flattenConcat(args []Expr) []Expr {
	var out []Expr
	for _, a := range args {
		if c, ok := a.(Call); ok && c.Op == dialect.OpConcat {
			out = append(out, flattenConcat(c.Args)...)
			continue
		}
		out = append(out, a)
	}
	return out
}

// needsParen reports whether arg must be parenthesized inside op.
func needsParen(op dialect.Op, arg Expr) bool {
	c, ok := arg.(Call)
	if !ok {
		return false
	}
	switch c.Op {
	case dialect.OpAnd, dialect.OpOr:
		return op == dialect.OpNot || (op != c.Op && (op == dialect.OpAnd || op == dialect.OpOr))
	case dialect.OpAdd, dialect.OpSub:
		return op == dialect.OpMul || op == dialect.OpDiv || op == dialect.OpSub || op == dialect.OpNeg
	}
	return false
}

// elemType returns the element type of a list value, or t when set.
func elemType(list any, t schema.DataType) schema.DataType {
	if !t.IsZero() || list == nil {
		return t
	}
	rt := reflect.TypeOf(list)
	if rt.Kind() != reflect.Slice {
		return t
	}
	if rt.Elem().Kind() == reflect.Interface {
		rv := reflect.ValueOf(list)
		if rv.Len() > 0 {
			et, _ := schema.TypeOf(rv.Index(0).Interface())
			return et
		}
		return t
	}
	et, _ := schema.TypeOf(reflect.Zero(rt.Elem()).Interface())
	return et
}
