package query

import (
	"database/sql/driver"
	"reflect"
	"strings"

	"github.com/syssam/vela/dialect"
	"github.com/syssam/vela/schema"
)

// Expr is a node of the query AST.
type Expr interface {
	expr()
}

// Const is a constant rendered as a literal. Constants are part of the
// statement shape.
type Const struct {
	Value any
	Type  schema.DataType
}

// Local is a captured value promoted to a statement parameter. A Local
// holding a *Builder or *Command becomes a sub-select; a Local holding a
// slice becomes a list parameter.
type Local struct {
	Value any
}

// Column references a member of a query source. Path may navigate
// references, as in "Publisher.Name".
type Column struct {
	Alias string
	Path  string
}

// Call applies an operation. Name is used for functions without a dialect
// template and is rendered as a generic n-ary call.
type Call struct {
	Op   dialect.Op
	Name string
	Args []Expr
}

// SubQuery is a nested select.
type SubQuery struct {
	Cmd *Command
}

// Alias names an output expression.
type Alias struct {
	X    Expr
	Name string
}

// Group parenthesizes an expression.
type Group struct {
	X Expr
}

// Order is an ordering term.
type Order struct {
	X    Expr
	Desc bool
}

// Filter is a raw SQL template with expression arguments, as in
// Raw("{0} % 2 = 0", C("Id")).
type Filter struct {
	Template string
	Args     []Expr
}

// Convert casts X to a type. The cast is elided unless the dialect requires
// it.
type Convert struct {
	X  Expr
	To schema.DataType
}

// List is a constant list of values.
type List struct {
	Values any
	Elem   schema.DataType
}

// param is a Local after preprocessing.
type param struct {
	index int
	value any
	list  bool
}

func (Const) expr()    {}
func (Local) expr()    {}
func (Column) expr()   {}
func (Call) expr()     {}
func (SubQuery) expr() {}
func (Alias) expr()    {}
func (Group) expr()    {}
func (Order) expr()    {}
func (Filter) expr()   {}
func (Convert) expr()  {}
func (List) expr()     {}
func (param) expr()    {}

// C references a column of the root source, or of alias when written as
// "alias.Path" with a declared alias.
func C(path string) Column {
	return Column{Path: path}
}

// Col references a column of the source with the given alias.
func Col(alias, path string) Column { return Column{Alias: alias, Path: path} }

// V captures a local value.
func V(v any) Local { return Local{Value: v} }

// Lit returns a constant.
func Lit(v any) Const { return Const{Value: v} }

// Null is the NULL constant.
var Null = Const{}

// ListOf returns a constant list.
func ListOf(values any) List { return List{Values: values} }

func call(op dialect.Op, args ...Expr) Call { return Call{Op: op, Args: args} }

// Eq returns a = b.
func Eq(a, b Expr) Call { return call(dialect.OpEq, a, b) }

// Ne returns a <> b.
func Ne(a, b Expr) Call { return call(dialect.OpNe, a, b) }

// Lt returns a < b.
func Lt(a, b Expr) Call { return call(dialect.OpLt, a, b) }

// Le returns a <= b.
func Le(a, b Expr) Call { return call(dialect.OpLe, a, b) }

// Gt returns a > b.
func Gt(a, b Expr) Call { return call(dialect.OpGt, a, b) }

// Ge returns a >= b.
func Ge(a, b Expr) Call { return call(dialect.OpGe, a, b) }

// Like returns a LIKE b.
func Like(a, b Expr) Call { return call(dialect.OpLike, a, b) }

// In returns a IN list, where list is a List, a Local slice or a sub-select.
func In(a, list Expr) Call { return call(dialect.OpIn, a, list) }

// IsNull returns a IS NULL.
func IsNull(a Expr) Call { return call(dialect.OpIsNull, a) }

// IsNotNull returns a IS NOT NULL.
func IsNotNull(a Expr) Call { return call(dialect.OpIsNotNull, a) }

// And joins conditions with AND.
func And(xs ...Expr) Call { return call(dialect.OpAnd, xs...) }

// Or joins conditions with OR.
func Or(xs ...Expr) Call { return call(dialect.OpOr, xs...) }

// Not negates x.
func Not(x Expr) Call { return call(dialect.OpNot, x) }

// Add returns a + b.
func Add(a, b Expr) Call { return call(dialect.OpAdd, a, b) }

// Sub returns a - b.
func Sub(a, b Expr) Call { return call(dialect.OpSub, a, b) }

// Mul returns a * b.
func Mul(a, b Expr) Call { return call(dialect.OpMul, a, b) }

// Div returns a / b.
func Div(a, b Expr) Call { return call(dialect.OpDiv, a, b) }

// Count returns COUNT(x).
func Count(x Expr) Call { return call(dialect.OpCount, x) }

// CountAll returns COUNT(*).
func CountAll() Call { return call(dialect.OpCountAll) }

// CountDistinct returns COUNT(DISTINCT x).
func CountDistinct(x Expr) Call { return call(dialect.OpCountDistinct, x) }

// Sum returns SUM(x).
func Sum(x Expr) Call { return call(dialect.OpSum, x) }

// Min returns MIN(x).
func Min(x Expr) Call { return call(dialect.OpMin, x) }

// Max returns MAX(x).
func Max(x Expr) Call { return call(dialect.OpMax, x) }

// Avg returns AVG(x).
func Avg(x Expr) Call { return call(dialect.OpAvg, x) }

// Concat concatenates strings.
func Concat(xs ...Expr) Call { return call(dialect.OpConcat, xs...) }

// Lower returns LOWER(x).
func Lower(x Expr) Call { return call(dialect.OpLower, x) }

// Upper returns UPPER(x).
func Upper(x Expr) Call { return call(dialect.OpUpper, x) }

// Length returns the character length of x.
func Length(x Expr) Call { return call(dialect.OpLength, x) }

// Coalesce returns the first non-null argument.
func Coalesce(xs ...Expr) Call { return call(dialect.OpCoalesce, xs...) }

// Now returns the current timestamp.
func Now() Call { return call(dialect.OpNow) }

// Func calls a function by name with the dialect's generic call syntax.
func Func(name string, args ...Expr) Call {
	return Call{Name: strings.ToUpper(name), Args: args}
}

// Exists returns EXISTS (sub).
func Exists(sub *Builder) Call { return call(dialect.OpExists, SubQuery{Cmd: sub.cmd}) }

// Select wraps a builder as a sub-select expression.
func Select(sub *Builder) SubQuery { return SubQuery{Cmd: sub.cmd} }

// As names an output expression.
func As(x Expr, name string) Alias { return Alias{X: x, Name: name} }

// Paren groups x in parentheses.
func Paren(x Expr) Group { return Group{X: x} }

// Asc orders by x ascending.
func Asc(x Expr) Order { return Order{X: x} }

// Desc orders by x descending.
func Desc(x Expr) Order { return Order{X: x, Desc: true} }

// Cast converts x to t.
func Cast(x Expr, t schema.DataType) Convert { return Convert{X: x, To: t} }

// Raw returns a filter template. Slots are written "{0}", "{1}".
func Raw(template string, args ...Expr) Filter { return Filter{Template: template, Args: args} }

// isList reports whether v is a list value rather than a scalar. Arrays
// such as uuid.UUID and byte slices are scalars.
func isList(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	if _, ok := v.(driver.Valuer); ok {
		return false
	}
	return reflect.TypeOf(v).Kind() == reflect.Slice
}
