package sql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/vela/dialect"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/schema"
)

// Fragment is an immutable node of a SQL text tree. Fragments are rendered
// by a dialect into a Statement.
type Fragment interface {
	render(r *renderer) error
}

type text string

func (t text) render(r *renderer) error {
	r.b.WriteString(string(t))
	return nil
}

// Text returns a fragment of raw SQL text.
func Text(s string) Fragment { return text(s) }

type ident []string

func (id ident) render(r *renderer) error {
	for i, p := range id {
		if i > 0 {
			r.b.WriteByte('.')
		}
		r.b.WriteString(r.d.Quote(p))
	}
	return nil
}

// Ident returns a quoted, optionally qualified identifier.
func Ident(parts ...string) Fragment { return ident(parts) }

type composite []Fragment

func (c composite) render(r *renderer) error {
	for _, f := range c {
		if f == nil {
			continue
		}
		if err := f.render(r); err != nil {
			return err
		}
	}
	return nil
}

// Join concatenates fragments. Nil fragments are skipped.
func Join(parts ...Fragment) Fragment { return composite(parts) }

type list struct {
	sep   string
	items []Fragment
}

func (l list) render(r *renderer) error {
	first := true
	for _, f := range l.items {
		if f == nil {
			continue
		}
		if !first {
			r.b.WriteString(l.sep)
		}
		first = false
		if err := f.render(r); err != nil {
			return err
		}
	}
	return nil
}

// List joins items with sep. Nil items are skipped.
func List(sep string, items ...Fragment) Fragment { return list{sep: sep, items: items} }

// Paren wraps f in parentheses.
func Paren(f Fragment) Fragment { return composite{text("("), f, text(")")} }

type apply struct {
	op   dialect.Op
	args []Fragment
}

func (a apply) render(r *renderer) error {
	t := r.d.Template(a.op)
	if t == nil {
		return fmt.Errorf("dialect/sql: %s has no template for %s", r.d.Name(), a.op)
	}
	parts, err := t.Expand(len(a.args))
	if err != nil {
		return err
	}
	for _, p := range parts {
		if !p.IsArg() {
			r.b.WriteString(p.Text)
			continue
		}
		if err := a.args[p.Arg].render(r); err != nil {
			return err
		}
	}
	return nil
}

// Apply renders args through the dialect template of op.
func Apply(op dialect.Op, args ...Fragment) Fragment { return apply{op: op, args: args} }

type literal struct {
	v any
	t schema.DataType
}

func (l literal) render(r *renderer) error {
	s, err := r.d.Literal(l.v, l.t)
	if err != nil {
		return err
	}
	r.b.WriteString(s)
	return nil
}

// Lit renders v as a dialect literal of type t. A zero t is inferred from v.
func Lit(v any, t schema.DataType) Fragment { return literal{v: v, t: t} }

type listLiteral struct {
	v    any
	elem schema.DataType
}

func (l listLiteral) render(r *renderer) error {
	s, err := r.d.ListLiteral(l.v, l.elem)
	if err != nil {
		return err
	}
	r.b.WriteString(s)
	return nil
}

// ListLit renders a constant list as literal text.
func ListLit(v any, elem schema.DataType) Fragment { return listLiteral{v: v, elem: elem} }

// BindKind tells where a bound value comes from.
type BindKind uint8

// Binding kinds.
const (
	// BindArg takes the external argument at Index.
	BindArg BindKind = iota
	// BindColumn takes a member value from a record.
	BindColumn
	// BindList takes the external list argument at Index.
	BindList
)

// Binding is one placeholder of a rendered statement.
type Binding struct {
	Kind  BindKind
	Index int
	Type  schema.DataType
	// Member and Original describe a column value placeholder.
	Member   *model.Member
	Original bool
	// Inline list placeholders are rendered as literal text at bind time
	// and consume no parameter.
	Inline bool
	// Param and Literal convert a list argument into a parameter value or
	// literal text.
	Param   func(list any, elem schema.DataType) (any, error)
	Literal func(list any, elem schema.DataType) (string, error)
}

type param struct {
	kind     BindKind
	index    int
	t        schema.DataType
	member   *model.Member
	original bool
}

func (p param) render(r *renderer) error {
	bd := Binding{Kind: p.kind, Index: p.index, Type: p.t, Member: p.member, Original: p.original}
	if p.kind == BindList {
		if r.d.SupportsArrayParams() {
			bd.Param = r.d.ListParam
		} else {
			bd.Inline = true
			bd.Literal = r.d.ListLiteral
			r.segments = append(r.segments, r.b.String())
			r.b.Reset()
			r.bindings = append(r.bindings, bd)
			return nil
		}
	}
	r.b.WriteString(r.d.Placeholder(r.params))
	r.params++
	r.bindings = append(r.bindings, bd)
	return nil
}

// Arg is a placeholder for the external argument at index i.
func Arg(i int, t schema.DataType) Fragment { return param{kind: BindArg, index: i, t: t} }

// Column is a placeholder resolved from the record value of m. Original
// selects the value loaded from storage instead of the current one.
func Column(m *model.Member, original bool) Fragment {
	return param{kind: BindColumn, member: m, original: original, t: m.DataType}
}

// ListArg is a placeholder for the external list argument at index i. It
// binds as an array parameter where the dialect supports it and renders as
// a literal list otherwise.
func ListArg(i int, elem schema.DataType) Fragment {
	return param{kind: BindList, index: i, t: elem}
}

type renderer struct {
	d        dialect.Dialect
	b        strings.Builder
	bindings []Binding
	segments []string
	params   int
}

// Statement is a rendered fragment tree: SQL text plus the ordered
// placeholders. A Statement holds no argument values and can be reused.
type Statement struct {
	SQL      string
	Bindings []Binding
	Dialect  dialect.Dialect
	// segments splits SQL around inline list placeholders.
	segments []string
}

// Render renders f with d.
func Render(f Fragment, d dialect.Dialect) (*Statement, error) {
	r := &renderer{d: d}
	if err := f.render(r); err != nil {
		return nil, err
	}
	st := &Statement{Bindings: r.bindings, Dialect: d}
	if len(r.segments) > 0 {
		st.segments = append(r.segments, r.b.String())
		st.SQL = strings.Join(st.segments, "?")
	} else {
		st.SQL = r.b.String()
	}
	return st, nil
}

// ParamCount returns the number of bound parameters.
func (s *Statement) ParamCount() int {
	n := 0
	for _, b := range s.Bindings {
		if !b.Inline {
			n++
		}
	}
	return n
}

// ColumnSource supplies record values for column placeholders.
type ColumnSource interface {
	ColumnValue(m *model.Member, original bool) any
}

// ErrMissingArg is returned by Bind for an argument index out of range.
var ErrMissingArg = errors.New("dialect/sql: missing argument")

// Bind resolves the placeholders and returns the SQL text to execute and
// its arguments. rec may be nil when the statement has no column
// placeholders.
func (s *Statement) Bind(rec ColumnSource, args []any) (string, []any, error) {
	out := make([]any, 0, len(s.Bindings))
	var inline []string
	for _, b := range s.Bindings {
		var v any
		switch b.Kind {
		case BindColumn:
			if rec == nil {
				return "", nil, fmt.Errorf("dialect/sql: no record for column %s", b.Member)
			}
			v = rec.ColumnValue(b.Member, b.Original)
		case BindArg, BindList:
			if b.Index < 0 || b.Index >= len(args) {
				return "", nil, fmt.Errorf("%w: %d", ErrMissingArg, b.Index)
			}
			v = args[b.Index]
		}
		switch {
		case b.Kind == BindList && b.Inline:
			lit, err := b.Literal(v, b.Type)
			if err != nil {
				return "", nil, err
			}
			inline = append(inline, lit)
			continue
		case b.Kind == BindList:
			p, err := b.Param(v, b.Type)
			if err != nil {
				return "", nil, err
			}
			v = p
		}
		out = append(out, v)
	}
	if len(inline) == 0 {
		return s.SQL, out, nil
	}
	var sb strings.Builder
	for i, seg := range s.segments {
		sb.WriteString(seg)
		if i < len(inline) {
			sb.WriteString(inline[i])
		}
	}
	return sb.String(), out, nil
}

// String returns the SQL text.
func (s *Statement) String() string { return s.SQL }
