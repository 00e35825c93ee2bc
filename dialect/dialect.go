package dialect

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/syssam/vela/schema"
)

// Dialect names.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// ExecQuerier wraps the two database operations.
type ExecQuerier interface {
	// Exec executes a statement that does not return rows. v may be nil or a
	// *sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a statement that returns rows into v.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for a
// database connection.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(context.Context) (Tx, error)
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in a transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// Dialect renders the dialect-specific parts of SQL: operation templates,
// literals, placeholders and list parameters.
type Dialect interface {
	Name() string
	// Template returns the template of op or nil if the dialect has none.
	Template(op Op) *Template
	// Literal renders v as SQL literal text of type t.
	Literal(v any, t schema.DataType) (string, error)
	// ListParam returns the provider-specific parameter value for a list.
	ListParam(list any, elem schema.DataType) (any, error)
	// ListLiteral renders a list as a parenthesized literal list.
	ListLiteral(list any, elem schema.DataType) (string, error)
	// Placeholder returns the text of the i-th (0-based) bound parameter.
	Placeholder(i int) string
	Quote(ident string) string
	SupportsArrayParams() bool
	// ConversionRequired reports whether a value of type from needs an
	// explicit cast to be compared or assigned to type to.
	ConversionRequired(from, to schema.DataType) bool
	// TypeName returns the cast target name of t.
	TypeName(t schema.DataType) string
	// Returning reports whether INSERT ... RETURNING can read back
	// generated identity values.
	Returning() bool
}

// Op is the kind of an operation rendered through a template.
type Op int

// Operation kinds.
const (
	OpInvalid Op = iota
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLike
	OpIn
	OpInArray
	OpIsNull
	OpIsNotNull
	OpAnd
	OpOr
	OpNot
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpCount
	OpCountAll
	OpCountDistinct
	OpSum
	OpMin
	OpMax
	OpAvg
	OpConcat
	OpLower
	OpUpper
	OpLength
	OpCoalesce
	OpConvert
	OpNow
	OpExists
	OpLimit
	OpLimitOffset
	OpLock
	opLast
)

var opNames = [...]string{
	OpInvalid:       "invalid",
	OpEq:            "eq",
	OpNe:            "ne",
	OpLt:            "lt",
	OpLe:            "le",
	OpGt:            "gt",
	OpGe:            "ge",
	OpLike:          "like",
	OpIn:            "in",
	OpInArray:       "in_array",
	OpIsNull:        "is_null",
	OpIsNotNull:     "is_not_null",
	OpAnd:           "and",
	OpOr:            "or",
	OpNot:           "not",
	OpAdd:           "add",
	OpSub:           "sub",
	OpMul:           "mul",
	OpDiv:           "div",
	OpNeg:           "neg",
	OpCount:         "count",
	OpCountAll:      "count_all",
	OpCountDistinct: "count_distinct",
	OpSum:           "sum",
	OpMin:           "min",
	OpMax:           "max",
	OpAvg:           "avg",
	OpConcat:        "concat",
	OpLower:         "lower",
	OpUpper:         "upper",
	OpLength:        "length",
	OpCoalesce:      "coalesce",
	OpConvert:       "convert",
	OpNow:           "now",
	OpExists:        "exists",
	OpLimit:         "limit",
	OpLimitOffset:   "limit_offset",
	OpLock:          "lock",
}

func (o Op) String() string {
	if o >= 0 && o < opLast {
		return opNames[o]
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// IsAggregate reports whether o is an aggregate function.
func (o Op) IsAggregate() bool {
	switch o {
	case OpCount, OpCountAll, OpCountDistinct, OpSum, OpMin, OpMax, OpAvg:
		return true
	}
	return false
}

// Part is one piece of an expanded template: literal text or the index of
// an argument.
type Part struct {
	Text string
	Arg  int
}

// IsArg reports whether p is an argument slot.
func (p Part) IsArg() bool { return p.Arg >= 0 }

// Template is SQL text with ordered argument slots. "{0}", "{1}" and so on
// refer to single arguments; "{*}" expands to all arguments joined by Sep.
type Template struct {
	Format string
	Sep    string
	parts  []Part
	args   int
	all    bool
}

// NewTemplate parses format. It panics on a malformed slot.
func NewTemplate(format string) *Template {
	t, err := ParseTemplate(format, ", ")
	if err != nil {
		panic(err)
	}
	return t
}

// NewVariadic returns a template whose "{*}" slot joins arguments with sep.
func NewVariadic(format, sep string) *Template {
	t, err := ParseTemplate(format, sep)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTemplate parses format into parts.
func ParseTemplate(format, sep string) (*Template, error) {
	t := &Template{Format: format, Sep: sep}
	rest := format
	for {
		i := strings.IndexByte(rest, '{')
		if i < 0 {
			break
		}
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			return nil, fmt.Errorf("dialect: unterminated slot in template %q", format)
		}
		if i > 0 {
			t.parts = append(t.parts, Part{Text: rest[:i], Arg: -1})
		}
		slot := rest[i+1 : i+j]
		switch slot {
		case "*":
			t.all = true
			t.parts = append(t.parts, Part{Arg: -2})
		default:
			n, err := strconv.Atoi(slot)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("dialect: invalid slot %q in template %q", slot, format)
			}
			if n+1 > t.args {
				t.args = n + 1
			}
			t.parts = append(t.parts, Part{Arg: n})
		}
		rest = rest[i+j+1:]
	}
	if rest != "" {
		t.parts = append(t.parts, Part{Text: rest, Arg: -1})
	}
	if t.all && t.args > 0 {
		return nil, fmt.Errorf("dialect: template %q mixes numbered and variadic slots", format)
	}
	return t, nil
}

// Variadic reports whether the template accepts any number of arguments.
func (t *Template) Variadic() bool { return t.all }

// Expand returns the parts for n arguments.
func (t *Template) Expand(n int) ([]Part, error) {
	if !t.all {
		if n != t.args {
			return nil, fmt.Errorf("dialect: template %q takes %d arguments, got %d", t.Format, t.args, n)
		}
		return t.parts, nil
	}
	parts := make([]Part, 0, len(t.parts)+2*n)
	for _, p := range t.parts {
		if p.Arg != -2 {
			parts = append(parts, p)
			continue
		}
		for i := 0; i < n; i++ {
			if i > 0 {
				parts = append(parts, Part{Text: t.Sep, Arg: -1})
			}
			parts = append(parts, Part{Arg: i})
		}
	}
	return parts, nil
}

var registry = struct {
	sync.RWMutex
	m map[string]Dialect
}{m: make(map[string]Dialect)}

// Register makes d available by its name.
func Register(d Dialect) {
	registry.Lock()
	defer registry.Unlock()
	registry.m[d.Name()] = d
}

// Get returns the registered dialect. Driver names with a dialect prefix,
// such as "sqlite3", resolve to that dialect.
func Get(name string) (Dialect, error) {
	registry.RLock()
	defer registry.RUnlock()
	if d, ok := registry.m[name]; ok {
		return d, nil
	}
	for n, d := range registry.m {
		if strings.HasPrefix(name, n) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("dialect: unknown dialect %q", name)
}

// Names returns the registered dialect names.
func Names() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.m))
	for n := range registry.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
