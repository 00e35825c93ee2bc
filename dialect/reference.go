package dialect

import (
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/syssam/vela/schema"
)

// ErrArrayParams is returned by ListParam on dialects without array
// parameters.
var ErrArrayParams = errors.New("dialect: array parameters are not supported")

// reference is the configurable dialect behind the built-in SQLite,
// Postgres and MySQL dialects.
type reference struct {
	name      string
	templates map[Op]*Template
	quote     string
	numbered  bool
	arrays    bool
	returning bool
	boolLit   [2]string
	backslash bool
	timeFmt   string
	typeNames map[schema.Kind]string
	// implicit holds kind pairs the database converts without a cast.
	implicit map[[2]schema.Kind]bool
	bytesLit func([]byte) string
}

func init() {
	Register(NewSQLite())
	Register(NewPostgres())
	Register(NewMySQL())
}

func commonTemplates() map[Op]*Template {
	return map[Op]*Template{
		OpEq:            NewTemplate("{0} = {1}"),
		OpNe:            NewTemplate("{0} <> {1}"),
		OpLt:            NewTemplate("{0} < {1}"),
		OpLe:            NewTemplate("{0} <= {1}"),
		OpGt:            NewTemplate("{0} > {1}"),
		OpGe:            NewTemplate("{0} >= {1}"),
		OpLike:          NewTemplate("{0} LIKE {1}"),
		OpIn:            NewTemplate("{0} IN {1}"),
		OpIsNull:        NewTemplate("{0} IS NULL"),
		OpIsNotNull:     NewTemplate("{0} IS NOT NULL"),
		OpAnd:           NewVariadic("{*}", " AND "),
		OpOr:            NewVariadic("{*}", " OR "),
		OpNot:           NewTemplate("NOT {0}"),
		OpAdd:           NewTemplate("{0} + {1}"),
		OpSub:           NewTemplate("{0} - {1}"),
		OpMul:           NewTemplate("{0} * {1}"),
		OpDiv:           NewTemplate("{0} / {1}"),
		OpNeg:           NewTemplate("-{0}"),
		OpCount:         NewTemplate("COUNT({0})"),
		OpCountAll:      NewTemplate("COUNT(*)"),
		OpCountDistinct: NewTemplate("COUNT(DISTINCT {0})"),
		OpSum:           NewTemplate("SUM({0})"),
		OpMin:           NewTemplate("MIN({0})"),
		OpMax:           NewTemplate("MAX({0})"),
		OpAvg:           NewTemplate("AVG({0})"),
		OpConcat:        NewVariadic("{*}", " || "),
		OpLower:         NewTemplate("LOWER({0})"),
		OpUpper:         NewTemplate("UPPER({0})"),
		OpLength:        NewTemplate("LENGTH({0})"),
		OpCoalesce:      NewVariadic("COALESCE({*})", ", "),
		OpConvert:       NewTemplate("CAST({0} AS {1})"),
		OpNow:           NewTemplate("CURRENT_TIMESTAMP"),
		OpExists:        NewTemplate("EXISTS {0}"),
		OpLimit:         NewTemplate("LIMIT {0}"),
		OpLimitOffset:   NewTemplate("LIMIT {0} OFFSET {1}"),
	}
}

// NewSQLite returns the SQLite dialect.
func NewSQLite() Dialect {
	return &reference{
		name:      SQLite,
		templates: commonTemplates(),
		quote:     `"`,
		returning: true,
		boolLit:   [2]string{"0", "1"},
		timeFmt:   "2006-01-02 15:04:05.999999999-07:00",
		typeNames: map[schema.Kind]string{
			schema.KindBool: "INTEGER", schema.KindInt32: "INTEGER", schema.KindInt64: "INTEGER",
			schema.KindFloat64: "REAL", schema.KindDecimal: "NUMERIC", schema.KindString: "TEXT",
			schema.KindBytes: "BLOB", schema.KindTime: "DATETIME", schema.KindUUID: "TEXT",
		},
		bytesLit: func(b []byte) string { return "X'" + hex.EncodeToString(b) + "'" },
	}
}

// NewPostgres returns the Postgres dialect. Lists bind as arrays.
func NewPostgres() Dialect {
	t := commonTemplates()
	t[OpInArray] = NewTemplate("{0} = ANY({1})")
	t[OpLock] = NewTemplate("FOR UPDATE")
	return &reference{
		name:      Postgres,
		templates: t,
		quote:     `"`,
		numbered:  true,
		arrays:    true,
		returning: true,
		boolLit:   [2]string{"FALSE", "TRUE"},
		timeFmt:   "2006-01-02 15:04:05.999999999-07:00",
		typeNames: map[schema.Kind]string{
			schema.KindBool: "boolean", schema.KindInt32: "integer", schema.KindInt64: "bigint",
			schema.KindFloat64: "double precision", schema.KindDecimal: "numeric", schema.KindString: "text",
			schema.KindBytes: "bytea", schema.KindTime: "timestamptz", schema.KindUUID: "uuid",
		},
		implicit: map[[2]schema.Kind]bool{
			{schema.KindInt32, schema.KindInt64}: true,
			{schema.KindInt64, schema.KindInt32}: true,
		},
		bytesLit: func(b []byte) string { return `'\x` + hex.EncodeToString(b) + "'" },
	}
}

// NewMySQL returns the MySQL dialect.
func NewMySQL() Dialect {
	t := commonTemplates()
	t[OpConcat] = NewVariadic("CONCAT({*})", ", ")
	t[OpLength] = NewTemplate("CHAR_LENGTH({0})")
	t[OpLock] = NewTemplate("FOR UPDATE")
	return &reference{
		name:      MySQL,
		templates: t,
		quote:     "`",
		boolLit:   [2]string{"FALSE", "TRUE"},
		backslash: true,
		timeFmt:   "2006-01-02 15:04:05.999999",
		typeNames: map[schema.Kind]string{
			schema.KindBool: "UNSIGNED", schema.KindInt32: "SIGNED", schema.KindInt64: "SIGNED",
			schema.KindFloat64: "DOUBLE", schema.KindDecimal: "DECIMAL(65,30)", schema.KindString: "CHAR",
			schema.KindBytes: "BINARY", schema.KindTime: "DATETIME(6)", schema.KindUUID: "CHAR(36)",
		},
		implicit: map[[2]schema.Kind]bool{
			{schema.KindInt32, schema.KindInt64}: true,
			{schema.KindInt64, schema.KindInt32}: true,
			{schema.KindUUID, schema.KindString}: true,
			{schema.KindString, schema.KindUUID}: true,
		},
		bytesLit: func(b []byte) string { return "X'" + hex.EncodeToString(b) + "'" },
	}
}

func (d *reference) Name() string                      { return d.name }
func (d *reference) Template(op Op) *Template          { return d.templates[op] }
func (d *reference) SupportsArrayParams() bool         { return d.arrays }
func (d *reference) Returning() bool                   { return d.returning }
func (d *reference) TypeName(t schema.DataType) string { return d.typeNames[t.Kind] }

func (d *reference) Placeholder(i int) string {
	if d.numbered {
		return "$" + strconv.Itoa(i+1)
	}
	return "?"
}

func (d *reference) Quote(ident string) string {
	return d.quote + strings.ReplaceAll(ident, d.quote, d.quote+d.quote) + d.quote
}

// ConversionRequired is false for SQLite, which compares by storage class.
func (d *reference) ConversionRequired(from, to schema.DataType) bool {
	if d.name == SQLite || from.IsZero() || to.IsZero() || from.Kind == to.Kind {
		return false
	}
	return !d.implicit[[2]schema.Kind{from.Kind, to.Kind}]
}

func (d *reference) quoteString(s string) string {
	if d.backslash {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (d *reference) Literal(v any, t schema.DataType) (string, error) {
	if v == nil {
		return "NULL", nil
	}
	if t.IsZero() {
		var ok bool
		if t, ok = schema.TypeOf(v); !ok {
			return "", fmt.Errorf("dialect: no literal for %T", v)
		}
	}
	cv, err := t.Convert(v)
	if err != nil {
		// Named integer types carry enum-like values.
		rv := reflect.ValueOf(v)
		if k := rv.Kind(); k >= reflect.Int && k <= reflect.Int64 {
			return strconv.FormatInt(rv.Int(), 10), nil
		}
		return "", err
	}
	switch x := cv.(type) {
	case bool:
		if x {
			return d.boolLit[1], nil
		}
		return d.boolLit[0], nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case string:
		if t.Kind == schema.KindDecimal {
			if _, err := strconv.ParseFloat(x, 64); err != nil {
				return "", fmt.Errorf("dialect: invalid decimal %q", x)
			}
			return x, nil
		}
		return d.quoteString(x), nil
	case []byte:
		return d.bytesLit(x), nil
	case time.Time:
		return d.quoteString(x.Format(d.timeFmt)), nil
	case uuid.UUID:
		return d.quoteString(x.String()), nil
	}
	return "", fmt.Errorf("dialect: no literal for %T", v)
}

func (d *reference) ListLiteral(list any, elem schema.DataType) (string, error) {
	items, err := listItems(list)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		// IN () is a syntax error; NULL never matches.
		return "(NULL)", nil
	}
	var b strings.Builder
	b.WriteByte('(')
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		s, err := d.Literal(it, elem)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	b.WriteByte(')')
	return b.String(), nil
}

func (d *reference) ListParam(list any, elem schema.DataType) (any, error) {
	if !d.arrays {
		return nil, ErrArrayParams
	}
	items, err := listItems(list)
	if err != nil {
		return nil, err
	}
	switch elem.Kind {
	case schema.KindInt32, schema.KindInt64:
		out := make([]int64, len(items))
		for i, it := range items {
			v, err := schema.TypeInt64.Convert(it)
			if err != nil {
				return nil, err
			}
			out[i] = v.(int64)
		}
		return pq.Array(out), nil
	case schema.KindFloat64:
		out := make([]float64, len(items))
		for i, it := range items {
			v, err := elem.Convert(it)
			if err != nil {
				return nil, err
			}
			out[i] = v.(float64)
		}
		return pq.Array(out), nil
	case schema.KindBool:
		out := make([]bool, len(items))
		for i, it := range items {
			v, err := elem.Convert(it)
			if err != nil {
				return nil, err
			}
			out[i] = v.(bool)
		}
		return pq.Array(out), nil
	case schema.KindString, schema.KindDecimal, schema.KindUUID:
		out := make([]string, len(items))
		for i, it := range items {
			v, err := elem.Convert(it)
			if err != nil {
				return nil, err
			}
			out[i] = fmt.Sprint(v)
		}
		return pq.Array(out), nil
	case schema.KindBytes:
		out := make([][]byte, len(items))
		for i, it := range items {
			v, err := elem.Convert(it)
			if err != nil {
				return nil, err
			}
			out[i] = v.([]byte)
		}
		return pq.Array(out), nil
	}
	return nil, fmt.Errorf("dialect: no array parameter for element type %s", elem)
}

// listItems flattens any slice or array into its elements.
func listItems(list any) ([]any, error) {
	if items, ok := list.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("dialect: expected a list, got %T", list)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
