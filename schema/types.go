package schema

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the shape of a declared member type.
type Kind uint8

// Scalar kinds map to columns; Entity, List, Map and Slice are structural.
const (
	KindInvalid Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindFloat64
	KindDecimal
	KindString
	KindBytes
	KindTime
	KindUUID
	KindEntity
	KindList
	KindMap
	KindSlice
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindFloat64: "float64",
	KindDecimal: "decimal",
	KindString:  "string",
	KindBytes:   "bytes",
	KindTime:    "time",
	KindUUID:    "uuid",
	KindEntity:  "entity",
	KindList:    "list",
	KindMap:     "map",
	KindSlice:   "slice",
}

// String returns the kind name used in YAML declarations.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Scalar reports whether values of this kind are stored in a single column.
func (k Kind) Scalar() bool {
	return k >= KindBool && k <= KindUUID
}

// DataType describes the declared type of a member.
type DataType struct {
	Kind Kind
	// Entity holds the referenced entity name for KindEntity.
	Entity string
	// Elem holds the element type for List, Slice and Map.
	Elem *DataType
	// Key holds the key type for Map.
	Key *DataType
}

// Predefined scalar types.
var (
	TypeBool    = DataType{Kind: KindBool}
	TypeInt32   = DataType{Kind: KindInt32}
	TypeInt64   = DataType{Kind: KindInt64}
	TypeFloat64 = DataType{Kind: KindFloat64}
	TypeDecimal = DataType{Kind: KindDecimal}
	TypeString  = DataType{Kind: KindString}
	TypeBytes   = DataType{Kind: KindBytes}
	TypeTime    = DataType{Kind: KindTime}
	TypeUUID    = DataType{Kind: KindUUID}
)

// EntityType returns the type of a reference to the named entity.
func EntityType(name string) DataType {
	return DataType{Kind: KindEntity, Entity: name}
}

// ListType returns a single-parameter list type. A list of entities becomes
// an entity-list member; any other list is rejected by the model builder.
func ListType(elem DataType) DataType {
	return DataType{Kind: KindList, Elem: &elem}
}

// SliceType returns a slice type; never valid as a member type.
func SliceType(elem DataType) DataType {
	return DataType{Kind: KindSlice, Elem: &elem}
}

// MapType returns a map type; never valid as a member type.
func MapType(key, elem DataType) DataType {
	return DataType{Kind: KindMap, Key: &key, Elem: &elem}
}

// IsZero reports whether the type was never set.
func (t DataType) IsZero() bool { return t.Kind == KindInvalid }

// Generic reports whether the type is a parameterized collection.
func (t DataType) Generic() bool {
	return t.Kind == KindList || t.Kind == KindMap || t.Kind == KindSlice
}

// Equal reports structural equality.
func (t DataType) Equal(o DataType) bool {
	if t.Kind != o.Kind || t.Entity != o.Entity {
		return false
	}
	if (t.Elem == nil) != (o.Elem == nil) || (t.Key == nil) != (o.Key == nil) {
		return false
	}
	if t.Elem != nil && !t.Elem.Equal(*o.Elem) {
		return false
	}
	return t.Key == nil || t.Key.Equal(*o.Key)
}

func (t DataType) String() string {
	switch t.Kind {
	case KindEntity:
		return t.Entity
	case KindList, KindSlice:
		return t.Kind.String() + "<" + t.Elem.String() + ">"
	case KindMap:
		return "map<" + t.Key.String() + "," + t.Elem.String() + ">"
	default:
		return t.Kind.String()
	}
}

// Zero returns the zero value of a non-nullable column of this type.
func (t DataType) Zero() any {
	switch t.Kind {
	case KindBool:
		return false
	case KindInt32:
		return int32(0)
	case KindInt64:
		return int64(0)
	case KindFloat64:
		return float64(0)
	case KindDecimal:
		return "0"
	case KindString:
		return ""
	case KindTime:
		return time.Time{}
	case KindUUID:
		return uuid.Nil
	default:
		return nil
	}
}

// TypeOf infers the scalar type of a Go value.
func TypeOf(v any) (DataType, bool) {
	switch v.(type) {
	case bool:
		return TypeBool, true
	case int32, int16, int8, uint8, uint16:
		return TypeInt32, true
	case int, int64, uint32, uint, uint64:
		return TypeInt64, true
	case float32, float64:
		return TypeFloat64, true
	case string:
		return TypeString, true
	case []byte:
		return TypeBytes, true
	case time.Time:
		return TypeTime, true
	case uuid.UUID:
		return TypeUUID, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return DataType{}, false
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		// Named integer types (enums).
		return TypeInt64, true
	case reflect.String:
		return TypeString, true
	}
	return DataType{}, false
}

// Convert coerces v, typically a value scanned from a driver, into the Go
// representation used for the type. Nil stays nil.
func (t DataType) Convert(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		}
	case KindInt32:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("schema: value %d overflows int32", n)
		}
		return int32(n), nil
	case KindInt64:
		return toInt64(v)
	case KindFloat64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case []byte:
			return strconv.ParseFloat(string(x), 64)
		}
	case KindDecimal, KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		case int64:
			return strconv.FormatInt(x, 10), nil
		}
	case KindBytes:
		switch x := v.(type) {
		case []byte:
			return append([]byte(nil), x...), nil
		case string:
			return []byte(x), nil
		}
	case KindTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return parseTime(x)
		case []byte:
			return parseTime(string(x))
		}
	case KindUUID:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case string:
			return uuid.Parse(x)
		case []byte:
			if len(x) == 16 {
				return uuid.FromBytes(x)
			}
			return uuid.ParseBytes(x)
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("schema: cannot convert %T to %s", v, t)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("schema: value %d overflows int64", x)
		}
		return int64(x), nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	}
	return 0, fmt.Errorf("schema: cannot convert %T to integer", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("schema: invalid time value %q", s)
}

// ParseType parses the textual form produced by DataType.String. Names that
// are not scalar kinds are treated as entity references.
func ParseType(s string) (DataType, error) {
	if s == "" {
		return DataType{}, fmt.Errorf("schema: empty type")
	}
	for i, open := 0, -1; i < len(s); i++ {
		if s[i] == '<' {
			open = i
		}
		if open > 0 && s[len(s)-1] == '>' {
			head, body := s[:open], s[open+1:len(s)-1]
			switch head {
			case "list", "slice":
				elem, err := ParseType(body)
				if err != nil {
					return DataType{}, err
				}
				if head == "list" {
					return ListType(elem), nil
				}
				return SliceType(elem), nil
			case "map":
				k, v, ok := splitTop(body)
				if !ok {
					return DataType{}, fmt.Errorf("schema: invalid map type %q", s)
				}
				kt, err := ParseType(k)
				if err != nil {
					return DataType{}, err
				}
				vt, err := ParseType(v)
				if err != nil {
					return DataType{}, err
				}
				return MapType(kt, vt), nil
			}
			return DataType{}, fmt.Errorf("schema: unknown generic type %q", head)
		}
	}
	for k := KindBool; k <= KindUUID; k++ {
		if kindNames[k] == s {
			return DataType{Kind: k}, nil
		}
	}
	return EntityType(s), nil
}

func splitTop(s string) (string, string, bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				return s[:i], s[i+1:], true
			}
		}
	}
	return "", "", false
}
