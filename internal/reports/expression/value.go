package expression

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the type tag of a Value
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindList
	KindMap
)

var kindNames = [...]string{"null", "int", "float", "bool", "string", "list", "map"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is the closed set of types templates operate on
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	list []Value
	m    *Map
}

// Map is an insertion-ordered string-keyed map of values
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap creates an empty ordered map
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// Set stores v under k, keeping the original position of an existing key
func (m *Map) Set(k string, v Value) {
	if _, ok := m.vals[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.vals[k] = v
}

// Get returns the value stored under k
func (m *Map) Get(k string) (Value, bool) {
	v, ok := m.vals[k]
	return v, ok
}

// Keys returns the keys in insertion order
func (m *Map) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of entries
func (m *Map) Len() int {
	return len(m.keys)
}

// Null returns the null value
func Null() Value { return Value{} }

// IntValue wraps an integer
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue wraps a float
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// BoolValue wraps a boolean
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// StringValue wraps a string
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// ListValue wraps a list
func ListValue(items []Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// MapValue wraps an ordered map
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Int() int64      { return v.i }
func (v Value) Float() float64  { return v.f }
func (v Value) Bool() bool      { return v.b }
func (v Value) Str() string     { return v.s }
func (v Value) List() []Value   { return v.list }
func (v Value) Map() *Map       { return v.m }
func (v Value) IsNumber() bool  { return v.kind == KindInt || v.kind == KindFloat }
func (v Value) IsNumeric() bool { return v.IsNumber() || v.kind == KindBool }

// AsFloat returns the numeric value as float64
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Len returns the length of strings, lists and maps
func (v Value) Len() (int, bool) {
	switch v.kind {
	case KindString:
		return len([]rune(v.s)), true
	case KindList:
		return len(v.list), true
	case KindMap:
		return v.m.Len(), true
	}
	return 0, false
}

// Truthy follows Python truthiness
func (v Value) Truthy() bool {
	switch v.kind {
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindBool:
		return v.b
	case KindString:
		return v.s != ""
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return v.m.Len() > 0
	}
	return false
}

// Interface converts the value to plain Go types:
// nil, int64, float64, bool, string, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, v.m.Len())
		for _, k := range v.m.keys {
			out[k] = v.m.vals[k].Interface()
		}
		return out
	}
	return nil
}

// String renders the value as template output text
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindString:
		return v.s
	default:
		var buf bytes.Buffer
		writeJSON(&buf, v)
		return buf.String()
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func writeJSON(buf *bytes.Buffer, v Value) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		b, _ := json.Marshal(v.s)
		buf.Write(b)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			buf.WriteString("null")
			return
		}
		buf.WriteString(formatFloat(v.f))
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteString(", ")
			}
			writeJSON(buf, item)
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.m.keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			b, _ := json.Marshal(k)
			buf.Write(b)
			buf.WriteString(": ")
			writeJSON(buf, v.m.vals[k])
		}
		buf.WriteByte('}')
	default:
		buf.WriteString(v.String())
	}
}

// FromAny converts a Go value into a Value. Maps with unordered keys
// are sorted so conversion is deterministic.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return BoolValue(t)
	case int:
		return IntValue(int64(t))
	case int8:
		return IntValue(int64(t))
	case int16:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case int64:
		return IntValue(t)
	case uint:
		return IntValue(int64(t))
	case uint8:
		return IntValue(int64(t))
	case uint16:
		return IntValue(int64(t))
	case uint32:
		return IntValue(int64(t))
	case uint64:
		return IntValue(int64(t))
	case float32:
		return FloatValue(float64(t))
	case float64:
		return FloatValue(t)
	case string:
		return StringValue(t)
	case []byte:
		return StringValue(string(t))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i)
		}
		f, _ := t.Float64()
		return FloatValue(f)
	case time.Time:
		return StringValue(FormatTime(t))
	case *time.Time:
		if t == nil {
			return Null()
		}
		return StringValue(FormatTime(*t))
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return ListValue(items)
	case []map[string]any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return ListValue(items)
	case map[string]any:
		m := NewMap()
		for _, k := range sortedKeys(t) {
			m.Set(k, FromAny(t[k]))
		}
		return MapValue(m)
	case *Map:
		return MapValue(t)
	case fmt.Stringer:
		rv := reflect.ValueOf(x)
		switch rv.Kind() {
		case reflect.Ptr:
			if rv.IsNil() {
				return Null()
			}
		case reflect.Struct, reflect.Array:
			return StringValue(t.String())
		}
	}
	return fromReflect(reflect.ValueOf(x))
}

func fromReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Invalid:
		return Null()
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			items[i] = FromAny(rv.Index(i).Interface())
		}
		return ListValue(items)
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		vals := make(map[string]reflect.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			keys = append(keys, k)
			vals[k] = iter.Value()
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			m.Set(k, FromAny(vals[k].Interface()))
		}
		return MapValue(m)
	case reflect.String:
		return StringValue(rv.String())
	case reflect.Bool:
		return BoolValue(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntValue(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return IntValue(int64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return FloatValue(rv.Float())
	case reflect.Struct:
		// exported fields are reachable under their JSON names
		if raw, err := json.Marshal(rv.Interface()); err == nil {
			var generic any
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			if dec.Decode(&generic) == nil {
				if _, isMap := generic.(map[string]any); isMap {
					return FromAny(generic)
				}
			}
		}
	}
	return StringValue(fmt.Sprint(rv.Interface()))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatTime renders dates as YYYY-MM-DD and datetimes as YYYY-MM-DD HH:MM:SS
func FormatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}

// Retype converts rendered template text back into a typed value:
// integer, then float, then boolean literal, else the text itself.
func Retype(text string) Value {
	t := strings.TrimSpace(text)
	if t == "" {
		return StringValue(text)
	}
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return IntValue(i)
	}
	if !strings.ContainsAny(t, "xX_") {
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return FloatValue(f)
		}
	}
	switch strings.ToLower(t) {
	case "true":
		return BoolValue(true)
	case "false":
		return BoolValue(false)
	}
	return StringValue(text)
}

// Equal compares values with numeric cross-kind equality
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		if a.kind == KindInt && b.kind == KindInt {
			return a.i == b.i
		}
		return af == bf
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if a.m.Len() != b.m.Len() {
			return false
		}
		for _, k := range a.m.keys {
			bv, ok := b.m.Get(k)
			if !ok || !Equal(a.m.vals[k], bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values. ok is false when they are not comparable.
func Compare(a, b Value) (int, bool) {
	if a.IsNumeric() && b.IsNumeric() {
		if a.kind == KindInt && b.kind == KindInt {
			switch {
			case a.i < b.i:
				return -1, true
			case a.i > b.i:
				return 1, true
			}
			return 0, true
		}
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if a.kind == KindString && b.kind == KindString {
		return strings.Compare(a.s, b.s), true
	}
	if a.kind == KindList && b.kind == KindList {
		for i := 0; i < len(a.list) && i < len(b.list); i++ {
			c, ok := Compare(a.list[i], b.list[i])
			if !ok {
				return 0, false
			}
			if c != 0 {
				return c, true
			}
		}
		switch {
		case len(a.list) < len(b.list):
			return -1, true
		case len(a.list) > len(b.list):
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
