package tree

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Data value.
type Kind uint8

const (
	KindFolder Kind = iota + 1
	KindButton
	KindFloat32
	KindFloat64
	KindInt32
	KindInt64
	KindUInt32
	KindUInt64
	KindString
	KindBool
	KindTuple
	KindList
)

var kindNames = map[Kind]string{
	KindFolder:  "folder",
	KindButton:  "button",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindUInt32:  "uint32",
	KindUInt64:  "uint64",
	KindString:  "string",
	KindBool:    "bool",
	KindTuple:   "tuple",
	KindList:    "list",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(s)
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown data kind %q", s)
}

// Data is the payload carried by a node. The set of implementations is
// closed; use a type switch over the concrete types below.
type Data interface {
	Kind() Kind
	isData()
}

type (
	// Folder carries no value; it only groups children.
	Folder struct{}
	// Button counts presses.
	Button struct{ Count uint64 }
	Float32 float32
	Float64 float64
	Int32   int32
	Int64   int64
	UInt32  uint32
	UInt64  uint64
	String  string
	Bool    bool
	// Tuple is a fixed-arity sequence; its arity is len(Values).
	Tuple struct{ Values []Data }
	// List is a variable-length sequence.
	List struct{ Values []Data }
)

func (Folder) Kind() Kind  { return KindFolder }
func (Button) Kind() Kind  { return KindButton }
func (Float32) Kind() Kind { return KindFloat32 }
func (Float64) Kind() Kind { return KindFloat64 }
func (Int32) Kind() Kind   { return KindInt32 }
func (Int64) Kind() Kind   { return KindInt64 }
func (UInt32) Kind() Kind  { return KindUInt32 }
func (UInt64) Kind() Kind  { return KindUInt64 }
func (String) Kind() Kind  { return KindString }
func (Bool) Kind() Kind    { return KindBool }
func (Tuple) Kind() Kind   { return KindTuple }
func (List) Kind() Kind    { return KindList }

func (Folder) isData()  {}
func (Button) isData()  {}
func (Float32) isData() {}
func (Float64) isData() {}
func (Int32) isData()   {}
func (Int64) isData()   {}
func (UInt32) isData()  {}
func (UInt64) isData()  {}
func (String) isData()  {}
func (Bool) isData()    {}
func (Tuple) isData()   {}
func (List) isData()    {}

// Arity returns the number of elements of the tuple.
func (t Tuple) Arity() int { return len(t.Values) }

// NewTuple builds a Tuple from values.
func NewTuple(values ...Data) Tuple { return Tuple{Values: values} }

// NewList builds a List from values.
func NewList(values ...Data) List { return List{Values: values} }

// EqualData reports structural equality. Floats compare by bit pattern so
// that equality agrees with the content hash.
func EqualData(a, b Data) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Float32:
		return math.Float32bits(float32(av)) == math.Float32bits(float32(b.(Float32)))
	case Float64:
		return math.Float64bits(float64(av)) == math.Float64bits(float64(b.(Float64)))
	case Tuple:
		return equalValues(av.Values, b.(Tuple).Values)
	case List:
		return equalValues(av.Values, b.(List).Values)
	default:
		return a == b
	}
}

func equalValues(a, b []Data) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !EqualData(a[i], b[i]) {
			return false
		}
	}
	return true
}

// CloneData returns a deep copy of d. Scalars are values already; only the
// composite variants need copying.
func CloneData(d Data) Data {
	switch v := d.(type) {
	case Tuple:
		return Tuple{Values: cloneValues(v.Values)}
	case List:
		return List{Values: cloneValues(v.Values)}
	default:
		return d
	}
}

func cloneValues(values []Data) []Data {
	if values == nil {
		return nil
	}
	out := make([]Data, len(values))
	for i, v := range values {
		out[i] = CloneData(v)
	}
	return out
}

// FormatData renders d for humans (CLI output, log fields).
func FormatData(d Data) string {
	switch v := d.(type) {
	case nil:
		return "<nil>"
	case Folder:
		return "folder"
	case Button:
		return fmt.Sprintf("button(%d)", v.Count)
	case Float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case Int32, Int64, UInt32, UInt64, Bool:
		return fmt.Sprint(v)
	case String:
		return strconv.Quote(string(v))
	case Tuple:
		return "(" + formatValues(v.Values) + ")"
	case List:
		return "[" + formatValues(v.Values) + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatValues(values []Data) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = FormatData(v)
	}
	return strings.Join(parts, ", ")
}

// ParseData parses a scalar value of the given kind from text, as typed on
// a command line. Composite kinds are only accepted as JSON.
func ParseData(kind Kind, raw string) (Data, error) {
	var (
		d   Data
		err error
	)
	switch kind {
	case KindFolder:
		d = Folder{}
	case KindButton:
		var n uint64
		if raw != "" {
			n, err = strconv.ParseUint(raw, 10, 64)
		}
		d = Button{Count: n}
	case KindFloat32:
		var f float64
		f, err = strconv.ParseFloat(raw, 32)
		d = Float32(f)
	case KindFloat64:
		var f float64
		f, err = strconv.ParseFloat(raw, 64)
		d = Float64(f)
	case KindInt32:
		var n int64
		n, err = strconv.ParseInt(raw, 10, 32)
		d = Int32(n)
	case KindInt64:
		var n int64
		n, err = strconv.ParseInt(raw, 10, 64)
		d = Int64(n)
	case KindUInt32:
		var n uint64
		n, err = strconv.ParseUint(raw, 10, 32)
		d = UInt32(n)
	case KindUInt64:
		var n uint64
		n, err = strconv.ParseUint(raw, 10, 64)
		d = UInt64(n)
	case KindString:
		d = String(raw)
	case KindBool:
		var b bool
		b, err = strconv.ParseBool(raw)
		d = Bool(b)
	case KindTuple, KindList:
		var env DataJSON
		if err = json.Unmarshal([]byte(raw), &env); err == nil {
			d = env.Data
			if d != nil && d.Kind() != kind {
				err = fmt.Errorf("expected %s, got %s", kind, d.Kind())
			}
		}
	default:
		err = fmt.Errorf("unknown data kind %d", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s value %q: %w", kind, raw, err)
	}
	return d, nil
}
