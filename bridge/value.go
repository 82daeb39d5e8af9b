// Package bridge implements the scripting bridge between user scripts and
// host-managed image processing operations. The host registers its pipeline
// operations as descriptors, pre-seeds a variable store, and evaluates script
// text through an external evaluator; the bridge supplies the call surfaces
// (variables, dispatch, user functions, emission) and the result-extraction
// protocol.
package bridge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Tag identifies the kind of a Value.
type Tag uint8

const (
	TagNull Tag = iota
	TagBool
	TagInt
	TagNum
	TagStr
	TagSeq
	TagMap
	TagHandle
)

// String returns the lowercase tag name used in error messages.
func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagNum:
		return "num"
	case TagStr:
		return "str"
	case TagSeq:
		return "seq"
	case TagMap:
		return "map"
	case TagHandle:
		return "handle"
	default:
		return "invalid"
	}
}

// Value is the tagged union exchanged between the host and scripts.
//
// Data holds the concrete representation for each tag:
//
//	TagNull   → nil
//	TagBool   → bool
//	TagInt    → int64
//	TagNum    → float64
//	TagStr    → string
//	TagSeq    → []Value
//	TagMap    → map[string]Value
//	TagHandle → *Handle
//
// Int and Num are distinct tags so that fractional values supplied where an
// integer is conventional are preserved as given rather than rounded.
type Value struct {
	Tag  Tag
	Data any
}

// Handle is an opaque reference to a host-native object such as an image.
// The bridge never interprets Data; it only passes the handle through.
type Handle struct {
	Kind string
	Data any
}

// Null is the null Value.
var Null = Value{Tag: TagNull}

// BoolVal creates a boolean Value.
func BoolVal(b bool) Value { return Value{Tag: TagBool, Data: b} }

// IntVal creates an integer Value.
func IntVal(n int64) Value { return Value{Tag: TagInt, Data: n} }

// NumVal creates a floating-point Value.
func NumVal(f float64) Value { return Value{Tag: TagNum, Data: f} }

// StrVal creates a string Value.
func StrVal(s string) Value { return Value{Tag: TagStr, Data: s} }

// SeqVal creates an ordered sequence Value. The slice is used as-is.
func SeqVal(items []Value) Value { return Value{Tag: TagSeq, Data: items} }

// MapVal creates a mapping Value. The map is used as-is.
func MapVal(m map[string]Value) Value { return Value{Tag: TagMap, Data: m} }

// HandleVal wraps a host object in an opaque handle Value.
func HandleVal(kind string, data any) Value {
	return Value{Tag: TagHandle, Data: &Handle{Kind: kind, Data: data}}
}

// IsNull returns true if v is the null value.
func (v Value) IsNull() bool { return v.Tag == TagNull }

// Bool returns the boolean payload. The second result is false if v is not
// a boolean.
func (v Value) Bool() (bool, bool) {
	b, ok := v.Data.(bool)
	return b, ok && v.Tag == TagBool
}

// Int returns the integer payload. The second result is false if v is not
// an integer.
func (v Value) Int() (int64, bool) {
	n, ok := v.Data.(int64)
	return n, ok && v.Tag == TagInt
}

// Num returns the numeric payload as a float64. Integers convert exactly up
// to 2^53; the second result is false for non-numeric values.
func (v Value) Num() (float64, bool) {
	switch v.Tag {
	case TagNum:
		return v.Data.(float64), true
	case TagInt:
		return float64(v.Data.(int64)), true
	}
	return 0, false
}

// Str returns the string payload. The second result is false if v is not
// a string.
func (v Value) Str() (string, bool) {
	s, ok := v.Data.(string)
	return s, ok && v.Tag == TagStr
}

// Seq returns the sequence payload. The second result is false if v is not
// a sequence.
func (v Value) Seq() ([]Value, bool) {
	s, ok := v.Data.([]Value)
	return s, ok && v.Tag == TagSeq
}

// Map returns the mapping payload. The second result is false if v is not
// a mapping.
func (v Value) Map() (map[string]Value, bool) {
	m, ok := v.Data.(map[string]Value)
	return m, ok && v.Tag == TagMap
}

// HandleRef returns the opaque handle. The second result is false if v is
// not a handle.
func (v Value) HandleRef() (*Handle, bool) {
	h, ok := v.Data.(*Handle)
	return h, ok && v.Tag == TagHandle
}

// Equal reports deep structural equality. Handles compare by identity, since
// the bridge cannot inspect them.
func Equal(a, b Value) bool {
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case TagNull:
		return true
	case TagSeq:
		as, bs := a.Data.([]Value), b.Data.([]Value)
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	case TagMap:
		am, bm := a.Data.(map[string]Value), b.Data.(map[string]Value)
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return a.Data == b.Data
	}
}

// String renders a compact, debug-oriented representation. Handle contents
// are never printed, only their kind.
func (v Value) String() string {
	switch v.Tag {
	case TagNull:
		return "null"
	case TagBool:
		return strconv.FormatBool(v.Data.(bool))
	case TagInt:
		return strconv.FormatInt(v.Data.(int64), 10)
	case TagNum:
		return strconv.FormatFloat(v.Data.(float64), 'g', -1, 64)
	case TagStr:
		return strconv.Quote(v.Data.(string))
	case TagSeq:
		items := v.Data.([]Value)
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = it.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TagMap:
		m := v.Data.(map[string]Value)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + m[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TagHandle:
		return fmt.Sprintf("handle(%s)", v.Data.(*Handle).Kind)
	default:
		return "invalid"
	}
}
