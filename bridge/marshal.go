package bridge

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Value marshaling: host-native ⇄ script Value
//
// Conversion is lossless for the supported kinds. Integers stay integers,
// floats stay floats: a fractional default supplied for an integer-typed
// parameter is preserved as given, never rounded here. Rounding, when an
// operation requires it, is the operation's own business.
// ---------------------------------------------------------------------------

// ToValue converts a host-native value into a script Value. Handles pass
// through unchanged. Sequences and mappings convert recursively; an
// unsupported host type fails with *MarshalError.
func ToValue(native any) (Value, error) {
	switch n := native.(type) {
	case nil:
		return Null, nil
	case Value:
		return n, nil
	case *Handle:
		return Value{Tag: TagHandle, Data: n}, nil
	case bool:
		return BoolVal(n), nil
	case int:
		return IntVal(int64(n)), nil
	case int8:
		return IntVal(int64(n)), nil
	case int16:
		return IntVal(int64(n)), nil
	case int32:
		return IntVal(int64(n)), nil
	case int64:
		return IntVal(n), nil
	case uint:
		return IntVal(int64(n)), nil
	case uint8:
		return IntVal(int64(n)), nil
	case uint16:
		return IntVal(int64(n)), nil
	case uint32:
		return IntVal(int64(n)), nil
	case float32:
		return NumVal(float64(n)), nil
	case float64:
		return NumVal(n), nil
	case string:
		return StrVal(n), nil
	case []Value:
		return SeqVal(n), nil
	case map[string]Value:
		return MapVal(n), nil
	case []any:
		items := make([]Value, len(n))
		for i, item := range n {
			v, err := ToValue(item)
			if err != nil {
				return Null, err
			}
			items[i] = v
		}
		return SeqVal(items), nil
	case map[string]any:
		m := make(map[string]Value, len(n))
		for k, item := range n {
			v, err := ToValue(item)
			if err != nil {
				return Null, err
			}
			m[k] = v
		}
		return MapVal(m), nil
	default:
		return Null, &MarshalError{Reason: fmt.Sprintf("unsupported host type %T", native)}
	}
}

// FromValue converts a script Value back into a host-native value: nil,
// bool, int64, float64, string, []any, map[string]any or *Handle.
func FromValue(v Value) any {
	switch v.Tag {
	case TagNull:
		return nil
	case TagSeq:
		items := v.Data.([]Value)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = FromValue(item)
		}
		return out
	case TagMap:
		m := v.Data.(map[string]Value)
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = FromValue(item)
		}
		return out
	default:
		// bool, int64, float64, string and *Handle are stored natively.
		return v.Data
	}
}

// toValueMap marshals a host-native named-argument bundle.
func toValueMap(args map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(args))
	for name, native := range args {
		v, err := ToValue(native)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// fromValueMap unmarshals a named-argument bundle for a host operation.
func fromValueMap(args map[string]Value) map[string]any {
	out := make(map[string]any, len(args))
	for name, v := range args {
		out[name] = FromValue(v)
	}
	return out
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
