package bridge

// ---------------------------------------------------------------------------
// Result extraction
//
// After a script runs to completion, the output slot of its execution
// context determines what the host receives. A mapping containing the
// host-configured primary key is a structured result; any other assigned
// value is a scalar result; a never-assigned slot is a valid absent result
// for scripts that only perform side effects.
// ---------------------------------------------------------------------------

// ResultKind discriminates the three extraction outcomes.
type ResultKind int

const (
	ResultAbsent ResultKind = iota
	ResultScalar
	ResultStructured
)

// String returns the kind name used in transport payloads.
func (k ResultKind) String() string {
	switch k {
	case ResultAbsent:
		return "absent"
	case ResultScalar:
		return "scalar"
	case ResultStructured:
		return "structured"
	default:
		return "invalid"
	}
}

// Result is what a completed script run yields to the host.
type Result struct {
	Kind ResultKind
	// Value is the primary output: the primary-key entry for structured
	// results, the whole output-slot value for scalar ones, Null when
	// absent.
	Value Value
	// Metadata holds the remaining keys of a structured result. Nil
	// otherwise.
	Metadata map[string]Value
}

// ResultKeys configures the extraction protocol. The key set is
// host-defined: only the primary key decides whether a mapping is treated
// as structured, auxiliary keys like "stats" or "quality" are never
// required.
type ResultKeys struct {
	// Binding is the conventional name of the output slot as seen by
	// scripts, e.g. "result".
	Binding string
	// Primary is the mapping key whose presence marks a structured result
	// and supplies its primary output, e.g. "processed".
	Primary string
}

// DefaultResultKeys returns the conventional configuration: binding
// "result", primary key "processed".
func DefaultResultKeys() ResultKeys {
	return ResultKeys{Binding: "result", Primary: "processed"}
}

// extract applies the extraction policy to an output slot.
func extract(keys ResultKeys, assigned bool, slot Value) Result {
	if !assigned {
		return Result{Kind: ResultAbsent, Value: Null}
	}
	if m, ok := slot.Map(); ok {
		if primary, found := m[keys.Primary]; found {
			meta := make(map[string]Value, len(m)-1)
			for k, v := range m {
				if k != keys.Primary {
					meta[k] = v
				}
			}
			return Result{Kind: ResultStructured, Value: primary, Metadata: meta}
		}
	}
	// Sequences and every other value pass through unflattened.
	return Result{Kind: ResultScalar, Value: slot}
}
