package bridge

import "fmt"

// ---------------------------------------------------------------------------
// Namespace dispatcher
//
// The host pipeline engine registers its operations as descriptors when a
// session starts; the registry is immutable afterwards. Dispatch resolves a
// name, binds positional and named arguments against the declared parameter
// list, validates arity, invokes the host callable and marshals the result
// back. Host failures come back wrapped in *OperationError with the cause
// preserved.
// ---------------------------------------------------------------------------

// OpFunc is the host-native callable behind a registered operation. It
// receives already-unmarshaled arguments keyed by parameter name; handles
// arrive as *Handle.
type OpFunc func(args map[string]any) (any, error)

// Param describes one declared parameter of an operation.
type Param struct {
	Name     string
	Required bool
}

// Descriptor is the registered metadata and callable for one dispatchable
// operation name.
type Descriptor struct {
	Name string
	// Params lists declared parameters in positional order. Positional
	// arguments bind to them left to right.
	Params []Param
	// Variadic operations accept any number of positional arguments,
	// collected as a sequence under the first declared parameter.
	Variadic bool
	Fn       OpFunc
}

// Registry holds the built-in operations of one session, fixed at
// construction.
type Registry struct {
	ops map[string]*Descriptor
}

// NewRegistry builds a registry from the supplied descriptors. Duplicate or
// empty names and nil callables are construction errors, not runtime ones.
func NewRegistry(descs []*Descriptor) (*Registry, error) {
	r := &Registry{ops: make(map[string]*Descriptor, len(descs))}
	for _, d := range descs {
		if d == nil {
			return nil, fmt.Errorf("operation descriptor cannot be nil")
		}
		if d.Name == "" {
			return nil, fmt.Errorf("operation descriptor missing name")
		}
		if d.Fn == nil {
			return nil, fmt.Errorf("operation %q has no callable", d.Name)
		}
		if _, exists := r.ops[d.Name]; exists {
			return nil, fmt.Errorf("duplicate operation %q", d.Name)
		}
		r.ops[d.Name] = d
	}
	return r, nil
}

// Lookup resolves a name by exact match.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.ops[name]
	return d, ok
}

// Names returns the registered operation names in lexical order.
func (r *Registry) Names() []string {
	return sortedKeys(r.ops)
}

// Dispatcher binds a session's built-in registry to its user-function table.
// It is recreated per session; the registry it references is shared and
// immutable.
type Dispatcher struct {
	registry  *Registry
	userFuncs map[string]*UserFunction
}

// NewDispatcher creates a dispatcher over the given registry and user
// functions. The user-function slice may be nil for sessions without any.
func NewDispatcher(registry *Registry, userFuncs []*UserFunction) *Dispatcher {
	table := make(map[string]*UserFunction, len(userFuncs))
	for _, fn := range userFuncs {
		table[fn.Name] = fn
	}
	return &Dispatcher{registry: registry, userFuncs: table}
}

// Registry returns the built-in registry backing this dispatcher.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Call dispatches a built-in operation. Positional arguments bind to the
// descriptor's declared parameters in order; kwargs override positionals
// under the same name. Arity problems fail with *ArgumentError before the
// host operation runs.
func (d *Dispatcher) Call(name string, positional []Value, kwargs map[string]Value) (Value, error) {
	desc, ok := d.registry.Lookup(name)
	if !ok {
		return Null, &UnknownOperation{Name: name}
	}
	return d.invoke(desc, positional, kwargs)
}

// CallAny dispatches name against the built-in registry first, falling back
// to the session's user functions. Unknown in both tables fails with
// *UnknownOperation.
func (d *Dispatcher) CallAny(name string, positional []Value, kwargs map[string]Value) (Value, error) {
	if desc, ok := d.registry.Lookup(name); ok {
		return d.invoke(desc, positional, kwargs)
	}
	if fn, ok := d.userFuncs[name]; ok {
		return d.invokeUser(fn, positional, kwargs)
	}
	return Null, &UnknownOperation{Name: name}
}

func (d *Dispatcher) invoke(desc *Descriptor, positional []Value, kwargs map[string]Value) (Value, error) {
	bound, err := bindArgs(desc, positional, kwargs)
	if err != nil {
		return Null, err
	}
	result, err := desc.Fn(fromValueMap(bound))
	if err != nil {
		return Null, &OperationError{Op: desc.Name, Args: summarizeArgs(bound), Cause: err}
	}
	v, err := ToValue(result)
	if err != nil {
		return Null, err
	}
	return v, nil
}

// bindArgs merges positional and named arguments against the declared
// parameter list and validates arity.
func bindArgs(desc *Descriptor, positional []Value, kwargs map[string]Value) (map[string]Value, error) {
	bound := make(map[string]Value, len(positional)+len(kwargs))

	if desc.Variadic {
		if len(desc.Params) == 0 {
			return nil, &ArgumentError{Op: desc.Name, Reason: "variadic operation declares no parameters"}
		}
		bound[desc.Params[0].Name] = SeqVal(positional)
	} else {
		if len(positional) > len(desc.Params) {
			return nil, &ArgumentError{
				Op:     desc.Name,
				Reason: fmt.Sprintf("too many positional arguments: got %d, at most %d", len(positional), len(desc.Params)),
			}
		}
		for i, v := range positional {
			bound[desc.Params[i].Name] = v
		}
	}

	for name, v := range kwargs {
		if !declaresParam(desc, name) {
			return nil, &ArgumentError{Op: desc.Name, Reason: fmt.Sprintf("unexpected argument %q", name)}
		}
		bound[name] = v
	}

	for _, p := range desc.Params {
		if p.Required && !hasKey(bound, p.Name) {
			return nil, &ArgumentError{Op: desc.Name, Reason: fmt.Sprintf("missing required argument %q", p.Name)}
		}
	}
	return bound, nil
}

func declaresParam(desc *Descriptor, name string) bool {
	for _, p := range desc.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

func hasKey(m map[string]Value, name string) bool {
	_, ok := m[name]
	return ok
}

// Req declares a required parameter.
func Req(name string) Param { return Param{Name: name, Required: true} }

// Opt declares an optional parameter.
func Opt(name string) Param { return Param{Name: name, Required: false} }
