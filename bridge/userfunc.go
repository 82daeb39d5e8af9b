package bridge

// ---------------------------------------------------------------------------
// User-function invocation
//
// User functions are pipeline steps defined in the host's own pipeline
// language rather than as native code, so they live in a separate lookup
// table from the built-ins and are invoked with a named-argument bundle
// only. An invocation may re-enter the dispatcher; nothing here holds a
// lock across the call.
// ---------------------------------------------------------------------------

// UserFunc is the callable behind a user-defined pipeline step.
type UserFunc func(args map[string]Value) (Value, error)

// UserFunction is one user-defined pipeline step, known to a single session.
type UserFunction struct {
	Name string
	// Params lists declared parameter names in positional order, used only
	// when a caller supplies positional arguments.
	Params []string
	Invoke UserFunc
}

// CallUserFunction resolves name in the session's user-function table and
// invokes it with the named-argument bundle. An absent name fails with
// *UndefinedUserFunction; a failure inside the step comes back wrapped in
// *OperationError.
func (d *Dispatcher) CallUserFunction(name string, kwargs map[string]Value) (Value, error) {
	fn, ok := d.userFuncs[name]
	if !ok {
		return Null, &UndefinedUserFunction{Name: name}
	}
	return d.invokeUser(fn, nil, kwargs)
}

// CallUserFunctionPositional is the positional convenience form: positionals
// bind to the declared parameter names in order, kwargs override.
func (d *Dispatcher) CallUserFunctionPositional(name string, positional []Value, kwargs map[string]Value) (Value, error) {
	fn, ok := d.userFuncs[name]
	if !ok {
		return Null, &UndefinedUserFunction{Name: name}
	}
	return d.invokeUser(fn, positional, kwargs)
}

// UserFunctionNames returns the session's user-function names in lexical
// order.
func (d *Dispatcher) UserFunctionNames() []string {
	return sortedKeys(d.userFuncs)
}

func (d *Dispatcher) invokeUser(fn *UserFunction, positional []Value, kwargs map[string]Value) (Value, error) {
	if len(positional) > len(fn.Params) {
		return Null, &ArgumentError{
			Op:     fn.Name,
			Reason: "too many positional arguments for user function",
		}
	}
	args := make(map[string]Value, len(positional)+len(kwargs))
	for i, v := range positional {
		args[fn.Params[i]] = v
	}
	for name, v := range kwargs {
		args[name] = v
	}
	result, err := fn.Invoke(args)
	if err != nil {
		return Null, &OperationError{Op: fn.Name, Args: summarizeArgs(args), Cause: err}
	}
	return result, nil
}
