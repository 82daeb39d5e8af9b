package bridge

// ---------------------------------------------------------------------------
// Execution context
//
// One ExecContext per script evaluation. It borrows the session's variable
// store (whose lifetime exceeds it), binds the session dispatcher and the
// emitter, and owns the single output slot. The embedding evaluator drives
// scripts against the surfaces below; after evaluation the host extracts
// the result and discards the context.
// ---------------------------------------------------------------------------

// Engine is the host pipeline engine. It supplies the callable operations
// and user-defined steps of one session; the bridge calls it synchronously
// through dispatch and treats every operation as an opaque black box.
type Engine interface {
	// Operations returns the built-in operation descriptors, registered
	// once at session start.
	Operations() []*Descriptor
	// UserFunctions returns the user-defined pipeline steps available in
	// this session. May be empty.
	UserFunctions() []*UserFunction
}

// Evaluator is the embedding contract for the host's scripting language.
// The bridge never parses script text; an evaluator binds the context's
// call surfaces into its language and runs the script against them.
type Evaluator interface {
	Evaluate(ctx *ExecContext, source string) error
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx *ExecContext, source string) error

// Evaluate calls f(ctx, source).
func (f EvaluatorFunc) Evaluate(ctx *ExecContext, source string) error {
	return f(ctx, source)
}

// ExecContext is the per-script-run binding of dispatcher, variable store,
// emitter and output slot.
type ExecContext struct {
	store      *Store
	dispatcher *Dispatcher
	emitter    Emitter
	keys       ResultKeys

	emitSeq   int
	slot      Value
	slotSet   bool
}

// NewExecContext creates a context for one evaluation. The store is shared
// with the session, not owned; mutations to it outlive the context.
func NewExecContext(store *Store, dispatcher *Dispatcher, emitter Emitter, keys ResultKeys) *ExecContext {
	if keys.Binding == "" {
		keys = DefaultResultKeys()
	}
	return &ExecContext{
		store:      store,
		dispatcher: dispatcher,
		emitter:    emitter,
		keys:       keys,
	}
}

// Store returns the shared variable store.
func (c *ExecContext) Store() *Store { return c.store }

// Dispatcher returns the session dispatcher.
func (c *ExecContext) Dispatcher() *Dispatcher { return c.dispatcher }

// ResultBinding returns the conventional output-slot name scripts assign,
// so evaluators can map the binding onto SetResult.
func (c *ExecContext) ResultBinding() string { return c.keys.Binding }

// --- Variable surface ---

// GetVariable returns the variable's value, failing with *UndefinedVariable
// when absent.
func (c *ExecContext) GetVariable(name string) (Value, error) {
	return c.store.Get(name)
}

// GetVariableOr returns the variable's value, or the marshaled default when
// absent. The default is not written back.
func (c *ExecContext) GetVariableOr(name string, def any) (Value, error) {
	dv, err := ToValue(def)
	if err != nil {
		return Null, err
	}
	return c.store.GetOr(name, dv), nil
}

// SetVariable marshals value and binds it. Marshal failure leaves the store
// untouched.
func (c *ExecContext) SetVariable(name string, value any) error {
	v, err := ToValue(value)
	if err != nil {
		return err
	}
	c.store.Set(name, v)
	return nil
}

// --- Dispatch surface ---

// Call dispatches a built-in operation with positional arguments and an
// optional trailing named-argument bundle. Arguments are host-native; they
// are marshaled before binding.
func (c *ExecContext) Call(name string, positional []any, kwargs map[string]any) (Value, error) {
	pos, kw, err := marshalCall(positional, kwargs)
	if err != nil {
		return Null, err
	}
	return c.dispatcher.Call(name, pos, kw)
}

// CallAny dispatches name against built-ins first, then the session's user
// functions. This backs the dynamic sub-namespace evaluators expose (the
// funcs.* surface).
func (c *ExecContext) CallAny(name string, positional []any, kwargs map[string]any) (Value, error) {
	pos, kw, err := marshalCall(positional, kwargs)
	if err != nil {
		return Null, err
	}
	return c.dispatcher.CallAny(name, pos, kw)
}

// CallUserFunction invokes a user-defined pipeline step with a
// named-argument bundle.
func (c *ExecContext) CallUserFunction(name string, kwargs map[string]any) (Value, error) {
	kw, err := toValueMap(kwargs)
	if err != nil {
		return Null, err
	}
	return c.dispatcher.CallUserFunction(name, kw)
}

// --- Named wrappers for the common pipeline steps ---
//
// These forward through Call so that evaluators can expose the flat
// namespace without repeating the binding logic. They exist for the
// operations scripts use constantly; everything else goes through the
// generic Call escape hatch.

// Load loads an image from a file path.
func (c *ExecContext) Load(path string) (Value, error) {
	return c.Call("load", nil, map[string]any{"file": path})
}

// Sharpen sharpens an image, with an optional kernel size.
func (c *ExecContext) Sharpen(img any, kernel ...any) (Value, error) {
	pos := append([]any{img}, kernel...)
	return c.Call("sharpen", pos, nil)
}

// Rescale rescales an image to the given dimensions.
func (c *ExecContext) Rescale(img any, width, height any) (Value, error) {
	return c.Call("rescale", []any{img, width, height}, nil)
}

// Clahe applies contrast-limited adaptive histogram equalization.
func (c *ExecContext) Clahe(img any, tileSize, bins, clip any) (Value, error) {
	return c.Call("clahe", []any{img, tileSize, bins, clip}, nil)
}

// Width returns an image's width.
func (c *ExecContext) Width(img any) (Value, error) {
	return c.Call("width", []any{img}, nil)
}

// Height returns an image's height.
func (c *ExecContext) Height(img any) (Value, error) {
	return c.Call("height", []any{img}, nil)
}

// --- Emission surface ---

// Emit hands a value to the output sink with a display name and an optional
// stable identifier. Marshal failure fails this call with *MarshalError but
// earlier emissions stand. Without a sink the emission is dropped with a
// warning, matching side-effect-only scripts running headless.
func (c *ExecContext) Emit(value any, displayName string, identifier string) error {
	v, err := ToValue(value)
	if err != nil {
		return err
	}
	if c.emitter == nil {
		log.Warningf("no emitter bound, dropping emission %q", displayName)
		return nil
	}
	if identifier == "" {
		identifier = newEmissionID()
	}
	c.emitSeq++
	c.emitter.Emit(Emission{
		Seq:         c.emitSeq,
		Value:       v,
		DisplayName: displayName,
		ID:          identifier,
	})
	return nil
}

// --- Output slot ---

// SetResult assigns the output slot. Marshal failure leaves the slot
// untouched. Assigning again overwrites, like rebinding the result variable
// in a script.
func (c *ExecContext) SetResult(value any) error {
	v, err := ToValue(value)
	if err != nil {
		return err
	}
	c.slot = v
	c.slotSet = true
	return nil
}

// ExtractResult applies the extraction protocol to the output slot. Callers
// run it once, after a successful evaluation.
func (c *ExecContext) ExtractResult() Result {
	return extract(c.keys, c.slotSet, c.slot)
}

// Run evaluates one script in a fresh context bound to the given store,
// dispatcher and emitter, and extracts its result. A failed evaluation
// yields no result: the error is returned and the store keeps every Set
// completed before the failure.
func Run(ev Evaluator, source string, store *Store, dispatcher *Dispatcher, emitter Emitter, keys ResultKeys) (Result, error) {
	ctx := NewExecContext(store, dispatcher, emitter, keys)
	if err := ev.Evaluate(ctx, source); err != nil {
		return Result{}, err
	}
	return ctx.ExtractResult(), nil
}

func marshalCall(positional []any, kwargs map[string]any) ([]Value, map[string]Value, error) {
	pos := make([]Value, len(positional))
	for i, native := range positional {
		v, err := ToValue(native)
		if err != nil {
			return nil, nil, err
		}
		pos[i] = v
	}
	kw, err := toValueMap(kwargs)
	if err != nil {
		return nil, nil, err
	}
	return pos, kw, nil
}
