// Package jseval embeds a JavaScript interpreter (github.com/dop251/goja) as
// a scripting language for the bridge. Each registered operation becomes a
// global function, user-defined pipeline steps live under the `funcs` object,
// and `emit` hands values to the output sink. Session variables are seeded as
// globals before the script runs and read back afterwards; assigning the
// result binding (by default `result`) fills the output slot.
package jseval

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/solteris/imagebridge/bridge"
)

// Evaluator runs scripts in a fresh JavaScript runtime per evaluation. It
// holds no state and is safe to share across sessions.
type Evaluator struct{}

// New creates a JavaScript evaluator.
func New() *Evaluator { return &Evaluator{} }

// Evaluate binds the context's surfaces into a new runtime and runs source.
func (e *Evaluator) Evaluate(ctx *bridge.ExecContext, source string) error {
	rt := goja.New()

	// Bridge errors cross the interpreter as thrown exceptions, so scripts
	// can catch and handle them like any other error.
	fail := func(err error) {
		panic(rt.NewGoError(err))
	}

	registry := ctx.Dispatcher().Registry()
	for _, name := range registry.Names() {
		desc, _ := registry.Lookup(name)
		rt.Set(name, makeOperation(rt, ctx, desc, fail))
	}

	funcs := rt.NewObject()
	for _, name := range ctx.Dispatcher().UserFunctionNames() {
		_ = funcs.Set(name, makeUserFunction(rt, ctx, name, fail))
	}
	rt.Set("funcs", funcs)

	// Generic escape hatch for operations without a dedicated wrapper.
	// Arguments after the name are positional; a trailing object literal
	// supplies the named-argument bundle.
	rt.Set("call", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			fail(fmt.Errorf("call takes an operation name"))
		}
		name := call.Argument(0).String()
		args := call.Arguments[1:]
		// Only a trailing object literal is the named-argument bundle;
		// earlier mappings are ordinary positional values.
		var kwargs map[string]any
		if n := len(args); n > 0 {
			if m, ok := args[n-1].Export().(map[string]any); ok {
				kwargs = m
				args = args[:n-1]
			}
		}
		positional := make([]any, len(args))
		for i, arg := range args {
			positional[i] = arg.Export()
		}
		v, err := ctx.CallAny(name, positional, kwargs)
		if err != nil {
			fail(err)
		}
		return rt.ToValue(bridge.FromValue(v))
	})

	rt.Set("callUserFunction", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			fail(fmt.Errorf("callUserFunction takes a function name"))
		}
		var bundle map[string]any
		if len(call.Arguments) > 1 {
			m, ok := call.Argument(1).Export().(map[string]any)
			if !ok {
				fail(fmt.Errorf("callUserFunction takes a named-argument object"))
			}
			bundle = m
		}
		v, err := ctx.CallUserFunction(call.Argument(0).String(), bundle)
		if err != nil {
			fail(err)
		}
		return rt.ToValue(bridge.FromValue(v))
	})

	rt.Set("getVariable", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			fail(fmt.Errorf("getVariable takes a variable name"))
		}
		name := call.Argument(0).String()
		var v bridge.Value
		var err error
		if len(call.Arguments) > 1 {
			v, err = ctx.GetVariableOr(name, call.Argument(1).Export())
		} else {
			v, err = ctx.GetVariable(name)
		}
		if err != nil {
			fail(err)
		}
		return rt.ToValue(bridge.FromValue(v))
	})

	rt.Set("setVariable", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			fail(fmt.Errorf("setVariable takes a name and a value"))
		}
		if err := ctx.SetVariable(call.Argument(0).String(), call.Argument(1).Export()); err != nil {
			fail(err)
		}
		return goja.Undefined()
	})

	rt.Set("emit", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			fail(fmt.Errorf("emit takes a value and a display name"))
		}
		identifier := ""
		if len(call.Arguments) > 2 {
			identifier = call.Argument(2).String()
		}
		if err := ctx.Emit(call.Argument(0).Export(), call.Argument(1).String(), identifier); err != nil {
			fail(err)
		}
		return goja.Undefined()
	})

	// Everything bound so far belongs to the language surface, not to the
	// session; only globals beyond this baseline flow back into the store.
	baseline := make(map[string]bool)
	for _, key := range rt.GlobalObject().Keys() {
		baseline[key] = true
	}

	seeded := ctx.Store().Snapshot()
	for name, v := range seeded {
		rt.Set(name, bridge.FromValue(v))
	}

	if _, err := rt.RunString(source); err != nil {
		return unwrapScriptError(err)
	}

	global := rt.GlobalObject()
	for _, key := range global.Keys() {
		if baseline[key] {
			continue
		}
		exported := global.Get(key).Export()
		if prev, wasSeeded := seeded[key]; wasSeeded {
			// A seeded global the script never reassigned must not clobber
			// store writes made through setVariable during the run.
			if cur, err := bridge.ToValue(exported); err == nil && bridge.Equal(cur, prev) {
				continue
			}
		}
		if err := ctx.SetVariable(key, exported); err != nil {
			// Helper functions and other unmarshalable globals stay
			// script-local.
			continue
		}
		if key == ctx.ResultBinding() {
			if err := ctx.SetResult(exported); err != nil {
				return err
			}
		}
	}
	return nil
}

// unwrapScriptError recovers the Go error behind an uncaught exception.
// NewGoError stores the original error under the thrown object's "value"
// property, which is how typed bridge errors survive the interpreter; an
// exception the script caught and handled leaves no trace here.
func unwrapScriptError(err error) error {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if obj, ok := exc.Value().(*goja.Object); ok {
			if v := obj.Get("value"); v != nil {
				if cause, ok := v.Export().(error); ok {
					return cause
				}
			}
		}
	}
	return fmt.Errorf("script error: %w", err)
}

// makeOperation wraps one registered operation as a JS function. Arguments
// are positional; a trailing object literal whose keys are all declared
// parameters is treated as named arguments.
func makeOperation(rt *goja.Runtime, ctx *bridge.ExecContext, desc *bridge.Descriptor, fail func(error)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		positional := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			positional[i] = arg.Export()
		}

		var kwargs map[string]any
		if n := len(positional); n > 0 {
			if m, ok := positional[n-1].(map[string]any); ok && declaresAll(desc, m) {
				kwargs = m
				positional = positional[:n-1]
			}
		}

		v, err := ctx.Call(desc.Name, positional, kwargs)
		if err != nil {
			fail(err)
		}
		return rt.ToValue(bridge.FromValue(v))
	}
}

// makeUserFunction wraps one user-defined pipeline step. User functions take
// a single named-argument bundle, or nothing.
func makeUserFunction(rt *goja.Runtime, ctx *bridge.ExecContext, name string, fail func(error)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var bundle map[string]any
		switch len(call.Arguments) {
		case 0:
		case 1:
			m, ok := call.Argument(0).Export().(map[string]any)
			if !ok {
				fail(fmt.Errorf("user function %q takes a named-argument object", name))
			}
			bundle = m
		default:
			fail(fmt.Errorf("user function %q takes a single named-argument object", name))
		}

		v, err := ctx.CallUserFunction(name, bundle)
		if err != nil {
			fail(err)
		}
		return rt.ToValue(bridge.FromValue(v))
	}
}

func declaresAll(desc *bridge.Descriptor, m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for key := range m {
		found := false
		for _, p := range desc.Params {
			if p.Name == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
