package bridge

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Error taxonomy
//
// Every failure that can cross the script boundary is one of the types below.
// Each carries the originating name and, where applicable, an argument
// summary so that the host can report which call failed. None of them are
// swallowed by the bridge itself; defaulting reads (GetVariableOr) are the
// only place a lookup failure is absorbed.
// ---------------------------------------------------------------------------

// UndefinedVariable is returned when a variable is read without a default
// and was never set in the store.
type UndefinedVariable struct {
	Name string
}

func (e *UndefinedVariable) Error() string {
	return fmt.Sprintf("undefined variable %q", e.Name)
}

// UnknownOperation is returned when a dispatched name matches no registered
// operation (and, for CallAny, no user function either).
type UnknownOperation struct {
	Name string
}

func (e *UnknownOperation) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Name)
}

// UndefinedUserFunction is returned when a user-function invocation names a
// function absent from the session's user-function table.
type UndefinedUserFunction struct {
	Name string
}

func (e *UndefinedUserFunction) Error() string {
	return fmt.Sprintf("undefined user function %q", e.Name)
}

// ArgumentError is returned when argument binding fails before the host
// operation runs: too many positionals, an unexpected named argument, or a
// missing required parameter.
type ArgumentError struct {
	Op     string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %q: %s", e.Op, e.Reason)
}

// MarshalError is returned when a host-native value cannot be converted to a
// script Value, or the other way around.
type MarshalError struct {
	Reason string
}

func (e *MarshalError) Error() string {
	return "marshal error: " + e.Reason
}

// OperationError wraps a failure raised by the host operation itself. The
// original cause is preserved and the argument summary records what the call
// looked like at the boundary.
type OperationError struct {
	Op    string
	Args  string
	Cause error
}

func (e *OperationError) Error() string {
	if e.Args == "" {
		return fmt.Sprintf("operation %q failed: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("operation %q failed (args %s): %v", e.Op, e.Args, e.Cause)
}

func (e *OperationError) Unwrap() error { return e.Cause }

// summarizeArgs renders a stable one-line argument summary for error
// reporting. Handle contents are elided, only their kind is shown.
func summarizeArgs(args map[string]Value) string {
	if len(args) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + args[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
