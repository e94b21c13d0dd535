package diagnostics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode identifies a runtime error kind. Codes are stable and appear
// in formatted output, e.g. "R001 NoSuchMethod: ...".
type ErrorCode string

const (
	ErrR001 ErrorCode = "R001" // no such method
	ErrR002 ErrorCode = "R002" // cast / type error
	ErrR003 ErrorCode = "R003" // assertion failed
	ErrR004 ErrorCode = "R004" // invalid state
	ErrR005 ErrorCode = "R005" // circular initialization
	ErrR006 ErrorCode = "R006" // wrong number of type arguments
	ErrR007 ErrorCode = "R007" // module resolution
)

var codeKinds = map[ErrorCode]string{
	ErrR001: "NoSuchMethod",
	ErrR002: "CastError",
	ErrR003: "AssertionError",
	ErrR004: "StateError",
	ErrR005: "CircularInitialization",
	ErrR006: "ArityError",
	ErrR007: "ModuleError",
}

// Kind returns the human-readable error kind for a code.
func (c ErrorCode) Kind() string {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return "Error"
}

// Coded is implemented by every runtime error.
type Coded interface {
	error
	Code() ErrorCode
}

// CodeOf returns the code of the first Coded error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var c Coded
	if errors.As(err, &c) {
		return c.Code(), true
	}
	return "", false
}

// NoSuchMethodError is raised when a member is absent on the receiver, or
// when any member is requested on null.
type NoSuchMethodError struct {
	Receiver   any
	Member     string
	Positional []any
	Named      map[string]any
	Reason     string
}

func (e *NoSuchMethodError) Code() ErrorCode { return ErrR001 }

func (e *NoSuchMethodError) Error() string {
	var b strings.Builder
	if e.Receiver == nil {
		fmt.Fprintf(&b, "method '%s' called on null", e.Member)
	} else {
		fmt.Fprintf(&b, "class '%s' has no member '%s'", describeReceiver(e.Receiver), e.Member)
	}
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	if len(e.Positional) > 0 || len(e.Named) > 0 {
		b.WriteString("\n  arguments: ")
		b.WriteString(FormatArgs(e.Positional, e.Named))
	}
	return b.String()
}

// NewNoSuchMethod builds a NoSuchMethodError without arguments.
func NewNoSuchMethod(receiver any, member string) *NoSuchMethodError {
	return &NoSuchMethodError{Receiver: receiver, Member: member}
}

// CastError reports a failed runtime type check. Actual and Expected are
// rendered type descriptors.
type CastError struct {
	Value    any
	Actual   string
	Expected string
}

func (e *CastError) Code() ErrorCode { return ErrR002 }

func (e *CastError) Error() string {
	return fmt.Sprintf("type '%s' is not a subtype of type '%s'", e.Actual, e.Expected)
}

// AssertionError is raised by a failed explicit assertion.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Code() ErrorCode { return ErrR003 }

func (e *AssertionError) Error() string {
	if e.Message == "" {
		return "assertion failed"
	}
	return "assertion failed: " + e.Message
}

// Assert returns an AssertionError when cond is false.
func Assert(cond bool, format string, a ...any) error {
	if cond {
		return nil
	}
	return &AssertionError{Message: fmt.Sprintf(format, a...)}
}

// StateError reports an operation that is invalid in the current state.
type StateError struct {
	Message string
}

func (e *StateError) Code() ErrorCode { return ErrR004 }
func (e *StateError) Error() string   { return "bad state: " + e.Message }

// NewStateError formats a StateError.
func NewStateError(format string, a ...any) *StateError {
	return &StateError{Message: fmt.Sprintf(format, a...)}
}

// CircularInitError is raised when a lazy binding is read while its own
// initializer is still running.
type CircularInitError struct {
	Name string
}

func (e *CircularInitError) Code() ErrorCode { return ErrR005 }

func (e *CircularInitError) Error() string {
	return fmt.Sprintf("reading lazy binding '%s' during its initialization", e.Name)
}

// ArityError reports a generic instantiation with the wrong number of type
// arguments.
type ArityError struct {
	Template string
	Want     int
	Got      int
}

func (e *ArityError) Code() ErrorCode { return ErrR006 }

func (e *ArityError) Error() string {
	return fmt.Sprintf("template '%s' expects %d type argument(s), got %d", e.Template, e.Want, e.Got)
}

// ModuleError reports a module registration or resolution failure. Path
// holds the dependency chain that led to the failure.
type ModuleError struct {
	Module  string
	Path    []string
	Message string
	Err     error
}

func (e *ModuleError) Code() ErrorCode { return ErrR007 }

func (e *ModuleError) Error() string {
	msg := fmt.Sprintf("module '%s': %s", e.Module, e.Message)
	if len(e.Path) > 0 {
		msg += " [" + strings.Join(e.Path, " -> ") + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModuleError) Unwrap() error { return e.Err }

// FormatArgs renders a positional/named argument list as "(a, b, name: c)".
// Named arguments are sorted by name.
func FormatArgs(positional []any, named map[string]any) string {
	parts := make([]string, 0, len(positional)+len(named))
	for _, p := range positional {
		parts = append(parts, formatValue(p))
	}
	keys := make([]string, 0, len(named))
	for k := range named {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+formatValue(named[k]))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Named is implemented by receivers that know their class name.
type Named interface {
	ClassName() string
}

func describeReceiver(v any) string {
	if n, ok := v.(Named); ok {
		return n.ClassName()
	}
	return fmt.Sprintf("%T", v)
}
