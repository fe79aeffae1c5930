// Package failure defines the value types describing a failed cell execution.
package failure

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Frame is a single entry of a traceback.
type Frame struct {
	Function string
	File     string
	Line     int

	// Source holds the full text of the unit the frame points into when the
	// file cannot be read from disk (for example a notebook cell).
	Source string

	// Locals are shown by verbose formatters, in order.
	Locals []Local
}

// Local is a named value captured alongside a frame.
type Local struct {
	Name  string
	Value string
}

// CapturedFailure is the triple handed from the host to failure hooks.
// Traceback is ordered outermost first, most recent call last.
type CapturedFailure struct {
	Type      string
	Value     error
	Traceback []Frame
}

// New builds a CapturedFailure for err, deriving the type name from the error.
func New(err error, frames []Frame) *CapturedFailure {
	return &CapturedFailure{
		Type:      TypeName(err),
		Value:     err,
		Traceback: frames,
	}
}

// Message returns the failure value's message, or an empty string.
func (f *CapturedFailure) Message() string {
	if f == nil || f.Value == nil {
		return ""
	}
	return f.Value.Error()
}

// Typer is implemented by errors that name their own failure category.
type Typer interface {
	FailureType() string
}

// Framer is implemented by errors that carry their own traceback.
type Framer interface {
	Frames() []Frame
}

// TypeName returns the failure category of err.
func TypeName(err error) string {
	if err == nil {
		return ""
	}
	var typer Typer
	if errors.As(err, &typer) {
		return typer.FailureType()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// TypedError is an error with an explicit failure category.
type TypedError struct {
	Type string
	Msg  string
	Err  error
}

// Errorf returns a *TypedError of category typ.
func Errorf(typ, format string, args ...any) *TypedError {
	err := fmt.Errorf(format, args...)
	return &TypedError{Type: typ, Msg: err.Error(), Err: errors.Unwrap(err)}
}

func (e *TypedError) Error() string       { return e.Msg }
func (e *TypedError) Unwrap() error       { return e.Err }
func (e *TypedError) FailureType() string { return e.Type }

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value  any
	frames []Frame
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RuntimeErrorType is the failure type of panics raised by the Go runtime,
// such as a nil dereference or an out of range index.
const RuntimeErrorType = "runtime.Error"

// FailureType names the dynamic type of the panic value.
func (e *PanicError) FailureType() string {
	if typer, ok := e.Value.(Typer); ok {
		return typer.FailureType()
	}
	if _, ok := e.Value.(runtime.Error); ok {
		return RuntimeErrorType
	}
	return "panic(" + strings.TrimPrefix(fmt.Sprintf("%T", e.Value), "*") + ")"
}

// Frames returns the stack captured when the panic was recovered.
func (e *PanicError) Frames() []Frame {
	return e.frames
}
