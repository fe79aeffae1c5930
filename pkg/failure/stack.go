package failure

import (
	"runtime"
	"strings"
)

const maxStackDepth = 64

// Recovered converts a value returned by recover() into a *PanicError with
// the stack of the panicking goroutine. It must be called from the deferred
// function that recovered. Frames from stopAt (a fully qualified function
// name suffix such as "session.invokeCell") outwards are dropped.
func Recovered(r any, stopAt string) *PanicError {
	pcs := make([]uintptr, maxStackDepth)
	// Skip runtime.Callers and Recovered itself.
	n := runtime.Callers(2, pcs)
	return &PanicError{
		Value:  r,
		frames: panicFrames(pcs[:n], stopAt),
	}
}

// panicFrames keeps the frames between the panic site and stopAt, returned
// outermost first.
func panicFrames(pcs []uintptr, stopAt string) []Frame {
	const (
		beforePanic = iota
		inRuntime
		inCell
	)

	var inner []Frame
	state := beforePanic
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if isRuntimeFunc(fr.Function) {
			if state == inCell {
				break
			}
			state = inRuntime
		} else if stopAt != "" && isStop(fr.Function, stopAt) {
			break
		} else if state != beforePanic {
			state = inCell
			inner = append(inner, Frame{
				Function: fr.Function,
				File:     fr.File,
				Line:     fr.Line,
			})
		}
		if !more {
			break
		}
	}

	out := make([]Frame, len(inner))
	for i, fr := range inner {
		out[len(inner)-1-i] = fr
	}
	return out
}

func isRuntimeFunc(fn string) bool {
	return strings.HasPrefix(fn, "runtime.")
}

func isStop(fn, stopAt string) bool {
	return fn == stopAt || strings.HasSuffix(fn, "/"+stopAt)
}
