package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/failure"
)

// CellFunc is the body of a cell. Output meant for the user goes to out.
type CellFunc func(ctx context.Context, out io.Writer) error

// Cell is one unit of execution.
type Cell struct {
	// Name is optional and only used in tracebacks and logs.
	Name string
	// Source is the text the cell was built from, if any.
	Source string
	Run    CellFunc
}

func (c Cell) label(count int) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("<cell %d>", count)
}

// frame is the synthetic frame used when a failure carries no stack.
func (c Cell) frame(count int) failure.Frame {
	fn := c.Name
	if fn == "" {
		fn = "<module>"
	}
	return failure.Frame{
		Function: fn,
		File:     fmt.Sprintf("<cell %d>", count),
		Source:   c.Source,
	}
}

// ExecutionResult describes one RunCell call.
type ExecutionResult struct {
	ID             uuid.UUID
	ExecutionCount int
	Cell           Cell
	Duration       time.Duration

	// Err is the error the cell returned or the panic it raised.
	Err error
	// Failure is set when Err is.
	Failure *failure.CapturedFailure
	// Traceback holds the structured traceback recorded for a failed cell.
	Traceback []string
	// HookErr joins the errors returned by exception handlers and post-run
	// observers.
	HookErr error
}

// Success reports whether the cell ran without error.
func (r *ExecutionResult) Success() bool {
	return r.Err == nil
}

const panicBoundary = "session.invokeCell"

// invokeCell runs the cell, converting a panic into a *failure.PanicError.
func invokeCell(ctx context.Context, cell Cell, out io.Writer) (err error) {
	if cell.Run == nil {
		return fmt.Errorf("cell has no body")
	}
	defer func() {
		if r := recover(); r != nil {
			err = failure.Recovered(r, panicBoundary)
		}
	}()
	return cell.Run(ctx, out)
}
