// Package session executes notebook cells and exposes the hooks failure
// interceptors attach to.
//
// A Session keeps two observer lists:
//   - exception handlers, invoked with the failure triple when a cell fails;
//     they take over displaying the traceback;
//   - post-run observers, invoked with the execution result after every
//     cell, successful or not.
//
// Registration never deduplicates: adding the same hook twice makes it fire
// twice.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/failure"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/traceback"
)

// ExceptionHandler is called for every failure that escapes a cell. It
// returns the structured traceback the host should record for the cell.
type ExceptionHandler func(ctx context.Context, s *Session, etype string, value error, tb []failure.Frame, offset int) ([]string, error)

// PostRunObserver is called after every cell execution.
type PostRunObserver func(ctx context.Context, s *Session, result *ExecutionResult) error

// Session runs cells one at a time.
type Session struct {
	formatter *traceback.Formatter
	display   io.Writer
	offset    int
	logger    zerolog.Logger

	// runMu serializes cell execution.
	runMu sync.Mutex

	mu             sync.Mutex
	seq            uint64
	handlers       []hookEntry[ExceptionHandler]
	observers      []hookEntry[PostRunObserver]
	executionCount int
	current        *failure.CapturedFailure
	tracebackShown bool
}

type hookEntry[T any] struct {
	id   uint64
	hook T
}

// Option configures a Session.
type Option func(*Session)

// WithFormatter sets the formatter used for displaying tracebacks.
func WithFormatter(f *traceback.Formatter) Option {
	return func(s *Session) { s.formatter = f }
}

// WithDisplay sets where rendered output is written.
func WithDisplay(w io.Writer) Option {
	return func(s *Session) { s.display = w }
}

// WithTracebackOffset sets the offset handed to exception handlers.
func WithTracebackOffset(n int) Option {
	return func(s *Session) { s.offset = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l.With().Str("component", "session").Logger() }
}

// New creates a session. By default tracebacks are rendered in context mode
// to stdout.
func New(opts ...Option) *Session {
	s := &Session{
		formatter: traceback.New(),
		display:   os.Stdout,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Formatter returns the session's traceback formatter.
func (s *Session) Formatter() *traceback.Formatter {
	return s.formatter
}

// TracebackOffset returns the offset handed to exception handlers.
func (s *Session) TracebackOffset() int {
	return s.offset
}

// Display writes text to the session's display, adding a trailing newline.
func (s *Session) Display(text string) {
	if text == "" {
		return
	}
	if text[len(text)-1] != '\n' {
		text += "\n"
	}
	_, _ = io.WriteString(s.display, text)
}

// ShowTraceback displays stb for the failing cell. Only the first traceback
// of a cell is displayed; later calls, such as from a second exception
// handler, are ignored.
func (s *Session) ShowTraceback(stb []string) {
	s.mu.Lock()
	shown := s.tracebackShown
	s.tracebackShown = true
	s.mu.Unlock()

	if !shown {
		s.Display(s.formatter.Text(stb))
	}
}

// CurrentFailure returns the failure of the most recent cell if it failed,
// nil otherwise.
func (s *Session) CurrentFailure() *failure.CapturedFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ExecutionCount returns the number of cells run so far.
func (s *Session) ExecutionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executionCount
}

// AddExceptionHandler registers h and returns a function removing it.
func (s *Session) AddExceptionHandler(h ExceptionHandler) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	s.handlers = append(s.handlers, hookEntry[ExceptionHandler]{id: id, hook: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.handlers = removeEntry(s.handlers, id)
		})
	}
}

// AddPostRunObserver registers o and returns a function removing it.
func (s *Session) AddPostRunObserver(o PostRunObserver) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	s.observers = append(s.observers, hookEntry[PostRunObserver]{id: id, hook: o})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.observers = removeEntry(s.observers, id)
		})
	}
}

// HookCount returns the number of registered exception handlers and post-run
// observers.
func (s *Session) HookCount() (handlers, observers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers), len(s.observers)
}

func removeEntry[T any](entries []hookEntry[T], id uint64) []hookEntry[T] {
	out := entries[:0:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

// RunCell executes cell and runs the registered hooks. It blocks until the
// cell and every hook have returned.
func (s *Session) RunCell(ctx context.Context, cell Cell) *ExecutionResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	s.executionCount++
	count := s.executionCount
	s.current = nil
	s.tracebackShown = false
	s.mu.Unlock()

	result := &ExecutionResult{
		ID:             uuid.New(),
		ExecutionCount: count,
		Cell:           cell,
	}
	log := s.logger.With().
		Str("execution_id", result.ID.String()).
		Int("execution_count", count).
		Str("cell", cell.label(count)).
		Logger()

	start := time.Now()
	result.Err = invokeCell(ctx, cell, s.display)
	result.Duration = time.Since(start)

	if result.Err != nil {
		result.Failure = captureFailure(cell, count, result.Err)
		s.mu.Lock()
		s.current = result.Failure
		s.mu.Unlock()

		log.Debug().Str("failure_type", result.Failure.Type).Dur("duration", result.Duration).Msg("cell failed")
		s.handleFailure(ctx, result, log)
	} else {
		log.Debug().Dur("duration", result.Duration).Msg("cell finished")
	}

	s.notifyObservers(ctx, result, log)
	return result
}

// handleFailure hands the failure to the exception handlers, falling back to
// rendering it directly when no handler produced a traceback.
func (s *Session) handleFailure(ctx context.Context, result *ExecutionResult, log zerolog.Logger) {
	s.mu.Lock()
	handlers := make([]hookEntry[ExceptionHandler], len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	f := result.Failure
	var errs []error
	handled := false
	for _, h := range handlers {
		stb, err := h.hook(ctx, s, f.Type, f.Value, f.Traceback, s.offset)
		if err != nil {
			log.Error().Err(err).Msg("exception handler failed")
			errs = append(errs, fmt.Errorf("exception handler: %w", err))
			continue
		}
		handled = true
		if stb != nil {
			result.Traceback = stb
		}
	}

	if len(errs) > 0 {
		result.HookErr = errors.Join(errs...)
		s.Display(fmt.Sprintf("failure hook error: %v", result.HookErr))
	}

	if !handled {
		result.Traceback = s.formatter.With(traceback.WithOffset(s.offset)).Structured(f)
		s.ShowTraceback(result.Traceback)
	}
}

func (s *Session) notifyObservers(ctx context.Context, result *ExecutionResult, log zerolog.Logger) {
	s.mu.Lock()
	observers := make([]hookEntry[PostRunObserver], len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	var errs []error
	for _, o := range observers {
		if err := o.hook(ctx, s, result); err != nil {
			log.Error().Err(err).Msg("post-run observer failed")
			errs = append(errs, fmt.Errorf("post-run observer: %w", err))
		}
	}
	if len(errs) == 0 {
		return
	}

	s.Display(fmt.Sprintf("failure hook error: %v", errors.Join(errs...)))
	if result.HookErr != nil {
		errs = append([]error{result.HookErr}, errs...)
	}
	result.HookErr = errors.Join(errs...)
}

// captureFailure builds the failure triple for err.
func captureFailure(cell Cell, count int, err error) *failure.CapturedFailure {
	var frames []failure.Frame
	var framer failure.Framer
	if errors.As(err, &framer) {
		frames = framer.Frames()
	}
	if len(frames) == 0 {
		frames = []failure.Frame{cell.frame(count)}
	}
	return failure.New(err, frames)
}
