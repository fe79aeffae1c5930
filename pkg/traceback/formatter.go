// Package traceback renders captured failures for display and delivery.
//
// A rendering is produced in two steps: Structured returns one entry per
// logical block (banner, one per frame, final message), Text flattens the
// entries into a single string.
package traceback

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/failure"
)

// Mode selects how much detail a frame shows.
type Mode int

const (
	// ModePlain shows only the frame location.
	ModePlain Mode = iota
	// ModeContext adds surrounding source lines.
	ModeContext
	// ModeVerbose adds source lines and captured locals.
	ModeVerbose
)

// ParseMode parses a mode name as used in configuration files.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "plain":
		return ModePlain, nil
	case "context", "":
		return ModeContext, nil
	case "verbose":
		return ModeVerbose, nil
	}
	return ModePlain, fmt.Errorf("unknown traceback mode %q (use plain, context or verbose)", s)
}

func (m Mode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeContext:
		return "context"
	case ModeVerbose:
		return "verbose"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

const (
	defaultWidth   = 75
	defaultContext = 5
	maxListing     = 10

	bannerTitle = "Traceback (most recent call last)"
)

// ANSI sequences used when color is enabled.
const (
	colorReset    = "\x1b[0m"
	colorRed      = "\x1b[31m"
	colorGreen    = "\x1b[32m"
	colorCyan     = "\x1b[36m"
	colorBoldRed  = "\x1b[1;31m"
	colorLineMark = "\x1b[1;32m"
)

// Options configures a Formatter.
type Options struct {
	Mode  Mode
	Color bool
	// Offset skips that many outermost frames.
	Offset int
	// Context is the number of source lines shown around the failing line.
	Context int
	Width   int
}

// Option mutates Options.
type Option func(*Options)

// WithMode sets the rendering mode.
func WithMode(m Mode) Option { return func(o *Options) { o.Mode = m } }

// WithColor enables or disables ANSI colors.
func WithColor(on bool) Option { return func(o *Options) { o.Color = on } }

// WithOffset skips the n outermost frames.
func WithOffset(n int) Option { return func(o *Options) { o.Offset = n } }

// WithContext sets how many source lines surround the failing line.
func WithContext(n int) Option { return func(o *Options) { o.Context = n } }

// Formatter renders failures. It is safe for concurrent use.
type Formatter struct {
	opts    Options
	sources *sourceCache
}

type sourceCache struct {
	mu    sync.Mutex
	lines map[string][]string
	read  func(string) ([]byte, error)
}

// New creates a formatter in context mode with color disabled.
func New(opts ...Option) *Formatter {
	o := Options{
		Mode:    ModeContext,
		Context: defaultContext,
		Width:   defaultWidth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Formatter{
		opts: o,
		sources: &sourceCache{
			lines: make(map[string][]string),
			read:  os.ReadFile,
		},
	}
}

// With returns a formatter sharing this formatter's source cache with opts
// applied on top of its options.
func (f *Formatter) With(opts ...Option) *Formatter {
	o := f.opts
	for _, opt := range opts {
		opt(&o)
	}
	return &Formatter{opts: o, sources: f.sources}
}

// Options returns the formatter's options.
func (f *Formatter) Options() Options {
	return f.opts
}

// Structured renders a failure into blocks: a banner, one block per frame
// and the final "Type: message" line.
func (f *Formatter) Structured(fl *failure.CapturedFailure) []string {
	if fl == nil {
		return nil
	}

	frames := fl.Traceback
	if f.opts.Offset > 0 {
		if f.opts.Offset >= len(frames) {
			frames = nil
		} else {
			frames = frames[f.opts.Offset:]
		}
	}

	out := make([]string, 0, len(frames)+2)
	out = append(out, f.banner(fl.Type))
	for _, fr := range frames {
		out = append(out, f.frame(fr))
	}
	out = append(out, f.final(fl))
	return out
}

// Text flattens structured blocks into a single string.
func (f *Formatter) Text(stb []string) string {
	return strings.Join(stb, "\n")
}

// Format is Text(Structured(fl)).
func (f *Formatter) Format(fl *failure.CapturedFailure) string {
	return f.Text(f.Structured(fl))
}

func (f *Formatter) banner(typ string) string {
	rule := strings.Repeat("-", f.opts.Width)
	pad := f.opts.Width - len(typ) - len(bannerTitle)
	if pad < 1 {
		pad = 1
	}
	head := typ + strings.Repeat(" ", pad) + bannerTitle
	return rule + " " + f.paint(colorRed, head)
}

func (f *Formatter) final(fl *failure.CapturedFailure) string {
	msg := fl.Message()
	if msg == "" {
		return f.paint(colorBoldRed, fl.Type)
	}
	return f.paint(colorBoldRed, fl.Type) + ": " + msg
}

func (f *Formatter) frame(fr failure.Frame) string {
	var b strings.Builder

	loc := fr.File
	if loc == "" {
		loc = "<unknown>"
	}
	if fr.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, fr.Line)
	}
	fn := fr.Function
	if fn == "" {
		fn = "<cell>"
	}
	fmt.Fprintf(&b, "%s in %s", f.paint(colorGreen, loc), f.paint(colorCyan, fn+"()"))

	if f.opts.Mode >= ModeContext {
		for _, line := range f.contextLines(fr) {
			b.WriteString("\n")
			b.WriteString(line)
		}
	}

	if f.opts.Mode == ModeVerbose && len(fr.Locals) > 0 {
		b.WriteString("\n")
		for _, l := range fr.Locals {
			fmt.Fprintf(&b, "\n%s = %s", l.Name, l.Value)
		}
	}
	return b.String()
}

func (f *Formatter) contextLines(fr failure.Frame) []string {
	if fr.Line <= 0 {
		return f.listing(fr.Source)
	}
	lines := f.sourceLines(fr)
	if len(lines) == 0 || fr.Line > len(lines) {
		return nil
	}

	ctx := f.opts.Context
	if ctx < 1 {
		ctx = 1
	}
	before := (ctx - 1) / 2
	start := fr.Line - before
	if start < 1 {
		start = 1
	}
	end := start + ctx - 1
	if end > len(lines) {
		end = len(lines)
	}

	width := len(fmt.Sprint(end))
	out := make([]string, 0, end-start+1)
	for n := start; n <= end; n++ {
		text := strings.TrimRight(lines[n-1], "\r")
		if n == fr.Line {
			out = append(out, fmt.Sprintf("%s %*d %s", f.paint(colorLineMark, "--->"), width, n, text))
			continue
		}
		out = append(out, fmt.Sprintf("     %*d %s", width, n, text))
	}
	return out
}

// listing numbers the first lines of a frame source that has no failing
// line, such as a shell cell.
func (f *Formatter) listing(source string) []string {
	source = strings.TrimRight(source, "\n")
	if source == "" {
		return nil
	}
	lines := strings.Split(source, "\n")
	truncated := false
	if len(lines) > maxListing {
		lines = lines[:maxListing]
		truncated = true
	}

	width := len(fmt.Sprint(len(lines)))
	out := make([]string, 0, len(lines)+1)
	for i, text := range lines {
		out = append(out, fmt.Sprintf("     %*d %s", width, i+1, strings.TrimRight(text, "\r")))
	}
	if truncated {
		out = append(out, "     ...")
	}
	return out
}

func (f *Formatter) sourceLines(fr failure.Frame) []string {
	if fr.Source != "" {
		return strings.Split(fr.Source, "\n")
	}
	if fr.File == "" || strings.HasPrefix(fr.File, "<") {
		return nil
	}

	return f.sources.get(fr.File)
}

func (c *sourceCache) get(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lines, ok := c.lines[path]; ok {
		return lines
	}
	data, err := c.read(path)
	if err != nil {
		// Cache the miss so a missing file is only read once.
		c.lines[path] = nil
		return nil
	}
	lines := strings.Split(string(data), "\n")
	c.lines[path] = lines
	return lines
}

func (f *Formatter) paint(color, s string) string {
	if !f.opts.Color {
		return s
	}
	return color + s + colorReset
}
