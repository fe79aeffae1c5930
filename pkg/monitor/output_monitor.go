package monitor

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/interfaces"
)

// DefaultTailLines is the number of output lines kept when none is configured.
const DefaultTailLines = 20

// OutputMonitor captures the output of a running cell. It keeps the last
// lines with terminal escape sequences removed so they can be attached to a
// traceback.
type OutputMonitor struct {
	maxLines int

	mu             sync.Mutex
	lastOutputTime time.Time
	lineBuffer     bytes.Buffer
	tail           []string
	totalLines     int
}

// Ensure OutputMonitor implements DataHandler
var _ interfaces.DataHandler = (*OutputMonitor)(nil)

// NewOutputMonitor creates a monitor keeping up to maxLines lines.
func NewOutputMonitor(maxLines int) *OutputMonitor {
	if maxLines <= 0 {
		maxLines = DefaultTailLines
	}
	return &OutputMonitor{
		maxLines:       maxLines,
		lastOutputTime: time.Now(),
	}
}

// containsVisibleContent checks if the data contains any visible characters
// Visible characters include printable ASCII, newlines, tabs, and Unicode text
// Returns false for data containing only ANSI escape sequences or control characters
func containsVisibleContent(data []byte) bool {
	for _, b := range stripEscapes(data) {
		if b == '\n' || b == '\r' || b == '\t' {
			return true
		}
		if b >= 32 && b <= 126 {
			return true
		}
		if b >= 128 {
			return true
		}
	}
	return false
}

// stripEscapes removes CSI, OSC and character set sequences.
func stripEscapes(data []byte) []byte {
	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		b := data[i]

		if b == 0x1B { // ESC
			i++
			if i >= len(data) {
				break
			}
			switch next := data[i]; next {
			case '[': // CSI sequence
				i++
				i = skipCSI(data, i)
			case ']': // OSC sequence
				i++
				// Skip until we find BEL or ST terminator
				for i < len(data) {
					c := data[i]
					i++
					if c == 0x07 {
						break
					}
					if c == 0x1B && i < len(data) && data[i] == '\\' {
						i++
						break
					}
				}
			case '(', ')': // Character set sequences
				i += 2
			default:
				i++
			}
			continue
		}
		if b == 0x9B { // CSI (8-bit)
			i = skipCSI(data, i+1)
			continue
		}

		out = append(out, b)
		i++
	}
	return out
}

// skipCSI returns the index after the CSI terminator (0x40-0x7E).
func skipCSI(data []byte, i int) int {
	for i < len(data) {
		c := data[i]
		i++
		if c >= 0x40 && c <= 0x7E {
			break
		}
	}
	return i
}

// HandleData processes raw output data
func (om *OutputMonitor) HandleData(data []byte) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if containsVisibleContent(data) {
		om.lastOutputTime = time.Now()
	}

	om.lineBuffer.Write(data)

	buffer := om.lineBuffer.Bytes()
	start := 0
	for i := 0; i < len(buffer); i++ {
		if buffer[i] == '\n' {
			om.processLine(buffer[start:i])
			start = i + 1
		}
	}

	// Keep any incomplete line in the buffer
	rest := append([]byte(nil), buffer[start:]...)
	om.lineBuffer.Reset()
	om.lineBuffer.Write(rest)
}

// processLine stores a complete line in the tail.
func (om *OutputMonitor) processLine(line []byte) {
	text := string(stripEscapes(line))
	text = strings.TrimRight(text, "\r")
	// A carriage return rewinds the line; keep what is left visible.
	if idx := strings.LastIndexByte(text, '\r'); idx >= 0 {
		text = text[idx+1:]
	}
	text = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' {
			return -1
		}
		return r
	}, text)

	om.totalLines++
	om.tail = append(om.tail, text)
	if len(om.tail) > om.maxLines {
		om.tail = om.tail[len(om.tail)-om.maxLines:]
	}
}

// Flush processes any remaining data in the buffer
func (om *OutputMonitor) Flush() {
	om.mu.Lock()
	defer om.mu.Unlock()

	if om.lineBuffer.Len() > 0 {
		om.processLine(om.lineBuffer.Bytes())
		om.lineBuffer.Reset()
	}
}

// HandleLine implements the OutputHandler interface
func (om *OutputMonitor) HandleLine(line string) {
	om.HandleData([]byte(line + "\n"))
}

// Tail returns a copy of the captured lines, oldest first.
func (om *OutputMonitor) Tail() []string {
	om.mu.Lock()
	defer om.mu.Unlock()
	out := make([]string, len(om.tail))
	copy(out, om.tail)
	return out
}

// TotalLines returns the number of complete lines seen, including the ones
// that dropped out of the tail.
func (om *OutputMonitor) TotalLines() int {
	om.mu.Lock()
	defer om.mu.Unlock()
	return om.totalLines
}

// LastOutputTime returns the time of the last visible output
func (om *OutputMonitor) LastOutputTime() time.Time {
	om.mu.Lock()
	defer om.mu.Unlock()
	return om.lastOutputTime
}

// Reset clears all captured output.
func (om *OutputMonitor) Reset() {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.lineBuffer.Reset()
	om.tail = nil
	om.totalLines = 0
	om.lastOutputTime = time.Now()
}
