package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/interfaces"
)

// DefaultDrainTimeout bounds how long output is read after the command exits.
// Background jobs started by a cell can keep the terminal open forever.
const DefaultDrainTimeout = 2 * time.Second

var defaultSize = pty.Winsize{Rows: 24, Cols: 120}

// PTYLauncher runs commands inside a pseudo-terminal so they keep their
// interactive output (colors, progress bars).
type PTYLauncher struct {
	DrainTimeout time.Duration
}

// Ensure PTYLauncher implements Launcher
var _ Launcher = (*PTYLauncher)(nil)

// NewPTYLauncher creates a new PTY launcher
func NewPTYLauncher() *PTYLauncher {
	return &PTYLauncher{DrainTimeout: DefaultDrainTimeout}
}

// Launch implements Launcher.
func (p *PTYLauncher) Launch(cmd *exec.Cmd, out io.Writer, handler interfaces.DataHandler) (func() error, error) {
	size := terminalSize()
	ptmx, err := pty.StartWithSize(cmd, &size)
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		reader := &outputReader{
			reader:  ptmx,
			handler: handler.HandleData,
		}
		// Reading the master returns EIO once the child side is gone; that
		// is the normal end of output.
		_, _ = io.Copy(out, reader)
	}()

	drain := p.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}

	return func() error {
		err := cmd.Wait()

		timer := time.NewTimer(drain)
		select {
		case <-copyDone:
		case <-timer.C:
		}
		timer.Stop()

		_ = ptmx.Close()
		<-copyDone
		return err
	}, nil
}

// terminalSize copies the size of our own terminal, if we have one.
func terminalSize() pty.Winsize {
	size, err := pty.GetsizeFull(os.Stdin)
	if err != nil || size.Rows == 0 || size.Cols == 0 {
		return defaultSize
	}
	return *size
}

// outputReader wraps a reader and calls a handler for each chunk of data
type outputReader struct {
	reader  io.Reader
	handler func([]byte)
}

func (r *outputReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	if n > 0 && r.handler != nil {
		r.handler(p[:n])
	}
	return n, err
}
