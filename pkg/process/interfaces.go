package process

import (
	"io"
	"os/exec"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/interfaces"
)

// Launcher starts a command with its output copied to out and to handler.
// The returned wait function waits for the command to exit and for its
// output to be drained.
type Launcher interface {
	Launch(cmd *exec.Cmd, out io.Writer, handler interfaces.DataHandler) (wait func() error, err error)
}

// PipeLauncher connects stdout and stderr of the command through pipes.
type PipeLauncher struct{}

var _ Launcher = PipeLauncher{}

// Launch implements Launcher.
func (PipeLauncher) Launch(cmd *exec.Cmd, out io.Writer, handler interfaces.DataHandler) (func() error, error) {
	w := io.MultiWriter(out, handlerWriter{handler})
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}

// handlerWriter feeds written data to a DataHandler.
type handlerWriter struct {
	handler interfaces.DataHandler
}

func (w handlerWriter) Write(p []byte) (int, error) {
	w.handler.HandleData(p)
	return len(p), nil
}
