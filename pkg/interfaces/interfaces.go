// Package interfaces defines the core interfaces used throughout the application.
package interfaces

import "github.com/nakkulla/notebook-slack-ntfy/pkg/failure"

// OutputHandler processes output lines.
type OutputHandler interface {
	HandleLine(line string)
}

// DataHandler processes raw output data.
type DataHandler interface {
	OutputHandler
	HandleData(data []byte)
}

// TracebackRenderer renders a captured failure.
type TracebackRenderer interface {
	Structured(f *failure.CapturedFailure) []string
	Text(stb []string) string
}
