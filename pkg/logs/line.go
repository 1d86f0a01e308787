// Package logs carries deployment log lines from producers to a log sink in
// bounded batches.
package logs

import (
	"time"

	"github.com/google/uuid"
)

// Origins of a log line.
const (
	OriginRuntime  = "runtime"
	OriginService  = "service"
	OriginDeployer = "deployer"
)

// LogLine is a single log record tagged with the deployment that produced it.
type LogLine struct {
	DeploymentID uuid.UUID `json:"deployment_id"`
	Origin       string    `json:"origin"`
	Timestamp    time.Time `json:"timestamp"`
	Text         string    `json:"line"`
}

// Recorder accepts log lines without blocking the caller.
type Recorder interface {
	Send(line LogLine)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(LogLine)

// Send calls f(line).
func (f RecorderFunc) Send(line LogLine) { f(line) }

type tee []Recorder

func (t tee) Send(line LogLine) {
	for _, r := range t {
		r.Send(line)
	}
}

// Tee fans each line out to every non-nil recorder.
func Tee(recorders ...Recorder) Recorder {
	out := make(tee, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Discard drops every line.
var Discard Recorder = RecorderFunc(func(LogLine) {})
