package logs

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Writer turns every newline terminated chunk written to it into a LogLine.
type Writer struct {
	mu           sync.Mutex
	recorder     Recorder
	deploymentID uuid.UUID
	origin       string
	now          func() time.Time
	partial      []byte
}

// NewWriter returns a Writer that tags lines with deploymentID and origin.
func NewWriter(recorder Recorder, deploymentID uuid.UUID, origin string) *Writer {
	if recorder == nil {
		recorder = Discard
	}
	return &Writer{recorder: recorder, deploymentID: deploymentID, origin: origin, now: time.Now}
}

// Write implements io.Writer. Incomplete trailing lines are held until the next
// write or Flush.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	data := append(w.partial, p...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		w.emit(data[:idx])
		data = data[idx+1:]
	}
	w.partial = append([]byte(nil), data...)
	return len(p), nil
}

// Flush records any incomplete trailing line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
}

func (w *Writer) emit(raw []byte) {
	text := string(bytes.TrimRight(raw, "\r"))
	if text == "" {
		return
	}
	w.recorder.Send(LogLine{
		DeploymentID: w.deploymentID,
		Origin:       w.origin,
		Timestamp:    w.now().UTC(),
		Text:         text,
	})
}

// NewLogger returns a text slog.Logger whose records become log lines.
func NewLogger(recorder Recorder, deploymentID uuid.UUID, origin string) *slog.Logger {
	return slog.New(slog.NewTextHandler(NewWriter(recorder, deploymentID, origin), &slog.HandlerOptions{Level: slog.LevelDebug}))
}
