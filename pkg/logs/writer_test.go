package logs

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type memoryRecorder struct {
	mu    sync.Mutex
	lines []LogLine
}

func (m *memoryRecorder) Send(line LogLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)
}

func TestWriterSplitsLines(t *testing.T) {
	rec := &memoryRecorder{}
	id := uuid.New()
	w := NewWriter(rec, id, OriginService)

	w.Write([]byte("first\nsec"))
	w.Write([]byte("ond\n\nthird"))
	if len(rec.lines) != 2 {
		t.Fatalf("expected 2 complete lines, got %d", len(rec.lines))
	}
	w.Flush()

	want := []string{"first", "second", "third"}
	if len(rec.lines) != len(want) {
		t.Fatalf("expected %d lines, got %d", len(want), len(rec.lines))
	}
	for i, line := range rec.lines {
		if line.Text != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], line.Text)
		}
		if line.DeploymentID != id || line.Origin != OriginService {
			t.Fatalf("line %d not tagged: %+v", i, line)
		}
	}
}

func TestNewLoggerRecordsStructuredLines(t *testing.T) {
	rec := &memoryRecorder{}
	log := NewLogger(rec, uuid.New(), OriginService)
	log.Info("listening", "addr", "127.0.0.1:8000")

	if len(rec.lines) != 1 {
		t.Fatalf("expected one line, got %d", len(rec.lines))
	}
	if !strings.Contains(rec.lines[0].Text, "msg=listening") || !strings.Contains(rec.lines[0].Text, "addr=127.0.0.1:8000") {
		t.Fatalf("unexpected line %q", rec.lines[0].Text)
	}
}

func TestTeeSkipsNil(t *testing.T) {
	a, b := &memoryRecorder{}, &memoryRecorder{}
	Tee(a, nil, b).Send(LogLine{Text: "x"})
	if len(a.lines) != 1 || len(b.lines) != 1 {
		t.Fatalf("expected both recorders to receive the line")
	}
}
