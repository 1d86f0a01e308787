package logs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type storeCall struct {
	deploymentID uuid.UUID
	lines        []LogLine
}

type scriptedSink struct {
	mu     sync.Mutex
	calls  []storeCall
	script []error
}

func (s *scriptedSink) StoreLogs(_ context.Context, id uuid.UUID, lines []LogLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{deploymentID: id, lines: append([]LogLine(nil), lines...)})
	idx := len(s.calls) - 1
	if idx < len(s.script) {
		return s.script[idx]
	}
	return nil
}

func testReceiver(sink Sink) (*SinkReceiver, *[]time.Duration) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	r := NewSinkReceiver(sink, logger)
	slept := &[]time.Duration{}
	r.sleep = func(_ context.Context, d time.Duration) { *slept = append(*slept, d) }
	return r, slept
}

func lines(id uuid.UUID, texts ...string) []LogLine {
	out := make([]LogLine, 0, len(texts))
	for _, text := range texts {
		out = append(out, LogLine{DeploymentID: id, Origin: OriginService, Timestamp: time.Now(), Text: text})
	}
	return out
}

func TestSinkReceiverRateLimitRecordsSingleWarning(t *testing.T) {
	id := uuid.New()
	limited := &RateLimitedError{WaitTime: 500 * time.Millisecond, Metadata: map[string]string{"x-ratelimit-limit": "6"}}
	sink := &scriptedSink{script: []error{nil, limited}}
	r, slept := testReceiver(sink)

	var observed []*RateLimitedError
	r.OnRateLimited = func(got uuid.UUID, err *RateLimitedError) {
		if got != id {
			t.Fatalf("expected observer to get deployment %s, got %s", id, got)
		}
		observed = append(observed, err)
	}

	r.Receive(context.Background(), lines(id, "one"))
	r.Receive(context.Background(), lines(id, "two", "three"))

	if len(sink.calls) != 3 {
		t.Fatalf("expected 3 sink calls (batch, limited batch, warning), got %d", len(sink.calls))
	}
	warning := sink.calls[2]
	if len(warning.lines) != 1 || warning.lines[0].Text != RateLimitWarning {
		t.Fatalf("expected a single warning line, got %+v", warning.lines)
	}
	if warning.deploymentID != id || warning.lines[0].DeploymentID != id {
		t.Fatalf("expected warning for deployment %s", id)
	}
	sentTwo := 0
	for _, call := range sink.calls {
		for _, line := range call.lines {
			if line.Text == "two" {
				sentTwo++
			}
		}
	}
	if sentTwo != 1 {
		t.Fatalf("expected the limited batch to be sent once, sent %d times", sentTwo)
	}
	if len(*slept) != 1 || (*slept)[0] != DefaultRateLimitCooldown {
		t.Fatalf("expected one cooldown of %s, got %v", DefaultRateLimitCooldown, *slept)
	}
	if len(observed) != 1 || observed[0].Metadata["x-ratelimit-limit"] != "6" {
		t.Fatalf("expected observer to receive metadata, got %+v", observed)
	}
}

func TestSinkReceiverWarningFailureIsNotRetried(t *testing.T) {
	id := uuid.New()
	sink := &scriptedSink{script: []error{&RateLimitedError{}, &RateLimitedError{}}}
	r, _ := testReceiver(sink)

	r.Receive(context.Background(), lines(id, "a"))

	if len(sink.calls) != 2 {
		t.Fatalf("expected batch and one warning attempt, got %d calls", len(sink.calls))
	}
}

func TestSinkReceiverDropsOnOtherErrors(t *testing.T) {
	id := uuid.New()
	sink := &scriptedSink{script: []error{errors.New("connection refused")}}
	r, slept := testReceiver(sink)

	r.Receive(context.Background(), lines(id, "a", "b"))

	if len(sink.calls) != 1 {
		t.Fatalf("expected the failed batch to be dropped, got %d calls", len(sink.calls))
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no cooldown for non rate limit errors")
	}
}

func TestSinkReceiverAttributesBatchToFirstLine(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	sink := &scriptedSink{}
	r, _ := testReceiver(sink)

	batch := append(lines(first, "a"), lines(second, "b")...)
	r.Receive(context.Background(), batch)

	if len(sink.calls) != 1 || sink.calls[0].deploymentID != first {
		t.Fatalf("expected batch tagged with first deployment %s, got %+v", first, sink.calls)
	}
	if len(sink.calls[0].lines) != 2 {
		t.Fatalf("expected both lines to be forwarded")
	}
}

func TestSinkReceiverIgnoresEmptyBatch(t *testing.T) {
	sink := &scriptedSink{}
	r, _ := testReceiver(sink)
	r.Receive(context.Background(), nil)
	if len(sink.calls) != 0 {
		t.Fatalf("expected no sink call for an empty batch")
	}
}

func TestBatcherWithSinkReceiverDoesNotBlockProducers(t *testing.T) {
	id := uuid.New()
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	r, _ := testReceiver(sink)
	b := NewBatcher[LogLine](r, 1, time.Hour)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Send(LogLine{DeploymentID: id, Text: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected producers not to block on a stalled sink")
	}
	close(block)
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) StoreLogs(ctx context.Context, _ uuid.UUID, _ []LogLine) error {
	<-s.release
	return nil
}

func TestRateLimitedErrorDetection(t *testing.T) {
	err := errors.Join(errors.New("wrapped"), &RateLimitedError{WaitTime: time.Second})
	if !IsRateLimited(err) {
		t.Fatalf("expected wrapped rate limit to be detected")
	}
	if IsRateLimited(errors.New("other")) {
		t.Fatalf("expected plain error not to be a rate limit")
	}
}
