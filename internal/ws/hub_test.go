package ws

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	got     [][]byte
	fail    bool
	closed  bool
	receive chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{receive: make(chan struct{}, 8)}
}

func (f *fakeSubscriber) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("gone")
	}
	f.got = append(f.got, p)
	f.receive <- struct{}{}
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestHubBroadcastsByKey(t *testing.T) {
	h := NewHub()
	defer h.Close()
	a, b := newFakeSubscriber(), newFakeSubscriber()
	h.Register("dep-a", a)
	h.Register("dep-b", b)

	h.Broadcast("dep-a", []byte("hello"))
	select {
	case <-a.receive:
	case <-time.After(time.Second):
		t.Fatalf("expected subscriber a to receive the payload")
	}
	if len(b.got) != 0 {
		t.Fatalf("expected subscriber b to receive nothing")
	}
	if h.Subscribers("dep-a") != 1 {
		t.Fatalf("expected one subscriber for dep-a")
	}
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()
	bad := newFakeSubscriber()
	bad.fail = true
	h.Register("dep", bad)
	h.Broadcast("dep", []byte("x"))
	h.Unregister("dep", newFakeSubscriber())

	if h.Subscribers("dep") != 0 {
		t.Fatalf("expected failing subscriber to be removed")
	}
	bad.mu.Lock()
	defer bad.mu.Unlock()
	if !bad.closed {
		t.Fatalf("expected failing subscriber to be closed")
	}
}

func TestSSEClientWritesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	client := PrepareSSE(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if client == nil {
		t.Fatalf("expected recorder to support flushing")
	}
	if err := client.SendEvent("stop", []byte(`{"reason":2}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	client.Close()
	if err := client.Send([]byte("late")); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after close, got %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: stop\ndata: {\"reason\":2}\n\n") {
		t.Fatalf("unexpected body %q", body)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
}
