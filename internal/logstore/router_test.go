package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/splax/peep-runtime/internal/ws"
	"github.com/splax/peep-runtime/pkg/jwt"
	"github.com/splax/peep-runtime/pkg/logs"
	logstore "github.com/splax/peep-runtime/pkg/logstore/client"
)

type memoryRepo struct {
	mu    sync.Mutex
	lines []logs.LogLine
	err   error
}

func (m *memoryRepo) AppendLogs(_ context.Context, lines []logs.LogLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.lines = append(m.lines, lines...)
	return nil
}

func (m *memoryRepo) ListLogs(_ context.Context, id uuid.UUID, limit int) ([]logs.LogLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []logs.LogLine
	for _, line := range m.lines {
		if line.DeploymentID == id {
			out = append(out, line)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memoryRepo) Ping(context.Context) error { return nil }

func (m *memoryRepo) stored() []logs.LogLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logs.LogLine(nil), m.lines...)
}

func newTestServer(t *testing.T, repo Repository, limiter RateLimiter, opts ...RouterOption) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	router := NewRouter(logger, NewService(repo, hub, logger), limiter, opts...)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func fixedLimiter(burst int) RateLimiter {
	now := time.Unix(1_700_000_000, 0)
	return newMemoryRateLimiter(500*time.Millisecond, burst, func() time.Time { return now })
}

func TestStoreLogsAttributesBatchToHeader(t *testing.T) {
	repo := &memoryRepo{}
	srv := newTestServer(t, repo, fixedLimiter(6))
	cli, err := logstore.New(srv.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	id := uuid.New()
	lines := []logs.LogLine{{DeploymentID: id, Text: "a"}, {DeploymentID: uuid.New(), Text: "b"}}
	if err := cli.StoreLogs(context.Background(), id, lines); err != nil {
		t.Fatalf("store logs: %v", err)
	}
	stored := repo.stored()
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored lines, got %d", len(stored))
	}
	for _, line := range stored {
		if line.DeploymentID != id {
			t.Fatalf("expected line attributed to %s, got %s", id, line.DeploymentID)
		}
		if line.Timestamp.IsZero() {
			t.Fatalf("expected missing timestamp to be filled")
		}
	}

	listed, err := cli.List(context.Background(), id, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Text != "b" {
		t.Fatalf("expected latest line, got %+v", listed)
	}
}

func TestStoreLogsRateLimitedAfterBurst(t *testing.T) {
	srv := newTestServer(t, &memoryRepo{}, fixedLimiter(6))
	cli, _ := logstore.New(srv.URL, "", nil)
	id := uuid.New()
	line := []logs.LogLine{{Text: "x"}}

	for i := 0; i < 6; i++ {
		if err := cli.StoreLogs(context.Background(), id, line); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	err := cli.StoreLogs(context.Background(), id, line)
	var limited *logs.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if limited.WaitTime != 500*time.Millisecond {
		t.Fatalf("expected 500ms wait, got %s", limited.WaitTime)
	}
	if limited.Metadata["x-ratelimit-limit"] != "6" || limited.Metadata["x-ratelimit-remaining"] != "0" {
		t.Fatalf("unexpected rate limit metadata %v", limited.Metadata)
	}
	if limited.Metadata["x-ratelimit-after"] != "500" {
		t.Fatalf("expected after header of 500, got %q", limited.Metadata["x-ratelimit-after"])
	}
}

func TestStoreLogsRequiresDeploymentHeader(t *testing.T) {
	srv := newTestServer(t, &memoryRepo{}, nil)
	resp, err := http.Post(srv.URL+"/logs", "application/json", strings.NewReader(`{"lines":[]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStoreLogsRepositoryFailure(t *testing.T) {
	srv := newTestServer(t, &memoryRepo{err: errors.New("disk full")}, nil)
	cli, _ := logstore.New(srv.URL, "", nil)
	err := cli.StoreLogs(context.Background(), uuid.New(), []logs.LogLine{{Text: "x"}})
	if !errors.Is(err, logstore.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if logs.IsRateLimited(err) {
		t.Fatalf("did not expect a rate limit")
	}
}

func TestStoreLogsJWT(t *testing.T) {
	const secret = "s3cret"
	srv := newTestServer(t, &memoryRepo{}, nil, WithJWTSecret(secret))
	id := uuid.New()
	line := []logs.LogLine{{Text: "x"}}

	anon, _ := logstore.New(srv.URL, "", nil)
	if err := anon.StoreLogs(context.Background(), id, line); !errors.Is(err, logstore.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without token, got %v", err)
	}

	otherToken, _ := jwt.GenerateToken(uuid.NewString(), jwt.ScopeLogsWrite, secret, time.Minute)
	other, _ := logstore.New(srv.URL, otherToken, nil)
	if err := other.StoreLogs(context.Background(), id, line); !errors.Is(err, logstore.ErrUnauthorized) {
		t.Fatalf("expected forbidden for another deployment's token, got %v", err)
	}

	readToken, _ := jwt.GenerateToken(id.String(), "logs:read", secret, time.Minute)
	reader, _ := logstore.New(srv.URL, readToken, nil)
	if err := reader.StoreLogs(context.Background(), id, line); !errors.Is(err, logstore.ErrUnauthorized) {
		t.Fatalf("expected forbidden without write scope, got %v", err)
	}
	if _, err := reader.List(context.Background(), id, 10); err != nil {
		t.Fatalf("expected read token to list logs, got %v", err)
	}

	token, _ := jwt.GenerateToken(id.String(), jwt.ScopeLogsWrite, secret, time.Minute)
	writer, _ := logstore.New(srv.URL, token, nil)
	if err := writer.StoreLogs(context.Background(), id, line); err != nil {
		t.Fatalf("expected valid token to store, got %v", err)
	}
}

func TestListRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, &memoryRepo{}, nil)
	for _, path := range []string{"/logs/not-a-uuid", "/logs/" + uuid.NewString() + "?limit=-1"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, resp.StatusCode)
		}
	}
}

func TestTailStreamsNewLines(t *testing.T) {
	srv := newTestServer(t, &memoryRepo{}, nil)
	id := uuid.New()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/logs/" + id.String() + "/tail"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cli, _ := logstore.New(srv.URL, "", nil)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := cli.StoreLogs(context.Background(), id, []logs.LogLine{{Text: "tailed"}}); err != nil {
			t.Fatalf("store: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, payload, err := conn.ReadMessage()
		if err == nil {
			var line logs.LogLine
			if err := json.Unmarshal(payload, &line); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if line.Text != "tailed" || line.DeploymentID != id {
				t.Fatalf("unexpected line %+v", line)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no line received: %v", err)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &memoryRepo{}, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
