// Package client is a typed client for a runtime's control server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splax/peep-runtime/pkg/logs"
	"github.com/splax/peep-runtime/pkg/runtime"
	"github.com/splax/peep-runtime/pkg/runtime/proto"
)

// ErrStreamClosed is returned when a stream ended before delivering its event.
var ErrStreamClosed = errors.New("client: stream closed")

// Client provides typed access to a runtime control server.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client used for unary calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
			c.streamClient = &http.Client{Transport: h.Transport}
		}
	}
}

// WithToken sends token as a bearer credential on every call.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided control address.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://127.0.0.1:6001"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid control base url: %w", err)
	}
	cli := &Client{
		baseURL:      strings.TrimRight(trimmed, "/"),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the control server.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control request failed with status %d", e.Status)
	}
	return fmt.Sprintf("control request failed (%d): %s", e.Status, e.Message)
}

// IsConflict reports whether err is a protocol misuse rejection.
func IsConflict(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// Load sends the load request.
func (c *Client) Load(ctx context.Context, req proto.LoadRequest) (proto.LoadResponse, error) {
	var resp proto.LoadResponse
	if err := c.do(ctx, http.MethodPost, "/load", req, &resp); err != nil {
		return proto.LoadResponse{}, err
	}
	return resp, nil
}

// Start sends the start request.
func (c *Client) Start(ctx context.Context, req proto.StartRequest) (proto.StartResponse, error) {
	var resp proto.StartResponse
	if err := c.do(ctx, http.MethodPost, "/start", req, &resp); err != nil {
		return proto.StartResponse{}, err
	}
	return resp, nil
}

// Stop asks the runtime to stop the service and waits for the acknowledgement.
func (c *Client) Stop(ctx context.Context) (proto.StopResponse, error) {
	var resp proto.StopResponse
	if err := c.do(ctx, http.MethodPost, "/stop", nil, &resp); err != nil {
		return proto.StopResponse{}, err
	}
	return resp, nil
}

// Status fetches the lifecycle snapshot.
func (c *Client) Status(ctx context.Context) (runtime.Status, error) {
	var resp runtime.Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return runtime.Status{}, err
	}
	return resp, nil
}

// WaitStop subscribes to the stop stream and returns the terminal status.
func (c *Client) WaitStop(ctx context.Context) (proto.SubscribeStopResponse, error) {
	var status proto.SubscribeStopResponse
	found := false
	err := c.stream(ctx, "/stop", func(data []byte) error {
		if err := json.Unmarshal(data, &status); err != nil {
			return fmt.Errorf("decode stop status: %w", err)
		}
		found = true
		return io.EOF
	})
	if err != nil {
		return proto.SubscribeStopResponse{}, err
	}
	if !found {
		return proto.SubscribeStopResponse{}, ErrStreamClosed
	}
	return status, nil
}

// Logs streams log lines to fn until the stream ends, ctx is done or fn
// returns an error. Returning io.EOF from fn ends the stream cleanly.
func (c *Client) Logs(ctx context.Context, fn func(logs.LogLine) error) error {
	return c.stream(ctx, "/logs", func(data []byte) error {
		var line logs.LogLine
		if err := json.Unmarshal(data, &line); err != nil {
			return fmt.Errorf("decode log line: %w", err)
		}
		return fn(line)
	})
}

func (c *Client) stream(ctx context.Context, path string, onData func([]byte) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if err := onData([]byte(data)); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return ctx.Err()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}
