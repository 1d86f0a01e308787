// Package client ships log batches to the log store service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/splax/peep-runtime/pkg/logs"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096

	// HeaderDeploymentID names the deployment a request acts for.
	HeaderDeploymentID = "X-Deployment-Id"
	// HeaderRateLimitLimit is the bucket size advertised by the store.
	HeaderRateLimitLimit = "X-RateLimit-Limit"
	// HeaderRateLimitRemaining is the number of requests left in the bucket.
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	// HeaderRateLimitAfter is the wait, in milliseconds, before the next request is accepted.
	HeaderRateLimitAfter = "X-RateLimit-After"
)

// ErrUnauthorized indicates the store rejected the credentials.
var ErrUnauthorized = errors.New("log store unauthorized")

// ErrInvalidArgument indicates the store rejected the payload.
var ErrInvalidArgument = errors.New("log store invalid argument")

// ErrNotFound indicates the store has nothing for the requested deployment.
var ErrNotFound = errors.New("log store deployment not found")

// ErrUnavailable indicates the store could not serve the request.
var ErrUnavailable = errors.New("log store unavailable")

// StoreRequest is the wire body of a batch upload.
type StoreRequest struct {
	Lines []logs.LogLine `json:"lines"`
}

// ListResponse is the wire body of a log listing.
type ListResponse struct {
	Lines []logs.LogLine `json:"lines"`
}

// Client talks to the log store over HTTP. It satisfies logs.Sink.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ logs.Sink = (*Client)(nil)

// New creates a log store client using the provided base URL and bearer token.
func New(baseURL, token string, client *http.Client) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errors.New("log store base url required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid log store url: %w", err)
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Client{
		baseURL: trimmed,
		token:   strings.TrimSpace(token),
		client:  client,
	}, nil
}

// StoreLogs uploads one batch attributed to deploymentID. A throttled upload
// returns a *logs.RateLimitedError.
func (c *Client) StoreLogs(ctx context.Context, deploymentID uuid.UUID, lines []logs.LogLine) error {
	if c == nil {
		return errors.New("log store client not initialised")
	}
	if deploymentID == uuid.Nil {
		return fmt.Errorf("%w: deployment id required", ErrInvalidArgument)
	}
	body, err := json.Marshal(StoreRequest{Lines: lines})
	if err != nil {
		return fmt.Errorf("marshal log batch: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/logs", deploymentID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send log batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
	return nil
}

// List returns up to limit of the most recent lines stored for deploymentID, oldest first.
func (c *Client) List(ctx context.Context, deploymentID uuid.UUID, limit int) ([]logs.LogLine, error) {
	if c == nil {
		return nil, errors.New("log store client not initialised")
	}
	path := "/logs/" + deploymentID.String()
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, deploymentID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errorForStatus(resp)
	}
	var out ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode log listing: %w", err)
	}
	return out.Lines, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, deploymentID uuid.UUID, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build log store request: %w", err)
	}
	req.Header.Set(HeaderDeploymentID, deploymentID.String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func errorForStatus(resp *http.Response) error {
	limited := io.LimitReader(resp.Body, maxErrorBodySize)
	buf, _ := io.ReadAll(limited)
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get(HeaderRateLimitLimit) != "":
		return rateLimited(resp.Header)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrUnavailable, summary)
	default:
		return fmt.Errorf("log store request failed: %s", summary)
	}
}

func rateLimited(h http.Header) *logs.RateLimitedError {
	out := &logs.RateLimitedError{Metadata: make(map[string]string)}
	for key, values := range h {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "x-ratelimit-") && len(values) > 0 {
			out.Metadata[lower] = values[0]
		}
	}
	if ms, err := strconv.ParseInt(h.Get(HeaderRateLimitAfter), 10, 64); err == nil && ms >= 0 {
		out.WaitTime = time.Duration(ms) * time.Millisecond
	} else if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs >= 0 {
		out.WaitTime = time.Duration(secs) * time.Second
	}
	return out
}
