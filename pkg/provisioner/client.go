package provisioner

import (
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

	"github.com/sony/gobreaker"
)

const (
	defaultClientTimeout = 30 * time.Second
	maxErrorBodySize     = 4096
	breakerThreshold     = 5
)

// StatusError is a non-success response from the provisioning service.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provisioner request failed with status %d", e.Status)
	}
	return fmt.Sprintf("provisioner request failed (%d): %s", e.Status, e.Message)
}

// Client talks to a remote provisioning service over HTTP. Repeated server
// failures open a circuit breaker that fails fast until the service recovers.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

var _ Provisioner = (*Client)(nil)

// NewClient constructs a client for the service at baseURL.
func NewClient(baseURL, token string, httpClient *http.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("provisioner base url required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid provisioner url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provisioner",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		IsSuccessful: func(err error) bool {
			var status *StatusError
			if errors.As(err, &status) {
				return status.Status < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &Client{baseURL: trimmed, token: strings.TrimSpace(token), http: httpClient, cb: cb}, nil
}

// ProvisionDatabase asks the service for a database.
func (c *Client) ProvisionDatabase(ctx context.Context, req DatabaseRequest) (DatabaseInfo, error) {
	var info DatabaseInfo
	if err := c.do(ctx, http.MethodPost, req, &info); err != nil {
		return DatabaseInfo{}, err
	}
	if info.Engine == "" {
		info.Engine = req.Engine
	}
	return info, nil
}

// DeleteDatabase asks the service to drop a database.
func (c *Client) DeleteDatabase(ctx context.Context, req DatabaseRequest) error {
	return c.do(ctx, http.MethodDelete, req, nil)
}

func (c *Client) do(ctx context.Context, method string, req DatabaseRequest, v any) error {
	if strings.TrimSpace(req.ProjectName) == "" {
		return ErrInvalidProject
	}
	if _, err := ParseEngine(string(req.Engine)); err != nil {
		return err
	}
	path := fmt.Sprintf("%s/projects/%s/databases/%s", c.baseURL, url.PathEscape(req.ProjectName), req.Engine)

	_, err := c.cb.Execute(func() (interface{}, error) {
		var body io.Reader
		if method == http.MethodPost {
			payload, err := json.Marshal(req)
			if err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			body = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, path, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			return nil, &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(buf))}
		}
		if v == nil {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
