// Package docker runs the database containers the local provisioner hands to
// services: image pulls, container reuse by name and host port discovery.
package docker

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/client"
)

var errNoDaemon = errors.New("docker: no daemon connection")

// Client talks to the docker daemon that hosts provisioned containers.
type Client struct {
	inner *client.Client
}

// New connects to the daemon at host, or to the one named by DOCKER_HOST and
// friends when host is empty. The API version is negotiated on first use.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("connect docker daemon: %w", err)
	}
	return &Client{inner: inner}, nil
}

// Ping checks that the daemon answers and reports an API version.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return errNoDaemon
	}
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return errors.New("docker ping: daemon reported no API version")
	}
	return nil
}

// Close releases the daemon connection.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
