package docker

import "errors"

// ErrNotFound indicates the requested Docker resource was not found.
var ErrNotFound = errors.New("docker: resource not found")

// ErrNoHostPort indicates a container never published the requested port.
var ErrNoHostPort = errors.New("docker: container has no host port")
