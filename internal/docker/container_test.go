package docker

import (
	"errors"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/go-connections/nat"
)

func TestHostAddressNormalisesWildcard(t *testing.T) {
	info := ContainerInfo{PortBinding: nat.PortMap{
		"5432/tcp": {{HostIP: "0.0.0.0", HostPort: "49153"}},
	}}
	host, port, err := info.HostAddress("5432/tcp")
	if err != nil {
		t.Fatalf("host address: %v", err)
	}
	if host != "127.0.0.1" || port != "49153" {
		t.Fatalf("expected 127.0.0.1:49153, got %s:%s", host, port)
	}
}

func TestHostAddressMissingPort(t *testing.T) {
	info := ContainerInfo{PortBinding: nat.PortMap{"6379/tcp": {{HostIP: "127.0.0.1"}}}}
	if _, _, err := info.HostAddress("6379/tcp"); !errors.Is(err, ErrNoHostPort) {
		t.Fatalf("expected ErrNoHostPort, got %v", err)
	}
	if _, _, err := info.HostAddress("5432/tcp"); !errors.Is(err, ErrNoHostPort) {
		t.Fatalf("expected ErrNoHostPort for unknown port, got %v", err)
	}
}

func TestHasHostPort(t *testing.T) {
	if hasHostPort(nil) {
		t.Fatalf("expected nil settings to have no host port")
	}
	settings := &types.NetworkSettings{}
	settings.Ports = nat.PortMap{"5432/tcp": {{HostPort: ""}}}
	if hasHostPort(settings) {
		t.Fatalf("expected empty binding to have no host port")
	}
	settings.Ports["5432/tcp"] = []nat.PortBinding{{HostPort: "5000"}}
	if !hasHostPort(settings) {
		t.Fatalf("expected binding with host port to be detected")
	}
}
