package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// LabelManaged marks containers owned by the provisioner.
const LabelManaged = "dev.peep.runtime.managed"

// ContainerSpec describes a long-lived resource container.
type ContainerSpec struct {
	Name   string
	Image  string
	Cmd    []string
	Env    []string
	Port   nat.Port
	Volume string
	Target string
	Labels map[string]string
}

// ContainerInfo captures minimal runtime details about a started container.
type ContainerInfo struct {
	ID          string
	PortBinding nat.PortMap
	Labels      map[string]string
}

// HostAddress returns the loopback-reachable host and port published for port.
func (i ContainerInfo) HostAddress(port nat.Port) (string, string, error) {
	bindings := i.PortBinding[port]
	for _, binding := range bindings {
		if strings.TrimSpace(binding.HostPort) == "" {
			continue
		}
		host := binding.HostIP
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		return host, binding.HostPort, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNoHostPort, port)
}

// EnsureImage pulls ref unless it is already present.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("image name cannot be empty")
	}
	if _, _, err := c.inner.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image: %w", err)
	}
	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

// FindContainer looks a container up by exact name.
func (c *Client) FindContainer(ctx context.Context, name string) (types.Container, error) {
	list, err := c.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return types.Container{}, fmt.Errorf("list containers: %w", err)
	}
	for _, item := range list {
		for _, n := range item.Names {
			if strings.TrimPrefix(n, "/") == name {
				return item, nil
			}
		}
	}
	return types.Container{}, ErrNotFound
}

// EnsureContainer starts the container described by spec, reusing an
// existing container of the same name.
func (c *Client) EnsureContainer(ctx context.Context, spec ContainerSpec) (ContainerInfo, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return ContainerInfo{}, fmt.Errorf("container name cannot be empty")
	}
	existing, err := c.FindContainer(ctx, spec.Name)
	switch {
	case err == nil:
		if existing.State != "running" {
			if err := c.inner.ContainerStart(ctx, existing.ID, container.StartOptions{}); err != nil {
				return ContainerInfo{}, fmt.Errorf("container start: %w", err)
			}
		}
		return c.waitForPorts(ctx, existing.ID)
	case err != ErrNotFound:
		return ContainerInfo{}, err
	}

	if err := c.EnsureImage(ctx, spec.Image); err != nil {
		return ContainerInfo{}, err
	}
	ports := nat.PortMap{}
	if spec.Port != "" {
		ports[spec.Port] = []nat.PortBinding{{HostIP: "127.0.0.1"}}
	}
	return c.RunContainer(ctx, spec, ports)
}

// RunContainer creates and starts a container exposing the provided port mappings.
func (c *Client) RunContainer(ctx context.Context, spec ContainerSpec, ports nat.PortMap) (ContainerInfo, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return ContainerInfo{}, fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return ContainerInfo{}, fmt.Errorf("image name cannot be empty")
	}

	labels := map[string]string{LabelManaged: "true"}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		Labels:       labels,
		ExposedPorts: map[nat.Port]struct{}{},
	}
	for p := range ports {
		config.ExposedPorts[p] = struct{}{}
	}

	hostCfg := &container.HostConfig{
		PortBindings: ports,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}
	if spec.Volume != "" && spec.Target != "" {
		hostCfg.Mounts = []mount.Mount{{Type: mount.TypeVolume, Source: spec.Volume, Target: spec.Target}}
	}

	r, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("container create: %w", err)
	}
	if err := c.inner.ContainerStart(ctx, r.ID, container.StartOptions{}); err != nil {
		return ContainerInfo{}, fmt.Errorf("container start: %w", err)
	}
	return c.waitForPorts(ctx, r.ID)
}

func (c *Client) waitForPorts(ctx context.Context, id string) (ContainerInfo, error) {
	var (
		inspect types.ContainerJSON
		err     error
	)
	for attempt := 0; attempt < 10; attempt++ {
		inspect, err = c.inner.ContainerInspect(ctx, id)
		if err != nil {
			return ContainerInfo{}, fmt.Errorf("container inspect: %w", err)
		}
		if hasHostPort(inspect.NetworkSettings) {
			break
		}
		if attempt == 9 {
			break
		}
		select {
		case <-ctx.Done():
			return ContainerInfo{}, fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}

	portsBinding := nat.PortMap{}
	if inspect.NetworkSettings != nil && inspect.NetworkSettings.Ports != nil {
		portsBinding = inspect.NetworkSettings.Ports
	}
	info := ContainerInfo{ID: id, PortBinding: portsBinding}
	if inspect.Config != nil {
		info.Labels = inspect.Config.Labels
	}
	return info, nil
}

// RemoveContainer removes an existing container if it exists.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func hasHostPort(settings *types.NetworkSettings) bool {
	if settings == nil || settings.Ports == nil {
		return false
	}
	for _, bindings := range settings.Ports {
		for _, binding := range bindings {
			if strings.TrimSpace(binding.HostPort) != "" {
				return true
			}
		}
	}
	return false
}
