package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/zhubert/drydock/logger"
)

// workspaceLabel marks containers launched by drydock so `clean` can find them.
const workspaceLabel = "dev.drydock.workspace"

// WorkspaceSpec describes a workspace container to launch for an agent.
type WorkspaceSpec struct {
	Name        string
	Image       string
	WorkDir     string
	Env         []string
	PublishPort int // container port to publish on an ephemeral host port; 0 = none
}

// CreateWorkspace creates and starts a workspace container. The container
// runs a keep-alive command so the interactive exec has somewhere to live.
func (e *DockerEngine) CreateWorkspace(ctx context.Context, spec WorkspaceSpec) (string, error) {
	if strings.TrimSpace(spec.Image) == "" {
		return "", errors.New("workspace image required")
	}

	cfg := &container.Config{
		Image:      spec.Image,
		WorkingDir: spec.WorkDir,
		Env:        spec.Env,
		Cmd:        []string{"sleep", "infinity"},
		Labels:     map[string]string{workspaceLabel: "true"},
	}

	hostCfg := &container.HostConfig{}
	if spec.PublishPort > 0 {
		port, err := nat.NewPort("tcp", fmt.Sprintf("%d", spec.PublishPort))
		if err != nil {
			return "", fmt.Errorf("invalid publish port: %w", err)
		}
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1"}}, // ephemeral host port
		}
	}

	resp, err := e.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("container create failed: %w", err)
	}

	if err := e.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start failed: %w", err)
	}

	logger.WithContainer(resp.ID).Info("workspace container started", "image", spec.Image, "name", spec.Name)
	return resp.ID, nil
}

// StopContainer stops a container, waiting up to the engine default timeout.
func (e *DockerEngine) StopContainer(ctx context.Context, containerID string) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	return e.api.ContainerStop(ctx, containerID, container.StopOptions{})
}

// RemoveContainer force-removes a container and its anonymous volumes.
func (e *DockerEngine) RemoveContainer(ctx context.Context, containerID string) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	return e.api.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
}

// PublishedPort returns the host port bound to the given container port,
// or an error if nothing is published.
func (e *DockerEngine) PublishedPort(ctx context.Context, containerID string, containerPort int) (string, error) {
	info, err := e.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", err
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", containerID)
	}
	key := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
	bindings, ok := info.NetworkSettings.Ports[key]
	if !ok || len(bindings) == 0 {
		return "", fmt.Errorf("no host port bound for %s", key)
	}
	for _, binding := range bindings {
		if strings.TrimSpace(binding.HostPort) != "" {
			return binding.HostPort, nil
		}
	}
	return "", fmt.Errorf("no host port bound for %s", key)
}
