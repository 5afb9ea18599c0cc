package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/zhubert/drydock/logger"
)

// DockerEngine implements Engine against a real Docker daemon.
type DockerEngine struct {
	api *client.Client
}

// NewDockerEngine connects to the Docker daemon using the standard
// environment configuration (DOCKER_HOST etc.) and verifies the connection.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	return &DockerEngine{api: cli}, nil
}

// Close releases the underlying API client.
func (e *DockerEngine) Close() error {
	if e == nil || e.api == nil {
		return nil
	}
	return e.api.Close()
}

// ResolveContainer resolves a name or ID prefix to the full ID of a running container.
func (e *DockerEngine) ResolveContainer(ctx context.Context, nameOrID string) (string, error) {
	nameOrID = strings.TrimSpace(nameOrID)
	if nameOrID == "" {
		return "", errors.New("container name or id required")
	}

	// Exact ID or name first
	if info, err := e.api.ContainerInspect(ctx, nameOrID); err == nil {
		if info.State == nil || !info.State.Running {
			return "", fmt.Errorf("%w: %s is not running", ErrContainerNotFound, nameOrID)
		}
		return info.ID, nil
	} else if !client.IsErrNotFound(err) {
		return "", err
	}

	// Fall back to a running-container name filter
	args := filters.NewArgs(filters.Arg("name", nameOrID))
	list, err := e.api.ContainerList(ctx, container.ListOptions{Filters: args})
	if err != nil {
		return "", err
	}
	for _, item := range list {
		if strings.HasPrefix(item.ID, nameOrID) {
			return item.ID, nil
		}
		for _, name := range item.Names {
			if strings.TrimPrefix(name, "/") == nameOrID {
				return item.ID, nil
			}
		}
	}
	if len(list) == 1 {
		return list[0].ID, nil
	}

	return "", fmt.Errorf("%w: %s", ErrContainerNotFound, nameOrID)
}

// CreateInteractiveExec starts a TTY-backed interactive process in the container.
func (e *DockerEngine) CreateInteractiveExec(ctx context.Context, containerID string, opts InteractiveOptions) (ExecChannel, error) {
	if len(opts.Cmd) == 0 {
		return nil, errors.New("command required")
	}

	execResp, err := e.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		Cmd:          opts.Cmd,
		WorkingDir:   opts.WorkDir,
		User:         opts.User,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create failed: %w", err)
	}

	if opts.Cols > 0 && opts.Rows > 0 {
		// Best effort; the TTY may not exist until the attach lands
		_ = e.api.ContainerExecResize(ctx, execResp.ID, container.ResizeOptions{Height: opts.Rows, Width: opts.Cols})
	}

	attach, err := e.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("exec attach failed: %w", err)
	}

	logger.WithContainer(containerID).Debug("interactive exec attached", "execID", execResp.ID, "cmd", strings.Join(opts.Cmd, " "))

	return &dockerExecChannel{api: e.api, execID: execResp.ID, attach: attach}, nil
}

// dockerExecChannel adapts a hijacked exec connection to ExecChannel.
type dockerExecChannel struct {
	api    *client.Client
	execID string
	attach types.HijackedResponse
}

func (c *dockerExecChannel) Read(p []byte) (int, error) {
	return c.attach.Reader.Read(p)
}

func (c *dockerExecChannel) Write(p []byte) (int, error) {
	return c.attach.Conn.Write(p)
}

func (c *dockerExecChannel) Close() error {
	c.attach.Close()
	return nil
}

func (c *dockerExecChannel) Resize(ctx context.Context, cols, rows uint) error {
	return c.api.ContainerExecResize(ctx, c.execID, container.ResizeOptions{Height: rows, Width: cols})
}

// RunExec runs a command to completion inside the container.
func (e *DockerEngine) RunExec(ctx context.Context, containerID string, cmd []string, opts RunOptions) (*RunResult, error) {
	if len(cmd) == 0 {
		return nil, errors.New("command required")
	}

	execResp, err := e.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		WorkingDir:   opts.WorkDir,
		User:         opts.User,
		Privileged:   opts.Privileged,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create failed: %w", err)
	}

	attach, err := e.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("exec attach failed: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("exec read failed: %w", err)
	}

	inspect, err := e.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect failed: %w", err)
	}

	return &RunResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// CopyFrom returns a tar archive stream of the given container path.
func (e *DockerEngine) CopyFrom(ctx context.Context, containerID, path string) (io.ReadCloser, error) {
	reader, _, err := e.api.CopyFromContainer(ctx, containerID, path)
	if err != nil {
		return nil, fmt.Errorf("copy from container failed: %w", err)
	}
	return reader, nil
}

// CopyTo extracts a tar archive stream into the given container directory.
func (e *DockerEngine) CopyTo(ctx context.Context, containerID, destDir string, archive io.Reader) error {
	err := e.api.CopyToContainer(ctx, containerID, destDir, archive, types.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("copy to container failed: %w", err)
	}
	return nil
}

var _ Engine = (*DockerEngine)(nil)
