// Package engine is Drydock's boundary with the container engine. It wraps
// the Docker API client behind a narrow interface so session and shadow code
// can be tested against fakes.
package engine

import (
	"context"
	"errors"
	"io"
)

// ErrContainerNotFound is returned when an attach or exec target does not
// name a live container known to the engine.
var ErrContainerNotFound = errors.New("container not found")

// InteractiveOptions configures a TTY-backed interactive exec channel.
type InteractiveOptions struct {
	Cmd     []string
	WorkDir string
	User    string
	Cols    uint
	Rows    uint
}

// RunOptions configures a one-off exec inside a container.
type RunOptions struct {
	WorkDir    string
	User       string
	Privileged bool
}

// RunResult carries the output of a completed one-off exec. A non-zero
// ExitCode is not an error at this layer; callers decide what it means.
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExecChannel is a live bidirectional byte stream to an interactive process
// inside a container. Reads return the process's combined output; writes go
// to its stdin. Close tears the exec connection down.
type ExecChannel interface {
	io.Reader
	io.Writer
	io.Closer

	// Resize adjusts the remote TTY dimensions. Failures are expected to be
	// transient (the process may not have a TTY yet) and non-fatal.
	Resize(ctx context.Context, cols, rows uint) error
}

// Engine is the container-engine surface Drydock depends on.
type Engine interface {
	// ResolveContainer resolves a name or ID prefix to the full ID of a
	// running container. Returns ErrContainerNotFound when nothing matches.
	ResolveContainer(ctx context.Context, nameOrID string) (string, error)

	// CreateInteractiveExec starts a TTY-backed interactive process in the
	// container and returns its byte stream.
	CreateInteractiveExec(ctx context.Context, containerID string, opts InteractiveOptions) (ExecChannel, error)

	// RunExec runs a command to completion inside the container and returns
	// its output and exit code.
	RunExec(ctx context.Context, containerID string, cmd []string, opts RunOptions) (*RunResult, error)

	// CopyFrom returns a tar archive stream of the given container path.
	CopyFrom(ctx context.Context, containerID, path string) (io.ReadCloser, error)

	// CopyTo extracts a tar archive stream into the given container directory.
	CopyTo(ctx context.Context, containerID, destDir string, archive io.Reader) error
}
