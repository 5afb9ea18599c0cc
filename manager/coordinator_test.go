package manager

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zhubert/drydock/config"
	"github.com/zhubert/drydock/engine"
	"github.com/zhubert/drydock/git"
	"github.com/zhubert/drydock/shadow"
)

var ctx = context.Background()

// fakeChannel is a pipe-backed exec channel.
type fakeChannel struct {
	reader *io.PipeReader
	feed   *io.PipeWriter

	mu     sync.Mutex
	inputs bytes.Buffer
	closed bool
}

func newFakeChannel() *fakeChannel {
	r, w := io.Pipe()
	return &fakeChannel{reader: r, feed: w}
}

func (c *fakeChannel) Read(p []byte) (int, error) { return c.reader.Read(p) }

func (c *fakeChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs.Write(p)
}

func (c *fakeChannel) Resize(_ context.Context, _, _ uint) error { return nil }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.feed.Close()
	return c.reader.Close()
}

// fakeEngine resolves any prefix of its known ID, hands out pipe channels,
// and fails one-off execs so syncs take the tar path.
type fakeEngine struct {
	knownID string

	mu       sync.Mutex
	channels map[string]*fakeChannel
}

func newFakeEngine(knownID string) *fakeEngine {
	return &fakeEngine{knownID: knownID, channels: make(map[string]*fakeChannel)}
}

func (e *fakeEngine) ResolveContainer(_ context.Context, nameOrID string) (string, error) {
	if nameOrID != e.knownID && !isPrefix(nameOrID, e.knownID) {
		return "", engine.ErrContainerNotFound
	}
	return e.knownID, nil
}

func isPrefix(p, full string) bool {
	return len(p) > 0 && len(p) <= len(full) && full[:len(p)] == p
}

func (e *fakeEngine) CreateInteractiveExec(_ context.Context, containerID string, _ engine.InteractiveOptions) (engine.ExecChannel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := newFakeChannel()
	e.channels[containerID] = ch
	return ch, nil
}

func (e *fakeEngine) RunExec(_ context.Context, _ string, _ []string, _ engine.RunOptions) (*engine.RunResult, error) {
	return &engine.RunResult{ExitCode: 1}, nil
}

func (e *fakeEngine) CopyFrom(_ context.Context, _, _ string) (io.ReadCloser, error) {
	return nil, errors.New("no archive available")
}

func (e *fakeEngine) CopyTo(_ context.Context, _, _ string, _ io.Reader) error {
	return errors.New("not implemented")
}

func (e *fakeEngine) channel(containerID string) *fakeChannel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channels[containerID]
}

// nullViewer discards everything.
type nullViewer struct{ id string }

func (v *nullViewer) ID() string          { return v.id }
func (v *nullViewer) Output([]byte)       {}
func (v *nullViewer) SessionEnded(string) {}

func createSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# src\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "Initial commit")
	return dir
}

func newTestCoordinator(t *testing.T, eng engine.Engine) *Coordinator {
	t.Helper()
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	cfg.SourceRepo = createSourceRepo(t)
	cfg.ShadowBaseDir = filepath.Join(t.TempDir(), "shadows")
	cfg.SyncInterval = time.Hour // keep the periodic timer out of the way

	c, err := New(cfg, eng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

const testContainerID = "0123456789abcdef0123456789abcdef"

func TestAttachViewerResolvesAndInitializesShadow(t *testing.T) {
	eng := newFakeEngine(testContainerID)
	c := newTestCoordinator(t, eng)
	defer c.Shutdown(ctx)

	// Attach by ID prefix, the way docker CLIs do.
	res, err := c.AttachViewer(ctx, "0123456789ab", &nullViewer{id: "v1"}, 80, 24)
	if err != nil {
		t.Fatalf("AttachViewer: %v", err)
	}
	if res.ContainerID != testContainerID {
		t.Errorf("ContainerID = %q, want full ID", res.ContainerID)
	}
	if !res.IsNew {
		t.Error("first attach should create the session")
	}

	sh, ok := c.shadows.Get(testContainerID)
	if !ok {
		// Shadow creation is async with the attach.
		waitFor(t, "shadow tracking", func() bool {
			sh, ok = c.shadows.Get(testContainerID)
			return ok
		})
	}
	waitFor(t, "shadow initialization", func() bool {
		_, err := sh.Changes(ctx)
		return err == nil
	})

	branch, err := git.NewService().GetCurrentBranch(ctx, sh.Path())
	if err != nil {
		t.Fatalf("GetCurrentBranch: %v", err)
	}
	if branch != "drydock/0123456789ab" {
		t.Errorf("shadow branch = %q, want drydock/0123456789ab", branch)
	}
}

func TestAttachViewerUnknownContainer(t *testing.T) {
	eng := newFakeEngine(testContainerID)
	c := newTestCoordinator(t, eng)
	defer c.Shutdown(ctx)

	_, err := c.AttachViewer(ctx, "no-such-container", &nullViewer{id: "v1"}, 80, 24)
	if !errors.Is(err, engine.ErrContainerNotFound) {
		t.Errorf("expected ErrContainerNotFound, got %v", err)
	}
}

func TestSessionEndRemovesShadow(t *testing.T) {
	eng := newFakeEngine(testContainerID)
	c := newTestCoordinator(t, eng)
	defer c.Shutdown(ctx)

	if _, err := c.AttachViewer(ctx, testContainerID, &nullViewer{id: "v1"}, 80, 24); err != nil {
		t.Fatalf("AttachViewer: %v", err)
	}

	var sh *shadow.Shadow
	waitFor(t, "shadow initialization", func() bool {
		s, ok := c.shadows.Get(testContainerID)
		if !ok {
			return false
		}
		sh = s
		_, err := s.Changes(ctx)
		return err == nil
	})

	// Simulate the container process exiting.
	eng.channel(testContainerID).feed.CloseWithError(errors.New("process exited"))

	waitFor(t, "shadow removal", func() bool {
		_, ok := c.shadows.Get(testContainerID)
		return !ok
	})
	waitFor(t, "shadow directory removal", func() bool {
		_, err := os.Stat(sh.Path())
		return os.IsNotExist(err)
	})
}

func TestForwardInputReachesProcess(t *testing.T) {
	eng := newFakeEngine(testContainerID)
	c := newTestCoordinator(t, eng)
	defer c.Shutdown(ctx)

	if _, err := c.AttachViewer(ctx, testContainerID, &nullViewer{id: "v1"}, 80, 24); err != nil {
		t.Fatalf("AttachViewer: %v", err)
	}

	c.ForwardInput("v1", []byte("make test\r"))

	ch := eng.channel(testContainerID)
	ch.mu.Lock()
	got := ch.inputs.String()
	ch.mu.Unlock()
	if got != "make test\r" {
		t.Errorf("forwarded input = %q", got)
	}
}

func TestShutdownRemovesShadows(t *testing.T) {
	eng := newFakeEngine(testContainerID)
	c := newTestCoordinator(t, eng)

	if _, err := c.AttachViewer(ctx, testContainerID, &nullViewer{id: "v1"}, 80, 24); err != nil {
		t.Fatalf("AttachViewer: %v", err)
	}

	var shadowPath string
	waitFor(t, "shadow initialization", func() bool {
		sh, ok := c.shadows.Get(testContainerID)
		if !ok {
			return false
		}
		shadowPath = sh.Path()
		_, err := sh.Changes(ctx)
		return err == nil
	})

	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := os.Stat(shadowPath); !os.IsNotExist(err) {
		t.Error("shadow directory should be removed on shutdown")
	}
}

func TestCommitWithoutShadowSurfacesError(t *testing.T) {
	eng := newFakeEngine(testContainerID)
	c := newTestCoordinator(t, eng)
	defer c.Shutdown(ctx)

	err := c.Commit(ctx, "untracked-container", "a message")
	if !errors.Is(err, shadow.ErrShadowNotFound) {
		t.Errorf("expected ErrShadowNotFound, got %v", err)
	}
}
