// Package manager wires Drydock's pieces together: one coordinator owns the
// session registry, the shadow repositories, the sync scheduler, and the
// publish workflow, and exposes the operations the server layer needs.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zhubert/drydock/config"
	"github.com/zhubert/drydock/engine"
	"github.com/zhubert/drydock/git"
	"github.com/zhubert/drydock/logger"
	"github.com/zhubert/drydock/publish"
	"github.com/zhubert/drydock/session"
	"github.com/zhubert/drydock/shadow"
	"github.com/zhubert/drydock/syncer"
)

// Coordinator owns all per-container state. There are no package-level
// singletons; everything hangs off this one object so tests can build
// isolated instances.
type Coordinator struct {
	cfg        *config.Config
	engine     engine.Engine
	registry   *session.Registry
	shadows    *shadow.Manager
	scheduler  *syncer.Scheduler
	publisher  *publish.Publisher
	sourceRepo string

	mu           sync.Mutex
	notifier     syncer.Notifier
	shuttingDown bool
}

// New builds a coordinator from config and a container engine.
func New(cfg *config.Config, eng engine.Engine) (*Coordinator, error) {
	shadowDir, err := cfg.ShadowDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve shadow directory: %w", err)
	}

	sourceRepo := cfg.SourceRepo
	if sourceRepo == "" {
		sourceRepo, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source repository: %w", err)
		}
	}

	gitSvc := git.NewService()
	shadows := shadow.NewManager(shadowDir, eng, gitSvc, cfg.ExtraExcludes)

	c := &Coordinator{
		cfg:        cfg,
		engine:     eng,
		shadows:    shadows,
		publisher:  publish.NewPublisher(shadows, gitSvc),
		sourceRepo: sourceRepo,
	}

	c.registry = session.NewRegistry(eng, session.Options{
		Cmd:          strings.Fields(cfg.ShellCommand),
		WorkDir:      cfg.ContainerWorkdir,
		User:         cfg.ContainerUser,
		HistoryLimit: cfg.HistoryLimit,
	})
	c.registry.SetOnSessionEnd(c.handleSessionEnd)

	// The coordinator relays sync outcomes to whoever registered interest,
	// so the scheduler can be built before the server exists.
	c.scheduler = syncer.NewScheduler(shadows, cfg.ContainerWorkdir, cfg.SyncInterval, c)

	return c, nil
}

// SetNotifier registers the receiver for sync outcomes, typically the
// WebSocket server. Safe to call before any sync runs.
func (c *Coordinator) SetNotifier(n syncer.Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = n
}

// SyncComplete implements syncer.Notifier by forwarding to the registered
// notifier.
func (c *Coordinator) SyncComplete(containerID, shadowPath string, cs *git.ChangeSet) {
	c.mu.Lock()
	n := c.notifier
	c.mu.Unlock()
	if n != nil {
		n.SyncComplete(containerID, shadowPath, cs)
	}
}

// SyncFailed implements syncer.Notifier by forwarding to the registered
// notifier.
func (c *Coordinator) SyncFailed(containerID string, err error) {
	c.mu.Lock()
	n := c.notifier
	c.mu.Unlock()
	if n != nil {
		n.SyncFailed(containerID, err)
	}
}

// AttachViewer resolves the container reference and joins the viewer to its
// session. The first attach for a container also initializes its shadow
// repository and starts the periodic sync watch, off the attach path.
func (c *Coordinator) AttachViewer(ctx context.Context, nameOrID string, v session.Viewer, cols, rows uint) (*session.AttachResult, error) {
	containerID, err := c.engine.ResolveContainer(ctx, nameOrID)
	if err != nil {
		return nil, err
	}

	res, err := c.registry.Attach(ctx, containerID, v, cols, rows)
	if err != nil {
		return nil, err
	}

	if res.IsNew {
		go c.startTracking(containerID)
	}
	return res, nil
}

// startTracking initializes the container's shadow and begins periodic
// syncs. Initialization failure kills sync capability for the container and
// is surfaced through the sync-failure channel, not swallowed.
func (c *Coordinator) startTracking(containerID string) {
	ctx := context.Background()
	sh := c.shadows.GetOrCreate(containerID)

	if _, err := sh.Changes(ctx); errors.Is(err, shadow.ErrShadowNotFound) {
		branch := c.cfg.BranchPrefix + shortBranchID(containerID)
		if err := sh.Initialize(ctx, c.sourceRepo, branch); err != nil {
			logger.WithContainer(containerID).Error("shadow initialization failed", "error", err)
			c.SyncFailed(containerID, err)
			return
		}
	}

	c.scheduler.Watch(containerID)
}

func shortBranchID(containerID string) string {
	if len(containerID) > 12 {
		return containerID[:12]
	}
	return containerID
}

// DetachViewer removes a viewer from its session without touching the
// underlying process.
func (c *Coordinator) DetachViewer(viewerID string) {
	c.registry.Detach(viewerID)
}

// ForwardInput passes viewer keystrokes through to the container process.
func (c *Coordinator) ForwardInput(viewerID string, p []byte) {
	c.registry.ForwardInput(viewerID, p)
}

// ResizeTerminal forwards a viewer's terminal resize.
func (c *Coordinator) ResizeTerminal(ctx context.Context, viewerID string, cols, rows uint) {
	c.registry.Resize(ctx, viewerID, cols, rows)
}

// ViewersOf returns the viewers attached to a container's session.
func (c *Coordinator) ViewersOf(containerID string) []session.Viewer {
	return c.registry.ViewersOf(containerID)
}

// TriggerSync requests an immediate sync for the container. Dropped when one
// is already running.
func (c *Coordinator) TriggerSync(ctx context.Context, containerID string) {
	c.scheduler.Trigger(ctx, containerID)
}

// Commit commits the container's shadow changes with the given message.
func (c *Coordinator) Commit(ctx context.Context, containerID, message string) error {
	return c.publisher.Commit(ctx, containerID, message)
}

// Push publishes the container's shadow commits to origin on the named
// branch.
func (c *Coordinator) Push(ctx context.Context, containerID, branch string) error {
	return c.publisher.Push(ctx, containerID, branch)
}

// PurgeShadows deletes every shadow repository, tracked or stray.
func (c *Coordinator) PurgeShadows() error {
	return c.shadows.RemoveAll()
}

// handleSessionEnd tears down per-container state when the container's
// process exits. During coordinator shutdown the phased teardown owns this
// instead.
func (c *Coordinator) handleSessionEnd(containerID string) {
	c.mu.Lock()
	skip := c.shuttingDown
	c.mu.Unlock()
	if skip {
		return
	}

	c.scheduler.Unwatch(containerID)
	if err := c.shadows.Remove(containerID); err != nil {
		logger.WithContainer(containerID).Warn("shadow removal failed", "error", err)
	}
}

// Shutdown tears everything down in dependency order: terminal streams
// first, then sync timers, then the shadow repositories. Shadow removal runs
// in parallel across containers.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shuttingDown = true
	c.mu.Unlock()

	log := logger.WithComponent("manager")
	log.Info("shutting down")

	c.registry.Shutdown()
	c.scheduler.Stop()

	g, _ := errgroup.WithContext(ctx)
	for _, sh := range c.shadows.Shadows() {
		containerID := sh.ContainerID()
		g.Go(func() error {
			return c.shadows.Remove(containerID)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shadow cleanup failed: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}
