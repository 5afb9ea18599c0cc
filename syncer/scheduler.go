package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zhubert/drydock/git"
	"github.com/zhubert/drydock/logger"
	"github.com/zhubert/drydock/shadow"
)

// Notifier receives sync outcomes. Failures are always reported; the caller
// decides how to surface them to viewers.
type Notifier interface {
	SyncComplete(containerID, shadowPath string, cs *git.ChangeSet)
	SyncFailed(containerID string, err error)
}

// Scheduler drives periodic syncs for watched containers and accepts
// on-demand triggers. Interval ticks and triggers funnel into the same
// single-flight path: a request arriving while the container's sync is
// running is dropped, not queued. The next tick picks the work up anyway.
type Scheduler struct {
	shadows  *shadow.Manager
	workdir  string
	interval time.Duration
	notifier Notifier
	state    *State

	mu      sync.Mutex
	watches map[string]chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler syncing workdir out of each watched
// container every interval.
func NewScheduler(shadows *shadow.Manager, workdir string, interval time.Duration, notifier Notifier) *Scheduler {
	return &Scheduler{
		shadows:  shadows,
		workdir:  workdir,
		interval: interval,
		notifier: notifier,
		state:    NewState(),
		watches:  make(map[string]chan struct{}),
	}
}

// Watch starts the periodic sync loop for a container. Watching an already
// watched container is a no-op.
func (s *Scheduler) Watch(containerID string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if _, ok := s.watches[containerID]; ok {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.watches[containerID] = stop
	s.mu.Unlock()

	logger.WithContainer(containerID).Info("sync watch started", "interval", s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.runOnce(context.Background(), containerID)
			}
		}
	}()
}

// Unwatch stops the container's periodic sync loop.
func (s *Scheduler) Unwatch(containerID string) {
	s.mu.Lock()
	stop, ok := s.watches[containerID]
	if ok {
		delete(s.watches, containerID)
	}
	s.mu.Unlock()

	if ok {
		close(stop)
		logger.WithContainer(containerID).Info("sync watch stopped")
	}
}

// Trigger runs a sync for the container now, on the caller's goroutine.
// Dropped silently when a sync is already in flight.
func (s *Scheduler) Trigger(ctx context.Context, containerID string) {
	s.runOnce(ctx, containerID)
}

func (s *Scheduler) runOnce(ctx context.Context, containerID string) {
	log := logger.WithContainer(containerID)

	if !s.state.TryBegin(containerID) {
		log.Debug("sync already in flight, dropping request")
		return
	}
	defer s.state.End(containerID)

	sh, ok := s.shadows.Get(containerID)
	if !ok {
		s.notifier.SyncFailed(containerID, fmt.Errorf("%w: %s", shadow.ErrShadowNotFound, containerID))
		return
	}

	start := time.Now()
	if err := sh.SyncFromContainer(ctx, s.workdir); err != nil {
		log.Error("sync failed", "error", err)
		s.notifier.SyncFailed(containerID, err)
		return
	}

	cs, err := sh.Changes(ctx)
	if err != nil {
		log.Error("change detection failed", "error", err)
		s.notifier.SyncFailed(containerID, err)
		return
	}

	log.Debug("sync complete", "hasChanges", cs.HasChanges, "duration", time.Since(start))
	s.notifier.SyncComplete(containerID, sh.Path(), cs)
}

// Stop halts every watch loop and waits for in-flight syncs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, stop := range s.watches {
		close(stop)
	}
	s.watches = make(map[string]chan struct{})
	s.mu.Unlock()

	s.wg.Wait()
}
