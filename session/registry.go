package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/zhubert/drydock/engine"
	"github.com/zhubert/drydock/logger"
)

// Options configures the interactive exec created for each new session.
type Options struct {
	Cmd          []string // command for the TTY-backed process (e.g. the agent shell)
	WorkDir      string   // working directory inside the container
	User         string   // exec user; empty uses the image default
	HistoryLimit int      // max buffered output bytes per session
}

// AttachResult is returned from Attach.
type AttachResult struct {
	ContainerID string
	IsNew       bool     // true when this attach created the session
	Replay      [][]byte // buffered output the viewer missed, in order
}

// Registry enforces the single-session-per-container invariant and routes
// viewer attach/detach/input/resize to the right session. It is constructed
// once and owned by the coordinator and holds no package-level state.
type Registry struct {
	engine engine.Engine
	opts   Options

	mu       sync.Mutex
	sessions map[string]*Session
	byViewer map[string]string // viewer ID -> container ID
	locks    map[string]*sync.Mutex

	onSessionEnd func(containerID string)
	wg           sync.WaitGroup
}

// NewRegistry creates a session registry using the given engine.
func NewRegistry(eng engine.Engine, opts Options) *Registry {
	return &Registry{
		engine:   eng,
		opts:     opts,
		sessions: make(map[string]*Session),
		byViewer: make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetOnSessionEnd registers a hook invoked after a session's stream ends and
// it has been purged from the registry. Must be set before the first Attach.
func (r *Registry) SetOnSessionEnd(fn func(containerID string)) {
	r.onSessionEnd = fn
}

// lockFor returns the per-container creation lock. Creation serializes per
// container only; attaches to different containers never contend.
func (r *Registry) lockFor(containerID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lk, ok := r.locks[containerID]
	if !ok {
		lk = &sync.Mutex{}
		r.locks[containerID] = lk
	}
	return lk
}

func (r *Registry) getSession(containerID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[containerID]
}

// Attach joins a viewer to the container's session, creating the exec
// channel if this is the first viewer. The returned replay covers all output
// buffered before this attach; live output starts with the next chunk.
func (r *Registry) Attach(ctx context.Context, containerID string, v Viewer, cols, rows uint) (*AttachResult, error) {
	lk := r.lockFor(containerID)
	lk.Lock()
	defer lk.Unlock()

	log := logger.WithContainer(containerID)

	sess := r.getSession(containerID)
	isNew := false
	if sess == nil {
		ch, err := r.engine.CreateInteractiveExec(ctx, containerID, engine.InteractiveOptions{
			Cmd:     r.opts.Cmd,
			WorkDir: r.opts.WorkDir,
			User:    r.opts.User,
			Cols:    cols,
			Rows:    rows,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create session for %s: %w", containerID, err)
		}

		sess = newSession(containerID, ch, r.opts.HistoryLimit)
		r.mu.Lock()
		r.sessions[containerID] = sess
		r.mu.Unlock()

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			sess.readLoop(r.handleSessionEnd)
		}()

		isNew = true
		log.Info("session created", "viewerID", v.ID())
	} else {
		log.Debug("joining existing session", "viewerID", v.ID(), "viewers", sess.ViewerCount())
	}

	replay := sess.attach(v)

	r.mu.Lock()
	r.byViewer[v.ID()] = containerID
	r.mu.Unlock()

	return &AttachResult{ContainerID: containerID, IsNew: isNew, Replay: replay}, nil
}

// Detach removes a viewer from whichever session holds it. The underlying
// process keeps running; sessions outlive viewer connections so operators
// can reconnect.
func (r *Registry) Detach(viewerID string) {
	r.mu.Lock()
	containerID, ok := r.byViewer[viewerID]
	if ok {
		delete(r.byViewer, viewerID)
	}
	sess := r.sessions[containerID]
	r.mu.Unlock()

	if !ok || sess == nil {
		return
	}
	if sess.removeViewer(viewerID) {
		logger.WithContainer(containerID).Debug("viewer detached", "viewerID", viewerID, "remaining", sess.ViewerCount())
	}
}

// ForwardInput writes viewer keystrokes to the session's process. No-op when
// the viewer is not attached to any live session.
func (r *Registry) ForwardInput(viewerID string, p []byte) {
	sess := r.sessionForViewer(viewerID)
	if sess == nil {
		return
	}
	if err := sess.writeInput(p); err != nil {
		logger.WithContainer(sess.containerID).Warn("input write failed", "viewerID", viewerID, "error", err)
	}
}

// Resize forwards a terminal resize for the viewer's session. Failures are
// swallowed; the remote process may not support a resize at this instant.
func (r *Registry) Resize(ctx context.Context, viewerID string, cols, rows uint) {
	sess := r.sessionForViewer(viewerID)
	if sess == nil {
		return
	}
	sess.resize(ctx, cols, rows)
}

func (r *Registry) sessionForViewer(viewerID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	containerID, ok := r.byViewer[viewerID]
	if !ok {
		return nil
	}
	return r.sessions[containerID]
}

// ContainerFor returns the container a viewer is attached to, if any.
func (r *Registry) ContainerFor(viewerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	containerID, ok := r.byViewer[viewerID]
	return containerID, ok
}

// Containers returns the container IDs with live sessions.
func (r *Registry) Containers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// ViewersOf returns the viewers currently attached to a container's session.
func (r *Registry) ViewersOf(containerID string) []Viewer {
	sess := r.getSession(containerID)
	if sess == nil {
		return nil
	}
	return sess.snapshotViewers()
}

// handleSessionEnd purges a dead session and its viewer routes, then runs
// the registered hook. Invoked from the session's read loop.
func (r *Registry) handleSessionEnd(containerID string) {
	r.mu.Lock()
	delete(r.sessions, containerID)
	for viewerID, cid := range r.byViewer {
		if cid == containerID {
			delete(r.byViewer, viewerID)
		}
	}
	hook := r.onSessionEnd
	r.mu.Unlock()

	logger.WithContainer(containerID).Info("session removed from registry")

	if hook != nil {
		hook(containerID)
	}
}

// Shutdown closes every session's stream and waits for the read loops to
// drain. Viewers receive SessionEnded through the normal teardown path.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
	r.wg.Wait()
}
