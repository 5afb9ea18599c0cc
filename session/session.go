// Package session owns the one-exec-per-container invariant and the fan-out
// of container output to attached viewers. Each container gets at most one
// interactive exec channel; any number of viewers share it, with bounded
// history replayed to late joiners.
package session

import (
	"context"
	"sync"

	"github.com/zhubert/drydock/engine"
	"github.com/zhubert/drydock/logger"
)

// readBufferSize is the per-read buffer for the session's output loop.
const readBufferSize = 32 * 1024

// Viewer is the observer side of a session. Implementations must not block
// in Output; the broadcast happens on the session's read loop.
type Viewer interface {
	// ID returns a stable identifier for this viewer connection.
	ID() string
	// Output delivers one chunk of terminal output.
	Output(p []byte)
	// SessionEnded signals that the container's process exited or the
	// stream broke; no further output will arrive.
	SessionEnded(containerID string)
}

// Session binds one container's interactive exec channel to its viewer set.
// Viewers are weak references: detaching never touches the process.
type Session struct {
	containerID string
	channel     engine.ExecChannel
	history     *history

	mu      sync.Mutex
	viewers map[string]Viewer
	ended   bool
}

func newSession(containerID string, ch engine.ExecChannel, historyLimit int) *Session {
	return &Session{
		containerID: containerID,
		channel:     ch,
		history:     newHistory(historyLimit),
		viewers:     make(map[string]Viewer),
	}
}

// ContainerID returns the container this session is bound to.
func (s *Session) ContainerID() string {
	return s.containerID
}

// ViewerCount returns the number of currently attached viewers.
func (s *Session) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// attach registers a viewer and snapshots history in the same critical
// section as the read loop's record step, so a chunk arriving mid-attach
// lands in exactly one of replay or live output.
func (s *Session) attach(v Viewer) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	replay := s.history.Snapshot()
	s.viewers[v.ID()] = v
	return replay
}

func (s *Session) removeViewer(viewerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.viewers[viewerID]; !ok {
		return false
	}
	delete(s.viewers, viewerID)
	return true
}

// record appends a chunk to history and snapshots the viewer set atomically
// with respect to attach; Output callbacks run on the returned copy without
// the lock held.
func (s *Session) record(chunk []byte) []Viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Append(chunk)
	out := make([]Viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		out = append(out, v)
	}
	return out
}

// snapshotViewers copies the viewer set so broadcast can iterate without
// holding the lock while viewer callbacks run.
func (s *Session) snapshotViewers() []Viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		out = append(out, v)
	}
	return out
}

// writeInput forwards viewer keystrokes to the remote process.
func (s *Session) writeInput(p []byte) error {
	_, err := s.channel.Write(p)
	return err
}

// resize forwards a terminal resize. Failures are non-fatal; the remote
// process may not have a TTY at this instant.
func (s *Session) resize(ctx context.Context, cols, rows uint) {
	if err := s.channel.Resize(ctx, cols, rows); err != nil {
		logger.WithContainer(s.containerID).Debug("resize failed", "cols", cols, "rows", rows, "error", err)
	}
}

// readLoop consumes the exec channel until it ends, recording each chunk in
// history and broadcasting it to the viewer set at time of receipt. onEnd
// runs exactly once when the stream terminates.
func (s *Session) readLoop(onEnd func(containerID string)) {
	log := logger.WithContainer(s.containerID)
	buf := make([]byte, readBufferSize)

	for {
		n, err := s.channel.Read(buf)
		if n > 0 {
			chunk := unframe(buf[:n])
			for _, v := range s.record(chunk) {
				v.Output(chunk)
			}
		}
		if err != nil {
			log.Info("session stream ended", "error", err)
			break
		}
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	viewers := make([]Viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.viewers = make(map[string]Viewer)
	s.mu.Unlock()

	for _, v := range viewers {
		v.SessionEnded(s.containerID)
	}
	if onEnd != nil {
		onEnd(s.containerID)
	}
}

// shutdown closes the channel; the read loop handles viewer notification.
func (s *Session) shutdown() {
	if err := s.channel.Close(); err != nil {
		logger.WithContainer(s.containerID).Debug("channel close failed", "error", err)
	}
}
