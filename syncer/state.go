// Package syncer schedules periodic and on-demand container-to-shadow syncs,
// guaranteeing at most one in-flight sync per container.
package syncer

import "sync"

// State tracks which containers have a sync in flight. TryBegin is an atomic
// test-and-insert, so two concurrent triggers for one container can never
// both proceed.
type State struct {
	mu       sync.Mutex
	inFlight map[string]bool
}

// NewState creates an empty sync state tracker.
func NewState() *State {
	return &State{inFlight: make(map[string]bool)}
}

// TryBegin marks a sync as started for the container. Returns false when one
// is already running, in which case the caller must drop the request.
func (s *State) TryBegin(containerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[containerID] {
		return false
	}
	s.inFlight[containerID] = true
	return true
}

// End clears the in-flight mark. Callers run it in a defer so a failed sync
// can't wedge the container.
func (s *State) End(containerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, containerID)
}

// InFlight reports whether the container has a running sync.
func (s *State) InFlight(containerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[containerID]
}
