// Package shadow maintains host-side git mirrors of container workspaces.
// Each watched container gets one shadow repository under the base directory;
// the container's working tree is periodically copied in so the host can
// diff, commit, and push the agent's work without entering the container.
package shadow

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/zhubert/drydock/engine"
	"github.com/zhubert/drydock/git"
	"github.com/zhubert/drydock/logger"
)

// ErrShadowNotFound is returned when an operation targets a container whose
// shadow repository has not been initialized.
var ErrShadowNotFound = errors.New("shadow repository not found")

// defaultExcludes are directory names never copied out of a container. The
// shadow keeps its own .git; the rest are dependency and build caches that
// would swamp the sync.
var defaultExcludes = []string{
	".git",
	"node_modules",
	".venv",
	"venv",
	"__pycache__",
	"target",
	"dist",
	"build",
	".next",
	".cache",
}

// shortIDLen matches docker's truncated container ID display width.
const shortIDLen = 12

func shortID(containerID string) string {
	if len(containerID) > shortIDLen {
		return containerID[:shortIDLen]
	}
	return containerID
}

// Manager tracks one Shadow per container under a common base directory.
type Manager struct {
	baseDir  string
	engine   engine.Engine
	git      *git.Service
	excludes []string

	mu      sync.Mutex
	shadows map[string]*Shadow
}

// NewManager creates a shadow manager rooted at baseDir. extraExcludes
// extends the built-in exclude list.
func NewManager(baseDir string, eng engine.Engine, gitSvc *git.Service, extraExcludes []string) *Manager {
	excludes := make([]string, 0, len(defaultExcludes)+len(extraExcludes))
	excludes = append(excludes, defaultExcludes...)
	excludes = append(excludes, extraExcludes...)

	return &Manager{
		baseDir:  baseDir,
		engine:   eng,
		git:      gitSvc,
		excludes: excludes,
		shadows:  make(map[string]*Shadow),
	}
}

// Get returns the shadow for a container if one has been created.
func (m *Manager) Get(containerID string) (*Shadow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shadows[shortID(containerID)]
	return s, ok
}

// GetOrCreate returns the container's shadow, creating the tracking entry if
// needed. The repository itself is not initialized until Initialize runs.
func (m *Manager) GetOrCreate(containerID string) *Shadow {
	key := shortID(containerID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shadows[key]; ok {
		return s
	}

	s := &Shadow{
		containerID: containerID,
		shortID:     key,
		path:        filepath.Join(m.baseDir, key),
		engine:      m.engine,
		git:         m.git,
		excludes:    m.excludes,
	}
	m.shadows[key] = s
	return s
}

// Remove deletes a container's shadow repository and stops tracking it.
func (m *Manager) Remove(containerID string) error {
	key := shortID(containerID)

	m.mu.Lock()
	s, ok := m.shadows[key]
	delete(m.shadows, key)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Cleanup()
}

// RemoveAll deletes every shadow repository, including directories left
// behind by earlier runs that this process never tracked.
func (m *Manager) RemoveAll() error {
	m.mu.Lock()
	shadows := make([]*Shadow, 0, len(m.shadows))
	for _, s := range m.shadows {
		shadows = append(shadows, s)
	}
	m.shadows = make(map[string]*Shadow)
	m.mu.Unlock()

	var errs []error
	for _, s := range shadows {
		if err := s.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(m.baseDir); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.WithComponent("shadow").Info("removed all shadow repositories", "baseDir", m.baseDir)
	return nil
}

// Shadows returns the currently tracked shadows.
func (m *Manager) Shadows() []*Shadow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Shadow, 0, len(m.shadows))
	for _, s := range m.shadows {
		out = append(out, s)
	}
	return out
}
