package shadow

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zhubert/drydock/git"
	"github.com/zhubert/drydock/logger"

	"github.com/zhubert/drydock/engine"
)

// Shadow is the host-side git mirror of one container's workspace. mu
// serializes everything that touches the repository or working tree; a sync
// mid-swap must never be observable by a concurrent status or commit.
type Shadow struct {
	containerID string
	shortID     string
	path        string
	engine      engine.Engine
	git         *git.Service
	excludes    []string

	mu sync.Mutex
}

// Lock serializes access to the shadow's repository and working tree.
// Initialize, SyncFromContainer, Changes, and Cleanup take it internally;
// callers running git directly against Path() must hold it for the whole
// operation so a sync cannot swap the tree out from under them.
func (s *Shadow) Lock() { s.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (s *Shadow) Unlock() { s.mu.Unlock() }

// Path returns the shadow repository's host directory.
func (s *Shadow) Path() string {
	return s.path
}

// ContainerID returns the container this shadow mirrors.
func (s *Shadow) ContainerID() string {
	return s.containerID
}

// Outcome records one initialization strategy attempt.
type Outcome struct {
	Name string
	Err  error
}

// Initialize populates the shadow repository from sourceRepo, trying
// progressively cruder strategies: a shallow single-branch clone, a full
// single-branch clone, then a raw copy with a fresh git init. The first
// success wins; if every strategy fails the shadow is unusable and the error
// is fatal for sync.
//
// After population the repository is switched to targetBranch (when it
// differs from the source branch) and, when the source has a real remote,
// origin is repointed at it so pushes land upstream instead of at the local
// source checkout.
func (s *Shadow) Initialize(ctx context.Context, sourceRepo, targetBranch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.WithContainer(s.containerID)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create shadow base dir: %w", err)
	}

	branch, err := s.git.GetCurrentBranch(ctx, sourceRepo)
	if err != nil || branch == "" {
		branch = "main"
	}

	strategies := []struct {
		name string
		run  func() error
	}{
		{"shallow clone", func() error { return s.git.CloneShallow(ctx, sourceRepo, branch, s.path) }},
		{"full clone", func() error { return s.git.CloneFull(ctx, sourceRepo, branch, s.path) }},
		{"copy and init", func() error { return s.copyAndInit(ctx, sourceRepo, branch) }},
	}

	var attempts []Outcome
	succeeded := false
	for _, strat := range strategies {
		// Each attempt starts from a clean slate.
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("failed to clear shadow dir: %w", err)
		}
		if err := strat.run(); err != nil {
			attempts = append(attempts, Outcome{Name: strat.name, Err: err})
			log.Debug("initialization strategy failed", "strategy", strat.name, "error", err)
			continue
		}
		log.Info("shadow repository initialized", "strategy", strat.name, "path", s.path, "branch", branch)
		succeeded = true
		break
	}
	if !succeeded {
		details := make([]string, len(attempts))
		for i, a := range attempts {
			details[i] = fmt.Sprintf("%s: %v", a.Name, a.Err)
		}
		return fmt.Errorf("all initialization strategies failed for %s: %s", s.containerID, strings.Join(details, "; "))
	}

	if targetBranch != "" && targetBranch != branch {
		if err := s.git.CheckoutNewBranch(ctx, s.path, targetBranch); err != nil {
			return fmt.Errorf("failed to checkout branch %s: %w", targetBranch, err)
		}
	}

	s.repointOrigin(ctx, sourceRepo)
	return nil
}

// repointOrigin points the shadow's origin at the source repository's real
// remote, so a later push targets the actual upstream rather than the local
// source checkout. Skipped when the source has no remote or only a
// local-path remote.
func (s *Shadow) repointOrigin(ctx context.Context, sourceRepo string) {
	log := logger.WithContainer(s.containerID)

	url, err := s.git.GetRemoteOriginURL(ctx, sourceRepo)
	if err != nil || url == "" {
		log.Debug("source has no origin remote, shadow keeps clone default")
		return
	}
	if git.IsLocalURL(url) {
		log.Debug("source origin is a local path, not repointing", "url", url)
		return
	}
	if err := s.git.SetRemoteOriginURL(ctx, s.path, url); err != nil {
		log.Warn("failed to repoint origin", "url", url, "error", err)
	}
}

// copyAndInit is the last-resort strategy: copy the source tree (minus
// excludes) and start a fresh history with one import commit.
func (s *Shadow) copyAndInit(ctx context.Context, sourceRepo, branch string) error {
	if err := copyTree(sourceRepo, s.path, s.excludeSet()); err != nil {
		return fmt.Errorf("copy failed: %w", err)
	}
	return s.git.InitRepository(ctx, s.path, branch)
}

// Changes reports the shadow's pending working-tree changes. A missing .git
// means the shadow was never initialized, which is distinct from clean.
func (s *Shadow) Changes(ctx context.Context) (*git.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(filepath.Join(s.path, ".git")); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShadowNotFound, s.containerID)
	}
	return s.git.Changes(ctx, s.path)
}

// Cleanup removes the shadow directory. Safe to call repeatedly.
func (s *Shadow) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("failed to remove shadow %s: %w", s.path, err)
	}
	return nil
}

func (s *Shadow) excludeSet() map[string]bool {
	set := make(map[string]bool, len(s.excludes))
	for _, e := range s.excludes {
		set[e] = true
	}
	return set
}

// copyTree copies src into dst, skipping any entry whose name is excluded.
// Symlinks are recreated; other special files are skipped.
func copyTree(src, dst string, excludes map[string]bool) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != src && excludes[d.Name()] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&os.ModeSymlink != 0:
			dest, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(dest, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
