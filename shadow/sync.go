package shadow

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zhubert/drydock/engine"
	"github.com/zhubert/drydock/logger"
)

// SyncFromContainer copies the container's working tree at containerPath into
// the shadow repository. The container is the source of truth: files deleted
// there disappear from the shadow too. Prefers an in-container rsync into a
// scratch directory (cheap, honors excludes at the source); falls back to a
// whole-tree tar export when rsync is unavailable and uninstallable.
//
// Whatever happens, the shadow's .git directory survives. The shadow lock is
// held for the duration, so status and commit never see a half-swapped tree.
func (s *Shadow) SyncFromContainer(ctx context.Context, containerPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.WithContainer(s.containerID)

	s.fixOwnership(ctx, containerPath)

	if s.ensureRsync(ctx) {
		err := s.syncWithRsync(ctx, containerPath)
		if err == nil {
			return nil
		}
		log.Warn("rsync sync failed, falling back to tar", "error", err)
	}
	return s.syncWithTar(ctx, containerPath)
}

// fixOwnership normalizes file ownership under containerPath to the
// directory's own owner, so root-created files don't break the copy. Tries
// privileged exec, plain exec, then sudo; every miss is logged and none is
// fatal.
func (s *Shadow) fixOwnership(ctx context.Context, containerPath string) {
	log := logger.WithContainer(s.containerID)
	script := `chown -R "$(stat -c %u:%g .)" .`

	attempts := []struct {
		name string
		cmd  []string
		opts engine.RunOptions
	}{
		{"privileged chown", []string{"sh", "-c", script}, engine.RunOptions{WorkDir: containerPath, User: "root", Privileged: true}},
		{"chown", []string{"sh", "-c", script}, engine.RunOptions{WorkDir: containerPath}},
		{"sudo chown", []string{"sh", "-c", "sudo " + script}, engine.RunOptions{WorkDir: containerPath}},
	}

	for _, a := range attempts {
		res, err := s.engine.RunExec(ctx, s.containerID, a.cmd, a.opts)
		if err == nil && res.ExitCode == 0 {
			log.Debug("ownership fixed", "method", a.name)
			return
		}
		if err != nil {
			log.Debug("ownership fix attempt failed", "method", a.name, "error", err)
		} else {
			log.Debug("ownership fix attempt failed", "method", a.name, "exitCode", res.ExitCode, "stderr", strings.TrimSpace(string(res.Stderr)))
		}
	}
	log.Debug("all ownership fix attempts failed, continuing")
}

// ensureRsync reports whether rsync is usable in the container, installing it
// with the first package manager that works when it isn't present.
func (s *Shadow) ensureRsync(ctx context.Context) bool {
	if s.hasRsync(ctx) {
		return true
	}

	log := logger.WithContainer(s.containerID)
	installers := []struct {
		name string
		cmd  []string
	}{
		{"apk", []string{"apk", "add", "--no-cache", "rsync"}},
		{"apt-get", []string{"sh", "-c", "apt-get update -qq && apt-get install -y -qq rsync"}},
		{"dnf", []string{"dnf", "install", "-y", "rsync"}},
		{"yum", []string{"yum", "install", "-y", "rsync"}},
	}

	for _, inst := range installers {
		res, err := s.engine.RunExec(ctx, s.containerID, inst.cmd, engine.RunOptions{User: "root"})
		if err != nil || res.ExitCode != 0 {
			continue
		}
		if s.hasRsync(ctx) {
			log.Info("installed rsync in container", "packageManager", inst.name)
			return true
		}
	}
	log.Debug("rsync unavailable and not installable, using tar fallback")
	return false
}

func (s *Shadow) hasRsync(ctx context.Context) bool {
	res, err := s.engine.RunExec(ctx, s.containerID, []string{"sh", "-c", "command -v rsync"}, engine.RunOptions{})
	return err == nil && res.ExitCode == 0
}

// syncWithRsync stages an exclude-filtered copy inside the container, then
// exports the stage and swaps it into the shadow. The working tree is cleared
// (keeping .git) before unpacking so container-side deletions propagate.
func (s *Shadow) syncWithRsync(ctx context.Context, containerPath string) error {
	stage := "/tmp/drydock-stage-" + s.shortID

	args := []string{"rsync", "-a", "--delete"}
	for _, e := range s.excludes {
		args = append(args, "--exclude", e)
	}
	args = append(args, containerPath+"/", stage+"/")

	res, err := s.engine.RunExec(ctx, s.containerID, args, engine.RunOptions{User: "root"})
	if err != nil {
		return fmt.Errorf("rsync exec failed: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("rsync exited %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	defer func() {
		// Scratch dir cleanup is best-effort.
		_, _ = s.engine.RunExec(ctx, s.containerID, []string{"rm", "-rf", stage}, engine.RunOptions{User: "root"})
	}()

	archive, err := s.engine.CopyFrom(ctx, s.containerID, stage)
	if err != nil {
		return fmt.Errorf("failed to export staged tree: %w", err)
	}
	defer archive.Close()

	if err := s.clearWorkingTree(); err != nil {
		return fmt.Errorf("failed to clear shadow tree: %w", err)
	}
	if err := extractTar(s.path, archive, s.excludeSet()); err != nil {
		return fmt.Errorf("failed to unpack staged tree: %w", err)
	}

	logger.WithContainer(s.containerID).Debug("synced working tree via rsync", "path", s.path)
	return nil
}

// syncWithTar exports the whole working tree and swaps it into the shadow.
// The .git directory is moved aside before the swap and restored afterwards,
// so a failure mid-swap can lose tree contents but never the repository.
func (s *Shadow) syncWithTar(ctx context.Context, containerPath string) error {
	archive, err := s.engine.CopyFrom(ctx, s.containerID, containerPath)
	if err != nil {
		return fmt.Errorf("failed to export working tree: %w", err)
	}
	defer archive.Close()

	staging, err := os.MkdirTemp("", "drydock-sync-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := extractTar(staging, archive, s.excludeSet()); err != nil {
		return fmt.Errorf("failed to unpack working tree: %w", err)
	}

	gitDir := filepath.Join(s.path, ".git")
	backup := s.path + ".git-backup"
	hadGit := false
	if _, err := os.Stat(gitDir); err == nil {
		hadGit = true
		if err := os.RemoveAll(backup); err != nil {
			return err
		}
		if err := os.Rename(gitDir, backup); err != nil {
			return fmt.Errorf("failed to protect .git: %w", err)
		}
	}
	defer func() {
		if hadGit {
			os.RemoveAll(gitDir)
			if err := os.Rename(backup, gitDir); err != nil {
				logger.WithContainer(s.containerID).Error("failed to restore .git", "backup", backup, "error", err)
			}
		}
	}()

	if err := clearDir(s.path); err != nil {
		return fmt.Errorf("failed to clear shadow tree: %w", err)
	}
	if err := copyTree(staging, s.path, s.excludeSet()); err != nil {
		return fmt.Errorf("failed to merge staged tree: %w", err)
	}

	logger.WithContainer(s.containerID).Debug("synced working tree via tar", "path", s.path)
	return nil
}

// clearWorkingTree removes every entry in the shadow except .git, so files
// deleted in the container disappear from the shadow too.
func (s *Shadow) clearWorkingTree() error {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(s.path, 0o755)
		}
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.path, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// clearDir removes every entry in dir without removing dir itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o755)
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// extractTar unpacks a docker export archive into dst. Docker roots the
// archive at the copied directory's basename, so the first path component is
// stripped. Entries escaping dst or matching the exclude set are skipped.
func extractTar(dst string, r io.Reader, excludes map[string]bool) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		rel := stripFirstComponent(hdr.Name)
		if rel == "" || excludedPath(rel, excludes) {
			continue
		}

		target := filepath.Join(dst, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm()|0o200)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

// stripFirstComponent drops the archive's root directory from a tar path.
func stripFirstComponent(name string) string {
	name = strings.TrimPrefix(path.Clean(name), "/")
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// excludedPath reports whether any component of the slash-separated rel path
// is in the exclude set.
func excludedPath(rel string, excludes map[string]bool) bool {
	for _, part := range strings.Split(rel, "/") {
		if excludes[part] {
			return true
		}
	}
	return false
}
