package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhubert/drydock/logger"
)

// ChangeSet represents the result of one status+diff pass against a repository.
// It is produced fresh on every call and never merged with earlier results.
type ChangeSet struct {
	HasChanges bool
	Summary    string   // Short summary like "2 modified, 1 added"
	Modified   []string // Paths modified relative to HEAD
	Added      []string // Paths staged as new
	Deleted    []string // Paths deleted
	Untracked  []string // Paths git does not track yet
	Diff       string   // Full diff output
}

// Files returns every changed path in status order.
func (c *ChangeSet) Files() []string {
	files := make([]string, 0, len(c.Modified)+len(c.Added)+len(c.Deleted)+len(c.Untracked))
	files = append(files, c.Modified...)
	files = append(files, c.Added...)
	files = append(files, c.Deleted...)
	files = append(files, c.Untracked...)
	return files
}

// Changes returns the uncommitted changes in the repository at repoPath,
// comparing the working tree against HEAD.
func (s *Service) Changes(ctx context.Context, repoPath string) (*ChangeSet, error) {
	cs := &ChangeSet{}

	// Get list of changed files using git status --porcelain
	output, err := s.executor.Output(ctx, repoPath, "git", "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	// Only trim trailing whitespace - leading space is significant in porcelain format
	// (e.g., " M file.go" means modified in worktree, the leading space is part of status)
	statusOutput := strings.TrimRight(string(output), "\n\r\t ")
	if statusOutput == "" {
		cs.Summary = "No changes"
		return cs, nil
	}

	cs.HasChanges = true
	for _, line := range strings.Split(statusOutput, "\n") {
		if len(line) <= 3 {
			continue
		}
		code := line[:2]
		filename := strings.TrimSpace(line[3:])
		// Renames are reported as "old -> new"; keep the new path
		if _, after, ok := strings.Cut(filename, " -> "); ok {
			filename = after
		}
		switch {
		case code == "??":
			cs.Untracked = append(cs.Untracked, filename)
		case strings.ContainsAny(code, "D"):
			cs.Deleted = append(cs.Deleted, filename)
		case strings.ContainsAny(code, "A"):
			cs.Added = append(cs.Added, filename)
		default:
			cs.Modified = append(cs.Modified, filename)
		}
	}

	cs.Summary = summarize(cs)

	log := logger.WithComponent("git")

	// Get diff (use --no-ext-diff to ensure output goes to stdout even if external diff is configured)
	// git diff HEAD shows all changes (both staged and unstaged) compared to the last commit
	diffOutput, err := s.executor.Output(ctx, repoPath, "git", "diff", "--no-ext-diff", "HEAD")
	if err != nil {
		// If HEAD doesn't exist (new repo), fall back to showing unstaged + staged separately
		log.Debug("diff HEAD failed, trying without HEAD", "error", err, "repoPath", repoPath)

		unstagedDiff, err1 := s.executor.Output(ctx, repoPath, "git", "diff", "--no-ext-diff")
		stagedDiff, err2 := s.executor.Output(ctx, repoPath, "git", "diff", "--no-ext-diff", "--cached")

		if err1 != nil && err2 != nil {
			log.Warn("git diff failed", "unstaged_error", err1, "staged_error", err2, "repoPath", repoPath)
		}

		// Combine unstaged and staged diffs (no duplication since they're mutually exclusive)
		diffOutput = append(unstagedDiff, stagedDiff...)
	}

	cs.Diff = string(diffOutput)

	// Untracked files don't show in git diff; append synthetic diffs so the
	// review surface shows their content.
	for _, file := range cs.Untracked {
		if d := s.untrackedFileDiff(ctx, repoPath, file); d != "" {
			if cs.Diff != "" && !strings.HasSuffix(cs.Diff, "\n") {
				cs.Diff += "\n"
			}
			cs.Diff += d + "\n"
		}
	}

	return cs, nil
}

// summarize builds a short human-readable count string like "2 modified, 1 untracked".
func summarize(cs *ChangeSet) string {
	var parts []string
	if n := len(cs.Modified); n > 0 {
		parts = append(parts, fmt.Sprintf("%d modified", n))
	}
	if n := len(cs.Added); n > 0 {
		parts = append(parts, fmt.Sprintf("%d added", n))
	}
	if n := len(cs.Deleted); n > 0 {
		parts = append(parts, fmt.Sprintf("%d deleted", n))
	}
	if n := len(cs.Untracked); n > 0 {
		parts = append(parts, fmt.Sprintf("%d untracked", n))
	}
	if len(parts) == 0 {
		return "No changes"
	}
	return strings.Join(parts, ", ")
}

// untrackedFileDiff creates a diff-like output for an untracked file
func (s *Service) untrackedFileDiff(ctx context.Context, repoPath, file string) string {
	// Use git diff --no-index to compare /dev/null with the new file
	// This produces a proper diff format showing the file as new
	output, err := s.executor.Output(ctx, repoPath, "git", "diff", "--no-ext-diff", "--no-index", "/dev/null", file)
	if err != nil {
		// git diff --no-index returns exit code 1 when files differ, which is expected
		// Only treat it as an error if there's no output
		if len(output) == 0 {
			logger.WithComponent("git").Warn("failed to generate diff for untracked file", "file", file, "error", err)
			return ""
		}
	}
	return strings.TrimRight(string(output), "\n")
}

// IsRepository reports whether path is inside a git working tree.
func (s *Service) IsRepository(ctx context.Context, path string) bool {
	out, err := s.executor.Output(ctx, path, "git", "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(string(out)) == "true"
}
