package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhubert/drydock/logger"
)

// HasRemoteOrigin checks if the repository has a remote named "origin"
func (s *Service) HasRemoteOrigin(ctx context.Context, repoPath string) bool {
	_, _, err := s.executor.Run(ctx, repoPath, "git", "remote", "get-url", "origin")
	return err == nil
}

// GetRemoteOriginURL returns the URL of the "origin" remote.
func (s *Service) GetRemoteOriginURL(ctx context.Context, repoPath string) (string, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("failed to get remote origin URL: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// SetRemoteOriginURL repoints the "origin" remote, adding it when absent.
func (s *Service) SetRemoteOriginURL(ctx context.Context, repoPath, url string) error {
	if s.HasRemoteOrigin(ctx, repoPath) {
		output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "remote", "set-url", "origin", url)
		if err != nil {
			return fmt.Errorf("git remote set-url failed: %s: %w", strings.TrimSpace(string(output)), err)
		}
		return nil
	}
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "remote", "add", "origin", url)
	if err != nil {
		return fmt.Errorf("git remote add failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// GetCurrentBranch returns the name of the currently checked out branch in the given repo.
// Returns an error if HEAD is detached or the command fails.
func (s *Service) GetCurrentBranch(ctx context.Context, repoPath string) (string, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}

	branch := strings.TrimSpace(string(output))
	if branch == "HEAD" {
		return "", fmt.Errorf("HEAD is detached (not on a branch)")
	}

	return branch, nil
}

// CheckoutNewBranch creates (or resets) and checks out the given branch.
// Uses checkout -B so repeated calls against the same branch are safe.
func (s *Service) CheckoutNewBranch(ctx context.Context, repoPath, branch string) error {
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "checkout", "-B", branch)
	if err != nil {
		return fmt.Errorf("git checkout failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("checked out branch", "branch", branch, "repoPath", repoPath)
	return nil
}

// IsLocalURL reports whether a remote URL points at a local filesystem path
// rather than a conventional git transport. Clones made from a path on disk
// get the path itself as "origin", which is useless as a push target.
func IsLocalURL(url string) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return true
	}
	if strings.HasPrefix(url, "file://") {
		return true
	}
	for _, scheme := range []string{"https://", "http://", "ssh://", "git://"} {
		if strings.HasPrefix(url, scheme) {
			return false
		}
	}
	// SCP-like syntax: user@host:path
	if strings.Contains(url, "@") && strings.Contains(url, ":") {
		return false
	}
	return true
}
