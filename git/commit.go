package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhubert/drydock/logger"
)

// CommitAll stages all changes and commits them with the given message
func (s *Service) CommitAll(ctx context.Context, repoPath, message string) error {
	logger.WithComponent("git").Info("committing all changes", "repoPath", repoPath)

	// Stage all changes
	if output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %s - %w", string(output), err)
	}

	// Commit
	if output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit failed: %s - %w", string(output), err)
	}

	return nil
}

// Push pushes the given branch to origin with upstream tracking set.
func (s *Service) Push(ctx context.Context, repoPath, branch string) error {
	logger.WithComponent("git").Info("pushing branch", "branch", branch, "repoPath", repoPath)

	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "push", "-u", "origin", branch)
	if err != nil {
		return fmt.Errorf("git push failed: %s - %w", strings.TrimSpace(string(output)), err)
	}

	return nil
}
