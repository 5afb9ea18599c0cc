package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhubert/drydock/logger"
)

// CloneShallow performs a depth-1 single-branch clone of the given branch.
func (s *Service) CloneShallow(ctx context.Context, sourceRepo, branch, destPath string) error {
	output, err := s.executor.CombinedOutput(ctx, "", "git", "clone",
		"--depth", "1", "--single-branch", "--branch", branch, sourceRepo, destPath)
	if err != nil {
		return fmt.Errorf("shallow clone failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("shallow clone complete", "source", sourceRepo, "branch", branch, "dest", destPath)
	return nil
}

// CloneFull performs a full-history single-branch clone of the given branch.
// Used when the source rejects shallow clones.
func (s *Service) CloneFull(ctx context.Context, sourceRepo, branch, destPath string) error {
	output, err := s.executor.CombinedOutput(ctx, "", "git", "clone",
		"--single-branch", "--branch", branch, sourceRepo, destPath)
	if err != nil {
		return fmt.Errorf("full clone failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("full clone complete", "source", sourceRepo, "branch", branch, "dest", destPath)
	return nil
}

// InitRepository initializes a fresh repository at path with the given
// initial branch and creates an initial commit of whatever is present.
// Used as the last-resort strategy when the source can't be cloned at all.
func (s *Service) InitRepository(ctx context.Context, path, branch string) error {
	if output, err := s.executor.CombinedOutput(ctx, path, "git", "init", "-b", branch); err != nil {
		return fmt.Errorf("git init failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	if output, err := s.executor.CombinedOutput(ctx, path, "git", "add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	if output, err := s.executor.CombinedOutput(ctx, path, "git", "commit", "-m", "Initial import", "--allow-empty"); err != nil {
		return fmt.Errorf("git commit failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("initialized fresh repository", "path", path, "branch", branch)
	return nil
}
