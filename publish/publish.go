// Package publish turns a shadow repository's accumulated changes into
// commits and pushes them upstream for review.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhubert/drydock/git"
	"github.com/zhubert/drydock/logger"
	"github.com/zhubert/drydock/shadow"
)

// ErrNoRemote is returned by Push when the shadow has no origin remote to
// push to.
var ErrNoRemote = errors.New("no origin remote configured")

// ErrEmptyMessage is returned by Commit before any repository state changes.
var ErrEmptyMessage = errors.New("commit message cannot be empty")

// Publisher runs the review workflow against shadow repositories.
type Publisher struct {
	shadows *shadow.Manager
	git     *git.Service
}

// NewPublisher creates a publisher over the given shadows.
func NewPublisher(shadows *shadow.Manager, gitSvc *git.Service) *Publisher {
	return &Publisher{shadows: shadows, git: gitSvc}
}

// resolve finds the tracked shadow for the container. The initialization
// check happens under the shadow lock in the caller, after a concurrent sync
// can no longer have the repository mid-swap.
func (p *Publisher) resolve(containerID string) (*shadow.Shadow, error) {
	sh, ok := p.shadows.Get(containerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", shadow.ErrShadowNotFound, containerID)
	}
	return sh, nil
}

// Commit stages everything in the container's shadow and commits it with the
// given message. Git failures surface verbatim so the operator sees what git
// saw.
func (p *Publisher) Commit(ctx context.Context, containerID, message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}

	sh, err := p.resolve(containerID)
	if err != nil {
		return err
	}

	sh.Lock()
	defer sh.Unlock()

	if !p.git.IsRepository(ctx, sh.Path()) {
		return fmt.Errorf("%w: %s", shadow.ErrShadowNotFound, containerID)
	}
	if err := p.git.CommitAll(ctx, sh.Path(), message); err != nil {
		return err
	}
	logger.WithContainer(containerID).Info("committed shadow changes", "path", sh.Path())
	return nil
}

// Push publishes the shadow's commits to origin on the named branch, creating
// or resetting the branch locally when it differs from the current one. An
// empty branch pushes the current branch.
func (p *Publisher) Push(ctx context.Context, containerID, branch string) error {
	sh, err := p.resolve(containerID)
	if err != nil {
		return err
	}

	sh.Lock()
	defer sh.Unlock()

	if !p.git.IsRepository(ctx, sh.Path()) {
		return fmt.Errorf("%w: %s", shadow.ErrShadowNotFound, containerID)
	}
	if !p.git.HasRemoteOrigin(ctx, sh.Path()) {
		return fmt.Errorf("%w: %s", ErrNoRemote, containerID)
	}

	current, err := p.git.GetCurrentBranch(ctx, sh.Path())
	if err != nil {
		current = ""
	}
	if branch == "" {
		if current == "" {
			return fmt.Errorf("no branch to push for %s", containerID)
		}
		branch = current
	}
	if branch != current {
		if err := p.git.CheckoutNewBranch(ctx, sh.Path(), branch); err != nil {
			return err
		}
	}

	if err := p.git.Push(ctx, sh.Path(), branch); err != nil {
		return err
	}
	logger.WithContainer(containerID).Info("pushed shadow branch", "branch", branch)
	return nil
}
