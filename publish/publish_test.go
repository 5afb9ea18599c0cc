package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/zhubert/drydock/engine"
	dexec "github.com/zhubert/drydock/exec"
	"github.com/zhubert/drydock/git"
	"github.com/zhubert/drydock/shadow"
)

var ctx = context.Background()

// stubEngine satisfies engine.Engine; the publisher never touches it.
type stubEngine struct{ engine.Engine }

func newTestPublisher(t *testing.T, mock *dexec.MockExecutor) (*Publisher, *shadow.Manager) {
	t.Helper()
	gitSvc := git.NewServiceWithExecutor(mock)
	shadows := shadow.NewManager(t.TempDir(), stubEngine{}, gitSvc, nil)
	return NewPublisher(shadows, gitSvc), shadows
}

func markInitialized(mock *dexec.MockExecutor) {
	mock.AddExactMatch("git", []string{"rev-parse", "--is-inside-work-tree"}, dexec.MockResponse{
		Stdout: []byte("true\n"),
	})
}

func TestCommitRejectsEmptyMessage(t *testing.T) {
	mock := dexec.NewMockExecutor(nil)
	pub, shadows := newTestPublisher(t, mock)
	shadows.GetOrCreate("abc123")

	for _, msg := range []string{"", "   ", "\n\t"} {
		if err := pub.Commit(ctx, "abc123", msg); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Commit(%q) = %v, want ErrEmptyMessage", msg, err)
		}
	}
	if len(mock.GetCalls()) != 0 {
		t.Error("empty message must be rejected before any git command runs")
	}
}

func TestCommitWithoutShadow(t *testing.T) {
	mock := dexec.NewMockExecutor(nil)
	pub, _ := newTestPublisher(t, mock)

	err := pub.Commit(ctx, "unknown", "a message")
	if !errors.Is(err, shadow.ErrShadowNotFound) {
		t.Errorf("expected ErrShadowNotFound, got %v", err)
	}
}

func TestCommitWithUninitializedShadow(t *testing.T) {
	mock := dexec.NewMockExecutor(nil)
	mock.AddExactMatch("git", []string{"rev-parse", "--is-inside-work-tree"}, dexec.MockResponse{
		Err: fmt.Errorf("exit status 128"),
	})
	pub, shadows := newTestPublisher(t, mock)
	shadows.GetOrCreate("abc123")

	err := pub.Commit(ctx, "abc123", "a message")
	if !errors.Is(err, shadow.ErrShadowNotFound) {
		t.Errorf("expected ErrShadowNotFound, got %v", err)
	}
}

func TestCommitStagesAndCommits(t *testing.T) {
	mock := dexec.NewMockExecutor(nil)
	markInitialized(mock)
	mock.AddExactMatch("git", []string{"add", "-A"}, dexec.MockResponse{})
	mock.AddExactMatch("git", []string{"commit", "-m", "Apply agent changes"}, dexec.MockResponse{})

	pub, shadows := newTestPublisher(t, mock)
	shadows.GetOrCreate("abc123")

	if err := pub.Commit(ctx, "abc123", "Apply agent changes"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCommitSurfacesGitFailure(t *testing.T) {
	mock := dexec.NewMockExecutor(nil)
	markInitialized(mock)
	mock.AddExactMatch("git", []string{"add", "-A"}, dexec.MockResponse{})
	mock.AddPrefixMatch("git", []string{"commit"}, dexec.MockResponse{
		Stdout: []byte("nothing to commit, working tree clean"),
		Err:    fmt.Errorf("exit status 1"),
	})

	pub, shadows := newTestPublisher(t, mock)
	shadows.GetOrCreate("abc123")

	err := pub.Commit(ctx, "abc123", "a message")
	if err == nil || !strings.Contains(err.Error(), "nothing to commit") {
		t.Errorf("git output should surface, got %v", err)
	}
}

func TestPushWithoutRemote(t *testing.T) {
	mock := dexec.NewMockExecutor(nil)
	markInitialized(mock)
	mock.AddExactMatch("git", []string{"remote", "get-url", "origin"}, dexec.MockResponse{
		Err: fmt.Errorf("exit status 2"),
	})

	pub, shadows := newTestPublisher(t, mock)
	shadows.GetOrCreate("abc123")

	err := pub.Push(ctx, "abc123", "feature")
	if !errors.Is(err, ErrNoRemote) {
		t.Errorf("expected ErrNoRemote, got %v", err)
	}
}

func TestPushCurrentBranch(t *testing.T) {
	mock := dexec.NewMockExecutor(nil)
	markInitialized(mock)
	mock.AddExactMatch("git", []string{"remote", "get-url", "origin"}, dexec.MockResponse{
		Stdout: []byte("git@github.com:acme/project.git\n"),
	})
	mock.AddExactMatch("git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, dexec.MockResponse{
		Stdout: []byte("drydock/abc123\n"),
	})
	mock.AddExactMatch("git", []string{"push", "-u", "origin", "drydock/abc123"}, dexec.MockResponse{})

	pub, shadows := newTestPublisher(t, mock)
	shadows.GetOrCreate("abc123")

	if err := pub.Push(ctx, "abc123", "drydock/abc123"); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// No checkout when the branch already matches.
	for _, call := range mock.GetCalls() {
		if len(call.Args) > 0 && call.Args[0] == "checkout" {
			t.Errorf("unexpected checkout: git %v", call.Args)
		}
	}
}

func TestPushSwitchesBranch(t *testing.T) {
	mock := dexec.NewMockExecutor(nil)
	markInitialized(mock)
	mock.AddExactMatch("git", []string{"remote", "get-url", "origin"}, dexec.MockResponse{
		Stdout: []byte("git@github.com:acme/project.git\n"),
	})
	mock.AddExactMatch("git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, dexec.MockResponse{
		Stdout: []byte("main\n"),
	})
	mock.AddExactMatch("git", []string{"checkout", "-B", "feature/login"}, dexec.MockResponse{})
	mock.AddExactMatch("git", []string{"push", "-u", "origin", "feature/login"}, dexec.MockResponse{})

	pub, shadows := newTestPublisher(t, mock)
	shadows.GetOrCreate("abc123")

	if err := pub.Push(ctx, "abc123", "feature/login"); err != nil {
		t.Fatalf("Push: %v", err)
	}

	sawCheckout := false
	for _, call := range mock.GetCalls() {
		if len(call.Args) > 1 && call.Args[0] == "checkout" && call.Args[1] == "-B" {
			sawCheckout = true
		}
	}
	if !sawCheckout {
		t.Error("expected checkout -B before pushing a different branch")
	}
}

func TestPushEmptyBranchUsesCurrent(t *testing.T) {
	mock := dexec.NewMockExecutor(nil)
	markInitialized(mock)
	mock.AddExactMatch("git", []string{"remote", "get-url", "origin"}, dexec.MockResponse{
		Stdout: []byte("git@github.com:acme/project.git\n"),
	})
	mock.AddExactMatch("git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, dexec.MockResponse{
		Stdout: []byte("main\n"),
	})
	mock.AddExactMatch("git", []string{"push", "-u", "origin", "main"}, dexec.MockResponse{})

	pub, shadows := newTestPublisher(t, mock)
	shadows.GetOrCreate("abc123")

	if err := pub.Push(ctx, "abc123", ""); err != nil {
		t.Fatalf("Push: %v", err)
	}
}

func TestPushSurfacesGitFailure(t *testing.T) {
	mock := dexec.NewMockExecutor(nil)
	markInitialized(mock)
	mock.AddExactMatch("git", []string{"remote", "get-url", "origin"}, dexec.MockResponse{
		Stdout: []byte("git@github.com:acme/project.git\n"),
	})
	mock.AddExactMatch("git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, dexec.MockResponse{
		Stdout: []byte("main\n"),
	})
	mock.AddPrefixMatch("git", []string{"push"}, dexec.MockResponse{
		Stdout: []byte("remote: permission denied"),
		Err:    fmt.Errorf("exit status 128"),
	})

	pub, shadows := newTestPublisher(t, mock)
	shadows.GetOrCreate("abc123")

	err := pub.Push(ctx, "abc123", "")
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("git output should surface, got %v", err)
	}
}
