package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhubert/drydock/git"
	"github.com/zhubert/drydock/session"
)

// fakeCoord scripts the coordinator surface for protocol tests.
type fakeCoord struct {
	mu          sync.Mutex
	viewers     map[string]session.Viewer
	inputs      [][]byte
	resizes     []string
	syncs       []string
	attachErr   error
	commitErr   error
	pushErr     error
	replay      [][]byte
	containerID string
}

func newFakeCoord() *fakeCoord {
	return &fakeCoord{
		viewers:     make(map[string]session.Viewer),
		containerID: "0123456789abcdef",
	}
}

func (f *fakeCoord) AttachViewer(_ context.Context, _ string, v session.Viewer, _, _ uint) (*session.AttachResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	f.viewers[v.ID()] = v
	return &session.AttachResult{ContainerID: f.containerID, IsNew: true, Replay: f.replay}, nil
}

func (f *fakeCoord) DetachViewer(viewerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.viewers, viewerID)
}

func (f *fakeCoord) ForwardInput(_ string, p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chunk := make([]byte, len(p))
	copy(chunk, p)
	f.inputs = append(f.inputs, chunk)
}

func (f *fakeCoord) ResizeTerminal(_ context.Context, _ string, cols, rows uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, fmt.Sprintf("%dx%d", cols, rows))
}

func (f *fakeCoord) TriggerSync(_ context.Context, containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, containerID)
}

func (f *fakeCoord) Commit(_ context.Context, _, _ string) error { return f.commitErr }
func (f *fakeCoord) Push(_ context.Context, _, _ string) error   { return f.pushErr }

func (f *fakeCoord) ViewersOf(string) []session.Viewer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Viewer, 0, len(f.viewers))
	for _, v := range f.viewers {
		out = append(out, v)
	}
	return out
}

func (f *fakeCoord) attachedViewer() session.Viewer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.viewers {
		return v
	}
	return nil
}

func dial(t *testing.T, coord Coordinator) *websocket.Conn {
	t.Helper()
	srv := New("unused", coord)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dialWithServer also returns the Server for notifier-side tests.
func dialWithServer(t *testing.T, coord Coordinator) (*websocket.Conn, *Server) {
	t.Helper()
	srv := New("unused", coord)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, srv
}

func sendMsg(t *testing.T, conn *websocket.Conn, msg inboundMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) outboundMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg outboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", wantType, err)
		}
		if msg.Type == wantType {
			return msg
		}
	}
}

func TestAttachConfirmsAndReplays(t *testing.T) {
	coord := newFakeCoord()
	coord.replay = [][]byte{[]byte("$ make build\n"), []byte("ok\n")}
	conn := dial(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgAttach, ContainerID: "0123", Cols: 80, Rows: 24})

	attached := readUntil(t, conn, msgAttached)
	if attached.ContainerID != coord.containerID {
		t.Errorf("attached containerId = %q, want full ID", attached.ContainerID)
	}

	var replayed []byte
	for range coord.replay {
		out := readUntil(t, conn, msgOutput)
		data, err := base64.StdEncoding.DecodeString(out.Data)
		if err != nil {
			t.Fatalf("decode output: %v", err)
		}
		replayed = append(replayed, data...)
	}
	if string(replayed) != "$ make build\nok\n" {
		t.Errorf("replay = %q", replayed)
	}
}

func TestAttachFailureBecomesErrorEvent(t *testing.T) {
	coord := newFakeCoord()
	coord.attachErr = errors.New("container not found")
	conn := dial(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgAttach, ContainerID: "nope"})

	msg := readUntil(t, conn, msgError)
	if !strings.Contains(msg.Message, "container not found") {
		t.Errorf("error message = %q", msg.Message)
	}
}

func TestLiveOutputFlowsToViewer(t *testing.T) {
	coord := newFakeCoord()
	conn := dial(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgAttach, ContainerID: "0123"})
	readUntil(t, conn, msgAttached)

	viewer := coord.attachedViewer()
	if viewer == nil {
		t.Fatal("no viewer registered")
	}
	viewer.Output([]byte("hello from container\r\n"))

	out := readUntil(t, conn, msgOutput)
	data, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(data) != "hello from container\r\n" {
		t.Errorf("output = %q", data)
	}
}

func TestInputForwardedDecoded(t *testing.T) {
	coord := newFakeCoord()
	conn := dial(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgAttach, ContainerID: "0123"})
	readUntil(t, conn, msgAttached)

	sendMsg(t, conn, inboundMessage{
		Type: msgInput,
		Data: base64.StdEncoding.EncodeToString([]byte("ls -la\r")),
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		coord.mu.Lock()
		n := len(coord.inputs)
		coord.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	coord.mu.Lock()
	defer coord.mu.Unlock()
	if len(coord.inputs) != 1 || string(coord.inputs[0]) != "ls -la\r" {
		t.Errorf("inputs = %q", coord.inputs)
	}
}

func TestMalformedInputRejected(t *testing.T) {
	coord := newFakeCoord()
	conn := dial(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgInput, Data: "not!!base64"})

	msg := readUntil(t, conn, msgError)
	if !strings.Contains(msg.Message, "malformed") {
		t.Errorf("error message = %q", msg.Message)
	}
}

func TestCommitSyncsFirstThenReportsSuccess(t *testing.T) {
	coord := newFakeCoord()
	conn := dial(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgCommitChanges, ContainerID: "0123", CommitMessage: "Apply changes"})

	readUntil(t, conn, msgCommitSuccess)

	coord.mu.Lock()
	defer coord.mu.Unlock()
	if len(coord.syncs) != 1 {
		t.Errorf("commit should trigger a sync first, got %v", coord.syncs)
	}
}

func TestCommitFailureReportsError(t *testing.T) {
	coord := newFakeCoord()
	coord.commitErr = errors.New("commit message cannot be empty")
	conn := dial(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgCommitChanges, ContainerID: "0123"})

	msg := readUntil(t, conn, msgCommitError)
	if !strings.Contains(msg.Message, "cannot be empty") {
		t.Errorf("commit-error message = %q", msg.Message)
	}
}

func TestPushFailureReportsError(t *testing.T) {
	coord := newFakeCoord()
	coord.pushErr = errors.New("no origin remote configured")
	conn := dial(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgPushChanges, ContainerID: "0123", BranchName: "feature"})

	msg := readUntil(t, conn, msgPushError)
	if !strings.Contains(msg.Message, "no origin remote") {
		t.Errorf("push-error message = %q", msg.Message)
	}
}

func TestSyncCompleteFansOutToViewers(t *testing.T) {
	coord := newFakeCoord()
	conn, srv := dialWithServer(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgAttach, ContainerID: "0123"})
	readUntil(t, conn, msgAttached)

	srv.SyncComplete(coord.containerID, "/tmp/shadow", &git.ChangeSet{
		HasChanges: true,
		Summary:    "2 modified, 1 untracked",
		Diff:       "diff --git a/main.go b/main.go\n",
	})

	msg := readUntil(t, conn, msgSyncComplete)
	if msg.HasChanges == nil || !*msg.HasChanges {
		t.Error("hasChanges should be true")
	}
	if msg.Summary != "2 modified, 1 untracked" {
		t.Errorf("summary = %q", msg.Summary)
	}
	diff, err := base64.StdEncoding.DecodeString(msg.DiffData)
	if err != nil || !strings.Contains(string(diff), "diff --git") {
		t.Errorf("diffData = %q, %v", diff, err)
	}
}

func TestSyncFailureFansOutToViewers(t *testing.T) {
	coord := newFakeCoord()
	conn, srv := dialWithServer(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgAttach, ContainerID: "0123"})
	readUntil(t, conn, msgAttached)

	srv.SyncFailed(coord.containerID, errors.New("rsync exited 23"))

	msg := readUntil(t, conn, msgSyncError)
	if !strings.Contains(msg.Message, "rsync exited 23") {
		t.Errorf("sync-error message = %q", msg.Message)
	}
}

func TestUnknownMessageType(t *testing.T) {
	coord := newFakeCoord()
	conn := dial(t, coord)

	sendMsg(t, conn, inboundMessage{Type: "frobnicate"})

	msg := readUntil(t, conn, msgError)
	if !strings.Contains(msg.Message, "unknown message type") {
		t.Errorf("error message = %q", msg.Message)
	}
}

func TestSecondAttachRejected(t *testing.T) {
	coord := newFakeCoord()
	conn := dial(t, coord)

	sendMsg(t, conn, inboundMessage{Type: msgAttach, ContainerID: "0123"})
	readUntil(t, conn, msgAttached)

	sendMsg(t, conn, inboundMessage{Type: msgAttach, ContainerID: "0123"})
	msg := readUntil(t, conn, msgError)
	if !strings.Contains(msg.Message, "already attached") {
		t.Errorf("error message = %q", msg.Message)
	}
}
