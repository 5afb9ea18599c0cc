// Package server exposes Drydock sessions to viewers over WebSocket. One
// connection carries one viewer: terminal output, sync results, and the
// commit/push review workflow all travel as typed JSON envelopes.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhubert/drydock/git"
	"github.com/zhubert/drydock/logger"
	"github.com/zhubert/drydock/session"
)

// Coordinator is the surface the server needs from the manager layer.
type Coordinator interface {
	AttachViewer(ctx context.Context, nameOrID string, v session.Viewer, cols, rows uint) (*session.AttachResult, error)
	DetachViewer(viewerID string)
	ForwardInput(viewerID string, p []byte)
	ResizeTerminal(ctx context.Context, viewerID string, cols, rows uint)
	TriggerSync(ctx context.Context, containerID string)
	Commit(ctx context.Context, containerID, message string) error
	Push(ctx context.Context, containerID, branch string) error
	ViewersOf(containerID string) []session.Viewer
}

// Server serves the viewer WebSocket endpoint and relays sync outcomes to
// attached viewers.
type Server struct {
	addr     string
	coord    Coordinator
	upgrader websocket.Upgrader
}

// New creates a server bound to addr.
func New(addr string, coord Coordinator) *Server {
	return &Server{
		addr:  addr,
		coord: coord,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Drydock binds to loopback; the browser client runs from
			// file:// or a dev server, so origin checking is moot.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the /ws endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Run serves until ctx is canceled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{Addr: s.addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.WithComponent("server").Info("listening", "addr", s.addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("server").Warn("websocket upgrade failed", "error", err)
		return
	}

	viewer := newWSViewer(uuid.NewString(), conn)
	log := logger.WithComponent("server")
	log.Info("viewer connected", "viewerID", viewer.ID(), "remote", r.RemoteAddr)

	go viewer.writePump()
	defer func() {
		s.coord.DetachViewer(viewer.ID())
		viewer.close()
		conn.Close()
		log.Info("viewer disconnected", "viewerID", viewer.ID())
	}()

	s.readLoop(r.Context(), viewer)
}

func (s *Server) readLoop(ctx context.Context, viewer *wsViewer) {
	attached := false
	for {
		var msg inboundMessage
		if err := viewer.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithComponent("server").Debug("viewer read failed", "viewerID", viewer.ID(), "error", err)
			}
			return
		}

		switch msg.Type {
		case msgAttach:
			if attached {
				viewer.sendError("already attached")
				continue
			}
			res, err := s.coord.AttachViewer(ctx, msg.ContainerID, viewer, msg.Cols, msg.Rows)
			if err != nil {
				viewer.sendError(fmt.Sprintf("attach failed: %v", err))
				continue
			}
			attached = true
			viewer.beginLive(res.ContainerID, res.Replay)

		case msgInput:
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				viewer.sendError("malformed input payload")
				continue
			}
			s.coord.ForwardInput(viewer.ID(), data)

		case msgResize:
			s.coord.ResizeTerminal(ctx, viewer.ID(), msg.Cols, msg.Rows)

		case msgCommitChanges:
			go s.handleCommit(viewer, msg.ContainerID, msg.CommitMessage)

		case msgPushChanges:
			go s.handlePush(viewer, msg.ContainerID, msg.BranchName)

		default:
			viewer.sendError("unknown message type: " + msg.Type)
		}
	}
}

// handleCommit syncs the latest container state, then commits the shadow.
// Runs off the read loop so a slow sync doesn't stall input handling.
func (s *Server) handleCommit(viewer *wsViewer, containerID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s.coord.TriggerSync(ctx, containerID)
	if err := s.coord.Commit(ctx, containerID, message); err != nil {
		viewer.send(outboundMessage{Type: msgCommitError, Message: err.Error()})
		return
	}
	viewer.send(outboundMessage{Type: msgCommitSuccess})
}

func (s *Server) handlePush(viewer *wsViewer, containerID, branch string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.coord.Push(ctx, containerID, branch); err != nil {
		viewer.send(outboundMessage{Type: msgPushError, Message: err.Error()})
		return
	}
	viewer.send(outboundMessage{Type: msgPushSuccess})
}

// SyncComplete implements syncer.Notifier: every viewer attached to the
// container gets the fresh change summary and diff.
func (s *Server) SyncComplete(containerID, _ string, cs *git.ChangeSet) {
	hasChanges := cs.HasChanges
	msg := outboundMessage{
		Type:        msgSyncComplete,
		ContainerID: containerID,
		HasChanges:  &hasChanges,
		Summary:     cs.Summary,
		DiffData:    base64.StdEncoding.EncodeToString([]byte(cs.Diff)),
	}
	s.fanOut(containerID, msg)
}

// SyncFailed implements syncer.Notifier.
func (s *Server) SyncFailed(containerID string, err error) {
	s.fanOut(containerID, outboundMessage{
		Type:        msgSyncError,
		ContainerID: containerID,
		Message:     err.Error(),
	})
}

func (s *Server) fanOut(containerID string, msg outboundMessage) {
	for _, v := range s.coord.ViewersOf(containerID) {
		if wv, ok := v.(*wsViewer); ok {
			wv.send(msg)
		}
	}
}
