package server

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhubert/drydock/logger"
)

const (
	// sendBufferSize bounds the per-viewer outbound queue. A viewer that
	// can't drain this many messages is dropped-from, not waited-on.
	sendBufferSize = 256

	writeWait = 10 * time.Second
)

// wsViewer adapts one WebSocket connection to the session.Viewer interface.
// All writes to the socket go through the buffered send channel and a single
// write pump goroutine.
type wsViewer struct {
	id   string
	conn *websocket.Conn

	sendCh chan []byte
	done   chan struct{}
	once   sync.Once

	// Live output is held back until the replay has been queued, so a chunk
	// arriving during attach can't jump ahead of history.
	mu      sync.Mutex
	live    bool
	pending [][]byte
}

func newWSViewer(id string, conn *websocket.Conn) *wsViewer {
	return &wsViewer{
		id:     id,
		conn:   conn,
		sendCh: make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// ID implements session.Viewer.
func (v *wsViewer) ID() string {
	return v.id
}

// Output implements session.Viewer. Runs on the session's read loop, so it
// must never block: a full send buffer drops the chunk.
func (v *wsViewer) Output(p []byte) {
	v.mu.Lock()
	if !v.live {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		v.pending = append(v.pending, chunk)
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()

	v.enqueueOutput(p)
}

// beginLive queues the attach confirmation and history replay, then releases
// any output that arrived while the replay was being queued.
func (v *wsViewer) beginLive(containerID string, replay [][]byte) {
	v.send(outboundMessage{Type: msgAttached, ContainerID: containerID})
	for _, chunk := range replay {
		v.enqueueOutput(chunk)
	}

	v.mu.Lock()
	pending := v.pending
	v.pending = nil
	v.live = true
	v.mu.Unlock()

	for _, chunk := range pending {
		v.enqueueOutput(chunk)
	}
}

// SessionEnded implements session.Viewer.
func (v *wsViewer) SessionEnded(containerID string) {
	v.send(outboundMessage{Type: msgContainerDisconnected, ContainerID: containerID})
}

func (v *wsViewer) enqueueOutput(p []byte) {
	v.send(outboundMessage{
		Type: msgOutput,
		Data: base64.StdEncoding.EncodeToString(p),
	})
}

func (v *wsViewer) sendError(message string) {
	v.send(outboundMessage{Type: msgError, Message: message})
}

// send queues a message for the write pump. Dropped when the viewer can't
// keep up or is gone.
func (v *wsViewer) send(msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case v.sendCh <- data:
	case <-v.done:
	default:
		logger.WithComponent("server").Warn("viewer send buffer full, dropping message", "viewerID", v.id, "type", msg.Type)
	}
}

// writePump drains the send channel onto the socket. On write failure it
// signals done so the read loop exits immediately instead of waiting for a
// read deadline.
func (v *wsViewer) writePump() {
	defer func() {
		v.close()
		v.conn.Close()
	}()

	for {
		select {
		case data, ok := <-v.sendCh:
			if !ok {
				return
			}
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.WithComponent("server").Debug("viewer write failed", "viewerID", v.id, "error", err)
				return
			}
		case <-v.done:
			return
		}
	}
}

func (v *wsViewer) close() {
	v.once.Do(func() { close(v.done) })
}
