package session

import "sync"

// history is a bounded buffer of output chunks for late-joiner replay.
// Chunks are retained in arrival order; once the total buffered bytes
// exceed the limit, the oldest chunks are evicted one at a time until the
// buffer fits again.
type history struct {
	mu     sync.Mutex
	chunks [][]byte
	total  int
	limit  int
}

func newHistory(limit int) *history {
	return &history{limit: limit}
}

// Append records a copy of p and evicts oldest-first past the byte limit.
func (h *history) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.chunks = append(h.chunks, chunk)
	h.total += len(chunk)

	for h.total > h.limit && len(h.chunks) > 0 {
		h.total -= len(h.chunks[0])
		h.chunks[0] = nil
		h.chunks = h.chunks[1:]
	}
}

// Snapshot returns copies of the buffered chunks in order.
func (h *history) Snapshot() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([][]byte, len(h.chunks))
	for i, c := range h.chunks {
		cp := make([]byte, len(c))
		copy(cp, c)
		out[i] = cp
	}
	return out
}

// Size returns the total buffered bytes.
func (h *history) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
