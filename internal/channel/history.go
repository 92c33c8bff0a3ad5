package channel

import "github.com/JakeFAU/realtime-status-stream/internal/status"

// DefaultHistorySize bounds the number of events kept for late subscribers.
const DefaultHistorySize = 50

// history is a FIFO ring of the most recent events. It is not safe for
// concurrent use; the Manager guards it with its own mutex.
type history struct {
	buf   []status.Event
	start int
	size  int
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &history{buf: make([]status.Event, limit)}
}

func (h *history) push(evt status.Event) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = evt
		h.size++
		return
	}
	h.buf[h.start] = evt
	h.start = (h.start + 1) % len(h.buf)
}

// snapshot returns the buffered events, oldest first.
func (h *history) snapshot() []status.Event {
	out := make([]status.Event, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *history) len() int {
	return h.size
}

func (h *history) reset() {
	clear(h.buf)
	h.start = 0
	h.size = 0
}
