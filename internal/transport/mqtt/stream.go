package mqtt

import (
	"sync"

	"github.com/larsks/switchsync/internal/transport"
)

const replyBuffer = 16

// replyStream collects query replies. Sends after close are dropped, as are
// replies beyond the buffer; callers only need the first few.
type replyStream struct {
	mu     sync.Mutex
	closed bool
	ch     chan transport.Message
}

func newReplyStream() *replyStream {
	return &replyStream{ch: make(chan transport.Message, replyBuffer)}
}

func (r *replyStream) send(msg transport.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- msg:
	default:
	}
}

func (r *replyStream) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}
