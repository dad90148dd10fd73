package watch

import "github.com/quanteckio/omni-email/models"

// eventBuffer bounds how many undelivered events a single subscriber can
// accumulate before publication starts dropping for it. Spec §4.5 requires
// non-blocking, best-effort delivery and forbids unbounded buffering.
const eventBuffer = 16

// PushHandle is one subscriber's channel into a Watcher's event stream,
// held for the lifetime of one SSE response.
type PushHandle struct {
	ID     string
	Events chan models.Event
	closed chan struct{}
}

// NewPushHandle allocates a handle identified by id (typically a fresh
// UUID minted by the handler for the lifetime of the stream).
func NewPushHandle(id string) *PushHandle {
	return &PushHandle{
		ID:     id,
		Events: make(chan models.Event, eventBuffer),
		closed: make(chan struct{}),
	}
}

// send is non-blocking: a full or closed handle simply drops the event,
// never stalling the Watcher's publication loop.
func (h *PushHandle) send(evt models.Event) {
	select {
	case <-h.closed:
		return
	default:
	}
	select {
	case h.Events <- evt:
	default:
	}
}

// Close signals the handler goroutine reading Events that no more will
// arrive; safe to call more than once.
func (h *PushHandle) Close() {
	select {
	case <-h.closed:
	default:
		close(h.closed)
		close(h.Events)
	}
}
