package watch

import (
	"sync"

	"github.com/quanteckio/omni-email/models"
)

// Registry is the process-wide accountId -> Watcher map described in spec
// §4.4/I1, mutated only through this type's methods under a single mutex —
// the "one owner" approach spec §5 prefers over per-field locking.
type Registry struct {
	mu       sync.Mutex
	watchers map[string]*Watcher
	lookup   SecretLookup
}

func NewRegistry(lookup SecretLookup) *Registry {
	return &Registry{watchers: make(map[string]*Watcher), lookup: lookup}
}

// Attach ensures a Watcher exists for accountID, hands the handle
// SSEReady, and only then registers it as a subscriber — spec §8 scenario
// 4's wire order has SSEReady arrive first, WatcherReady (a Watching
// entry action fired later, on the Watcher's own goroutine) second.
// Sending SSEReady before the handle is even registered is safe: it goes
// straight onto handle.Events, the same FIFO channel every later event
// for this handle is enqueued onto, so it is necessarily first in line.
func (r *Registry) Attach(accountID string, handle *PushHandle) {
	w := r.ensure(accountID)
	handle.send(models.SSEReady(accountID))
	w.Attach(handle)
}

// Detach removes handleID from accountID's Watcher, if one exists.
func (r *Registry) Detach(accountID, handleID string) {
	r.mu.Lock()
	w := r.watchers[accountID]
	r.mu.Unlock()
	if w != nil {
		w.Detach(handleID)
	}
}

// Start pins a Watcher for accountID, creating it if needed (watch/start).
func (r *Registry) Start(accountID string) {
	w := r.ensure(accountID)
	w.Pin()
}

// StopExplicit unpins accountID's Watcher (watch/stop). If it has no
// subscribers either, it tears down after the idle-grace window like any
// other empty Watcher.
func (r *Registry) StopExplicit(accountID string) {
	r.mu.Lock()
	w := r.watchers[accountID]
	r.mu.Unlock()
	if w != nil {
		w.Unpin()
	}
}

// Remove unconditionally tears down accountID's Watcher, used by account
// delete (spec §7's delete-cascade, P7).
func (r *Registry) Remove(accountID string) {
	r.mu.Lock()
	w := r.watchers[accountID]
	r.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

func (r *Registry) ensure(accountID string) *Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.watchers[accountID]; ok {
		return w
	}
	w := newWatcher(accountID, r.lookup, r.forget)
	r.watchers[accountID] = w
	w.Start()
	return w
}

// forget is the Watcher's onEmpty callback: once its run loop exits (idle
// timeout, explicit Stop, or an unrecoverable error, whatever the pin and
// subscriber state),
// it removes itself from the registry so the next Attach/Start creates a
// fresh Watcher rather than reusing a dead one.
func (r *Registry) forget(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watchers, accountID)
}
