// Package watch implements the IMAP Watcher and Subscriber Registry: the
// per-account long-lived IMAP connection that survives idle periods,
// UID-based incremental discovery, and fan-out of notifications to
// concurrently attached push clients. The IDLE mechanics are grounded on
// the go-imap client's native Idle/Updates support, the pattern demonstrated
// end-to-end in pdonadeo's go-cervino notifier.
package watch

import (
	"fmt"
	"log"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/quanteckio/omni-email/mail"
	"github.com/quanteckio/omni-email/models"
)

// State is one of the Watcher's state-machine states.
type State string

const (
	StateIdle       State = "Idle"
	StateConnecting State = "Connecting"
	StateSelecting  State = "Selecting"
	StateWatching   State = "Watching"
	StateFetching   State = "Fetching"
	StateFailed     State = "Failed"
	StateStopping   State = "Stopping"
)

const (
	idleGrace      = 60 * time.Second
	keepaliveEvery = 5 * time.Minute
)

// SecretLookup resolves an accountId to the IMAP settings needed to open
// a connection, without the watch package needing to know how accounts
// are stored or decrypted.
type SecretLookup func(accountID string) (models.ServerSettings, error)

// command is a serialized mutation request delivered to the Watcher's own
// goroutine, per spec §5's preference for "the Watcher owns its state, all
// interactions are messages" over ad-hoc per-field locking.
type command struct {
	kind     commandKind
	handle   *PushHandle
	handleID string
	done     chan struct{}
}

type commandKind int

const (
	cmdAttach commandKind = iota
	cmdDetach
	cmdPin
	cmdUnpin
	cmdStop
)

// Watcher is the per-account state machine described in spec §4.4. All
// mutable state is owned by the run goroutine; every external interaction
// goes through the commands channel.
type Watcher struct {
	accountID string
	lookup    SecretLookup
	onEmpty   func(accountID string) // registry callback, fires once run() exits

	commands chan command
	stopped  chan struct{}

	state       State
	client      *client.Client
	lastUid     uint32
	subscribers map[string]*PushHandle
	pinned      bool
}

func newWatcher(accountID string, lookup SecretLookup, onEmpty func(string)) *Watcher {
	return &Watcher{
		accountID:   accountID,
		lookup:      lookup,
		onEmpty:     onEmpty,
		commands:    make(chan command, 8),
		stopped:     make(chan struct{}),
		state:       StateIdle,
		subscribers: make(map[string]*PushHandle),
	}
}

// Start launches the Watcher's own goroutine. Must be called once.
func (w *Watcher) Start() {
	go w.run()
}

// Attach blocks until h is registered as a subscriber, so a caller is
// guaranteed the Watcher would deliver any event published from this point
// on. It never sends WatcherReady itself — that is an entry action fired
// once by connectAndWatch's transition into Watching, not per attach.
func (w *Watcher) Attach(h *PushHandle) {
	done := make(chan struct{})
	select {
	case w.commands <- command{kind: cmdAttach, handle: h, done: done}:
	case <-w.stopped:
		return
	}
	select {
	case <-done:
	case <-w.stopped:
	}
}

// Detach blocks until the command has been processed, so the caller can
// safely close the handle's channel immediately afterwards without racing
// the Watcher's own publish loop. A Watcher that fails before it ever
// reaches its command-processing loop (see connectAndWatch) can close
// stopped with this command still sitting unprocessed in the buffer, so
// the wait for done is itself bounded by stopped too.
func (w *Watcher) Detach(handleID string) {
	done := make(chan struct{})
	select {
	case w.commands <- command{kind: cmdDetach, handleID: handleID, done: done}:
	case <-w.stopped:
		return
	}
	select {
	case <-done:
	case <-w.stopped:
	}
}

// Pin keeps the Watcher alive with no subscribers, used by watch/start.
func (w *Watcher) Pin() {
	w.send(command{kind: cmdPin})
}

// Unpin releases the pin set by Pin, used by watch/stop.
func (w *Watcher) Unpin() {
	w.send(command{kind: cmdUnpin})
}

// Stop tears the Watcher down unconditionally, used by account delete. It
// returns once run has exited, which is after onEmpty has run.
func (w *Watcher) Stop() {
	done := make(chan struct{})
	select {
	case w.commands <- command{kind: cmdStop, done: done}:
	case <-w.stopped:
		return
	}
	<-w.stopped
}

func (w *Watcher) send(c command) {
	select {
	case w.commands <- c:
	case <-w.stopped:
	}
}

// run is the Watcher's single-threaded owner loop. It blocks on IMAP I/O
// (dial, select, fetch) inline — spec §4.4's concurrency rule limits a
// Watcher to one Fetching pass at a time, and a single goroutine gives that
// for free instead of needing an explicit lock. A Watcher never retries a
// failure internally: spec §7 has it self-recover only insofar as the next
// subscription (or watch/start) rebuilds the state machine from scratch, so
// one connect/select/watch cycle is all run ever does.
func (w *Watcher) run() {
	defer close(w.stopped)
	defer w.onEmpty(w.accountID)

	w.connectAndWatch()
}

// fail publishes an Error event — draining any command already buffered
// first, so an Attach racing Start sees itself registered before the event
// goes out — then marks the Watcher Stopping. Every failure path in
// connectAndWatch ends here instead of retrying.
func (w *Watcher) fail(reason string) {
	w.drainPendingCommands()
	w.state = StateFailed
	w.publish(models.ErrorEvent(reason))
	w.state = StateStopping
}

// drainPendingCommands applies every command already sitting in the
// buffer, without blocking, so a fail() immediately after a lookup/dial/
// select failure still reflects an Attach sent right after Start. It reports
// whether a Stop was among the drained commands.
func (w *Watcher) drainPendingCommands() (stopRequested bool) {
	for {
		select {
		case cmd := <-w.commands:
			switch cmd.kind {
			case cmdAttach:
				w.subscribers[cmd.handle.ID] = cmd.handle
				if cmd.done != nil {
					close(cmd.done)
				}
			case cmdDetach:
				delete(w.subscribers, cmd.handleID)
				if cmd.done != nil {
					close(cmd.done)
				}
			case cmdPin:
				w.pinned = true
			case cmdUnpin:
				w.pinned = false
			case cmdStop:
				stopRequested = true
				if cmd.done != nil {
					close(cmd.done)
				}
			}
		default:
			return stopRequested
		}
	}
}

// connectAndWatch runs one connect/select/watch/fetch cycle until the
// connection drops, an explicit Stop arrives, or idle-grace expires with no
// subscribers.
func (w *Watcher) connectAndWatch() {
	w.state = StateConnecting
	settings, err := w.lookup(w.accountID)
	if err != nil {
		log.Printf("watch[%s]: lookup failed: %v", w.accountID, err)
		w.fail(err.Error())
		return
	}

	c, err := mail.DialIMAP(settings)
	if err != nil {
		log.Printf("watch[%s]: dial failed: %v", w.accountID, err)
		w.fail(err.Error())
		return
	}
	w.client = c
	defer func() {
		w.client.Logout()
		w.client = nil
	}()

	w.state = StateSelecting
	mbox, err := c.Select("INBOX", true)
	if err != nil {
		log.Printf("watch[%s]: select failed: %v", w.accountID, err)
		w.fail(err.Error())
		return
	}
	if mbox.UidNext > 0 {
		w.lastUid = mbox.UidNext - 1
	} else {
		w.lastUid = 0
	}

	updates := make(chan client.Update, 32)
	c.Updates = updates

	// Apply any Attach/Detach/Pin sitting in the buffer before the
	// Watching entry action fires, so the subscriber that caused this
	// Watcher to be created in the first place is part of "whichever
	// subscriber set exists at that moment" below rather than missing the
	// one-time WatcherReady entirely. A Stop sent while connecting ends the
	// Watcher here.
	if w.drainPendingCommands() {
		w.state = StateStopping
		return
	}
	w.state = StateWatching
	w.publish(models.WatcherReady(w.accountID))

	idleStop, idleDone := w.startIdle()

	idleGraceTimer := newStoppedTimer()
	keepaliveTimer := time.NewTimer(keepaliveEvery)
	defer keepaliveTimer.Stop()
	defer stopTimer(idleGraceTimer)

	if len(w.subscribers) == 0 && !w.pinned {
		idleGraceTimer.Reset(idleGrace)
	}

	for {
		select {
		case cmd := <-w.commands:
			switch cmd.kind {
			case cmdAttach:
				// WatcherReady is an entry action fired once when the
				// Watcher first reaches Watching, not on every attach — a
				// subscriber joining an already-running Watcher only gets
				// registered here, it does not get a synthetic replay.
				w.subscribers[cmd.handle.ID] = cmd.handle
				stopTimer(idleGraceTimer)
				if cmd.done != nil {
					close(cmd.done)
				}

			case cmdDetach:
				delete(w.subscribers, cmd.handleID)
				if len(w.subscribers) == 0 && !w.pinned {
					idleGraceTimer.Reset(idleGrace)
				}
				if cmd.done != nil {
					close(cmd.done)
				}

			case cmdPin:
				w.pinned = true
				stopTimer(idleGraceTimer)

			case cmdUnpin:
				w.pinned = false
				if len(w.subscribers) == 0 {
					idleGraceTimer.Reset(idleGrace)
				}

			case cmdStop:
				w.stopIdle(idleStop, idleDone)
				close(cmd.done)
				return
			}

		case update := <-updates:
			w.stopIdle(idleStop, idleDone)
			switch update.(type) {
			case *client.MailboxUpdate:
				w.state = StateFetching
				if err := w.fetchNew(c); err != nil {
					log.Printf("watch[%s]: fetch failed: %v", w.accountID, err)
					w.fail(err.Error())
					return
				}
				w.state = StateWatching
			case *client.ExpungeUpdate:
				// sequence numbers shift; UID bookkeeping is untouched.
			}
			idleStop, idleDone = w.startIdle()

		case err := <-idleDone:
			reason := "imap idle ended"
			if err != nil {
				reason = err.Error()
			}
			log.Printf("watch[%s]: connection lost: %s", w.accountID, reason)
			w.fail(reason)
			return

		case <-keepaliveTimer.C:
			w.stopIdle(idleStop, idleDone)
			idleStop, idleDone = w.startIdle()
			keepaliveTimer.Reset(keepaliveEvery)

		case <-idleGraceTimer.C:
			w.state = StateStopping
			w.stopIdle(idleStop, idleDone)
			return
		}
	}
}

func (w *Watcher) startIdle() (chan struct{}, chan error) {
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- w.client.Idle(stop, nil) }()
	return stop, done
}

func (w *Watcher) stopIdle(stop chan struct{}, done chan error) {
	close(stop)
	<-done
}

// fetchNew fetches every UID strictly greater than lastUid, publishing one
// EmailReceived per message in increasing UID order (P4), then raises
// lastUid. UID-based ranges are used specifically because sequence numbers
// shift under expunge (spec §4.4).
func (w *Watcher) fetchNew(c *client.Client) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(w.lastUid+1, 0) // 0 means "*", the highest UID present

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid}
	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() { done <- c.UidFetch(seqSet, items, messages) }()

	var metas []models.MsgMeta
	for msg := range messages {
		if msg.Uid <= w.lastUid {
			continue // UidFetch with "*" upper bound can re-yield the boundary message
		}
		meta := models.MsgMeta{UID: msg.Uid, Flags: msg.Flags}
		if msg.Envelope != nil {
			meta.Subject = msg.Envelope.Subject
			meta.Date = msg.Envelope.Date
			meta.From = addressStrings(msg.Envelope.From)
			meta.To = addressStrings(msg.Envelope.To)
		}
		metas = append(metas, meta)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("uid fetch: %w", err)
	}

	sortMetasByUID(metas)
	for _, meta := range metas {
		w.publish(models.EmailReceived(w.accountID, meta))
		if meta.UID > w.lastUid {
			w.lastUid = meta.UID
		}
	}
	return nil
}

// publish fans out evt to every attached subscriber. A slow or broken
// subscriber never blocks the others (spec §4.5, §5 backpressure rule).
func (w *Watcher) publish(evt models.Event) {
	for _, h := range w.subscribers {
		h.send(evt)
	}
}

func addressStrings(addrs []*imap.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a != nil {
			out = append(out, a.Address())
		}
	}
	return out
}

func sortMetasByUID(metas []models.MsgMeta) {
	for i := 1; i < len(metas); i++ {
		for j := i; j > 0 && metas[j].UID < metas[j-1].UID; j-- {
			metas[j], metas[j-1] = metas[j-1], metas[j]
		}
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
