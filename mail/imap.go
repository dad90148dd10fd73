package mail

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/quanteckio/omni-email/models"
)

// The IMAP stack uses a distinct timeout per phase instead of one reused
// value: connectTimeout+greetingTimeout bound the dial (the library reads
// the server greeting synchronously inside Dial/DialTLS, so the two are
// enforced together as a single deadline around that call), socketTimeout
// bounds the persistent Watcher connection's idle/command I/O once logged
// in, and fetchTimeout/listFetchTimeout bound a single Lister call's socket
// activity for fetchOne and listRecent respectively.
const (
	connectTimeout   = 30 * time.Second
	greetingTimeout  = 15 * time.Second
	socketTimeout    = 60 * time.Second
	fetchTimeout     = 30 * time.Second
	listFetchTimeout = 45 * time.Second
)

// dialIMAP connects and logs in per settings.Connection, generalizing the
// teacher's client.go NewClient (which only ever called DialTLS) to also
// support STARTTLS via a plaintext Dial followed by an upgrade. The dial
// itself runs on its own goroutine so it can be bounded by
// connectTimeout+greetingTimeout even though the client package exposes no
// per-phase deadline of its own; socketDeadline becomes c.Timeout for
// every command issued afterwards.
func dialIMAP(settings models.ServerSettings, socketDeadline time.Duration) (*client.Client, error) {
	if err := settings.Validate("imap"); err != nil {
		return nil, err
	}

	type dialResult struct {
		c   *client.Client
		err error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		var c *client.Client
		var err error
		switch settings.Connection {
		case models.ConnTLS:
			c, err = client.DialTLS(settings.Addr(), &tls.Config{ServerName: settings.Host})
		case models.ConnSTARTTLS:
			c, err = client.Dial(settings.Addr())
			if err == nil {
				if terr := c.StartTLS(&tls.Config{ServerName: settings.Host}); terr != nil {
					c.Logout()
					c, err = nil, fmt.Errorf("mail: IMAP STARTTLS failed: %w", terr)
				}
			}
		default:
			err = fmt.Errorf("mail: unknown connection mode %q", settings.Connection)
		}
		resultCh <- dialResult{c, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("mail: IMAP dial failed: %w", res.err)
		}
		c := res.c
		c.Timeout = socketDeadline
		if err := c.Login(settings.Username, settings.Password); err != nil {
			c.Logout()
			return nil, fmt.Errorf("mail: IMAP login failed: %w", err)
		}
		return c, nil

	case <-time.After(connectTimeout + greetingTimeout):
		go func() {
			if res := <-resultCh; res.c != nil {
				res.c.Logout()
			}
		}()
		return nil, fmt.Errorf("mail: IMAP connect timed out waiting for greeting")
	}
}

// DialIMAP opens a connection bounded by socketTimeout for its ongoing
// socket I/O, used by the connectivity check and by the Watcher's
// persistent, IDLE-capable connection.
func DialIMAP(settings models.ServerSettings) (*client.Client, error) {
	return dialIMAP(settings, socketTimeout)
}

// Verify dials, logs in, and disconnects, used by account creation's
// optional connectivity test and the /test endpoint.
func Verify(settings models.ServerSettings) error {
	c, err := DialIMAP(settings)
	if err != nil {
		return err
	}
	return c.Logout()
}

// Lister performs the transient listRecent/fetchOne operations of spec
// §4.6 against an account's INBOX, opening and closing a connection per
// call — the persistent watch is a separate connection owned by package
// watch.
type Lister struct{}

func NewLister() *Lister { return &Lister{} }

// ListRecent selects INBOX read-only and returns metadata for recent
// messages, oldest first. With since nil it searches by the UID range
// max(1, uidNext-1 - limit*5) : uidNext-1, trimmed to the newest limit
// results after fetching — UID-based, never sequence-number-based, since
// sequence numbers shift under expunge. With since set it instead runs a
// SINCE UidSearch and fetches exactly the UIDs it returns, per the search
// pattern CrawX-go-imap-assassin's imapconnection package uses
// (imap.NewSearchCriteria + Client.UidSearch).
func (l *Lister) ListRecent(settings models.ServerSettings, limit uint32, since *time.Time) ([]models.MsgMeta, error) {
	if limit == 0 {
		limit = 20
	}

	c, err := dialIMAP(settings, listFetchTimeout)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("mail: select INBOX failed: %w", err)
	}
	if mbox.Messages == 0 {
		return []models.MsgMeta{}, nil
	}

	seqSet := new(imap.SeqSet)
	if since != nil {
		criteria := imap.NewSearchCriteria()
		criteria.Since = *since
		uids, err := c.UidSearch(criteria)
		if err != nil {
			return nil, fmt.Errorf("mail: uid search failed: %w", err)
		}
		if len(uids) == 0 {
			return []models.MsgMeta{}, nil
		}
		for _, uid := range uids {
			seqSet.AddNum(uid)
		}
	} else {
		if mbox.UidNext == 0 {
			return []models.MsgMeta{}, nil
		}
		upper := mbox.UidNext - 1
		lower := uint32(1)
		if span := limit * 5; upper > span {
			lower = upper - span
		}
		seqSet.AddRange(lower, upper)
	}

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchInternalDate}
	messages := make(chan *imap.Message, 64)
	done := make(chan error, 1)
	go func() { done <- c.UidFetch(seqSet, items, messages) }()

	var metas []models.MsgMeta
	for msg := range messages {
		metas = append(metas, metaFromMessage(msg))
	}
	if err := <-done; err != nil {
		return metas, fmt.Errorf("mail: fetch failed: %w", err)
	}

	sortMetasByUID(metas)
	if uint32(len(metas)) > limit {
		metas = metas[uint32(len(metas))-limit:]
	}
	return metas, nil
}

// FetchOne selects INBOX read-only and fetches the full message body plus
// structure for uid, parsing MIME and sanitizing HTML per spec §4.6.
func (l *Lister) FetchOne(settings models.ServerSettings, uid uint32) (models.MessageDetail, error) {
	c, err := dialIMAP(settings, fetchTimeout)
	if err != nil {
		return models.MessageDetail{}, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", true); err != nil {
		return models.MessageDetail{}, fmt.Errorf("mail: select INBOX failed: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchInternalDate,
		imap.FetchBodyStructure, section.FetchItem(),
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- c.UidFetch(seqSet, items, messages) }()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}
	if err := <-done; err != nil {
		return models.MessageDetail{}, fmt.Errorf("mail: fetch failed: %w", err)
	}
	if msg == nil {
		return models.MessageDetail{}, ErrMessageNotFound
	}

	return buildMessageDetail(msg, section)
}

func metaFromMessage(msg *imap.Message) models.MsgMeta {
	meta := models.MsgMeta{UID: msg.Uid, Flags: msg.Flags, InternalDate: msg.InternalDate}
	if msg.Envelope != nil {
		meta.Subject = msg.Envelope.Subject
		meta.Date = msg.Envelope.Date
		meta.From = addressList(msg.Envelope.From)
		meta.To = addressList(msg.Envelope.To)
	}
	return meta
}

func addressList(addrs []*imap.Address) []string {
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
