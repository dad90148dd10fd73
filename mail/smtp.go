// Package mail implements the transient SMTP sender and the short-lived
// IMAP operations (list/fetch) of spec §4.3 and §4.6. Every operation here
// opens a connection, does its work, and disconnects — the long-lived
// connection lives in package watch instead.
package mail

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/mail"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/quanteckio/omni-email/models"
)

// verifyTimeout bounds how long account creation's optional connectivity
// test, and the /test endpoint, wait for SMTP AUTH to complete.
const verifyTimeout = 30 * time.Second

// Sender sends and verifies mail over a Secret's SMTP settings, matching
// the teacher's handlers/api/smtpClient.go dispatch between implicit TLS and
// STARTTLS, generalized to spec's to/cc/bcc/attachments envelope shape.
type Sender struct{}

func NewSender() *Sender { return &Sender{} }

// Verify completes SMTP authentication and disconnects, used by account
// creation's optional connectivity test and the /test endpoint.
func (s *Sender) Verify(settings models.ServerSettings) error {
	client, err := s.dial(settings, verifyTimeout)
	if err != nil {
		return err
	}
	defer client.Close()
	return nil
}

// Send assembles and delivers one message. The From address is always
// settings.Username, not the account's primaryEmail — see spec §9's open
// question; this is intentional and easy to regress.
func (s *Sender) Send(settings models.ServerSettings, req models.SendRequest) (models.SendResult, error) {
	if len(req.To) == 0 {
		return models.SendResult{}, fmt.Errorf("mail: at least one recipient is required")
	}
	for _, addr := range req.To {
		if _, err := mail.ParseAddress(addr); err != nil {
			return models.SendResult{}, fmt.Errorf("mail: invalid To address %q: %w", addr, err)
		}
	}

	client, err := s.dial(settings, verifyTimeout)
	if err != nil {
		return models.SendResult{}, err
	}
	defer client.Close()

	from := settings.Username
	if err := client.Mail(from); err != nil {
		return models.SendResult{}, fmt.Errorf("mail: MAIL FROM failed: %w", err)
	}

	var accepted, rejected []string
	allRecipients := append(append(append([]string{}, req.To...), req.Cc...), req.Bcc...)
	for _, addr := range allRecipients {
		if err := client.Rcpt(addr); err != nil {
			rejected = append(rejected, addr)
			continue
		}
		accepted = append(accepted, addr)
	}
	if len(accepted) == 0 {
		return models.SendResult{}, fmt.Errorf("mail: all recipients rejected")
	}

	w, err := client.Data()
	if err != nil {
		return models.SendResult{}, fmt.Errorf("mail: DATA failed: %w", err)
	}

	messageID, err := writeMessage(w, from, req)
	if err != nil {
		return models.SendResult{}, err
	}
	if err := w.Close(); err != nil {
		return models.SendResult{}, fmt.Errorf("mail: closing DATA failed: %w", err)
	}
	if err := client.Quit(); err != nil {
		return models.SendResult{}, fmt.Errorf("mail: QUIT failed: %w", err)
	}

	return models.SendResult{MessageID: messageID, Accepted: accepted, Rejected: rejected}, nil
}

// dial connects and authenticates, dispatching on settings.Connection
// exactly as the teacher's smtpClient.go does by hand: implicit TLS on
// connect for TLS, or plaintext connect followed by a mandatory STARTTLS
// upgrade (fail closed if the server doesn't offer it).
func (s *Sender) dial(settings models.ServerSettings, timeout time.Duration) (*smtp.Client, error) {
	if err := settings.Validate("smtp"); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: timeout}

	var client *smtp.Client
	switch settings.Connection {
	case models.ConnTLS:
		conn, err := tls.DialWithDialer(dialer, "tcp", settings.Addr(), &tls.Config{ServerName: settings.Host})
		if err != nil {
			return nil, fmt.Errorf("mail: TLS dial failed: %w", err)
		}
		client, err = smtp.NewClient(conn, settings.Host)
		if err != nil {
			return nil, fmt.Errorf("mail: smtp handshake failed: %w", err)
		}
	case models.ConnSTARTTLS:
		conn, err := dialer.Dial("tcp", settings.Addr())
		if err != nil {
			return nil, fmt.Errorf("mail: dial failed: %w", err)
		}
		client, err = smtp.NewClient(conn, settings.Host)
		if err != nil {
			return nil, fmt.Errorf("mail: smtp handshake failed: %w", err)
		}
		if ok, _ := client.Extension("STARTTLS"); !ok {
			client.Close()
			return nil, fmt.Errorf("mail: server does not support STARTTLS")
		}
		if err := client.StartTLS(&tls.Config{ServerName: settings.Host}); err != nil {
			client.Close()
			return nil, fmt.Errorf("mail: STARTTLS failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("mail: unknown connection mode %q", settings.Connection)
	}

	auth := smtp.PlainAuth("", settings.Username, settings.Password, settings.Host)
	if err := client.Auth(auth); err != nil {
		client.Close()
		return nil, fmt.Errorf("mail: authentication failed: %w", err)
	}

	return client, nil
}

// writeMessage renders headers and a multipart/mixed body (with an
// alternative text/html part and base64 attachments), matching the
// teacher's smtpClient.go boundary-writing approach, generalized to the
// spec's request shape.
func writeMessage(w io.Writer, from string, req models.SendRequest) (string, error) {
	mixedBoundary := "mixed-" + boundary()
	altBoundary := "alt-" + boundary()
	messageID := fmt.Sprintf("<%d.%d@mailbox-gateway>", time.Now().UnixNano(), os.Getpid())

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(req.To, ", "))
	if len(req.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(req.Cc, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", req.Subject)
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	buf.WriteString("MIME-Version: 1.0\r\n")

	hasHTML := req.HTML != ""
	switch {
	case len(req.Attachments) > 0:
		fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixedBoundary)
		fmt.Fprintf(&buf, "--%s\r\n", mixedBoundary)
		if hasHTML {
			fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", altBoundary)
			writeAlternative(&buf, req.Text, req.HTML, altBoundary)
			fmt.Fprintf(&buf, "--%s--\r\n", altBoundary)
		} else {
			buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
			buf.WriteString(req.Text)
			buf.WriteString("\r\n")
		}
		for _, att := range req.Attachments {
			if err := writeAttachment(&buf, mixedBoundary, att); err != nil {
				return "", err
			}
		}
		fmt.Fprintf(&buf, "--%s--\r\n", mixedBoundary)
	case hasHTML:
		fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", altBoundary)
		writeAlternative(&buf, req.Text, req.HTML, altBoundary)
		fmt.Fprintf(&buf, "--%s--\r\n", altBoundary)
	default:
		buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
		buf.WriteString(req.Text)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return "", fmt.Errorf("mail: writing message body failed: %w", err)
	}
	return messageID, nil
}

func writeAlternative(w io.Writer, text, html, boundary string) {
	if text == "" {
		text = "This message contains HTML content."
	}
	fmt.Fprintf(w, "--%s\r\n", boundary)
	fmt.Fprintf(w, "Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s\r\n", text)
	fmt.Fprintf(w, "--%s\r\n", boundary)
	fmt.Fprintf(w, "Content-Type: text/html; charset=\"utf-8\"\r\n\r\n%s\r\n", html)
}

func writeAttachment(w io.Writer, boundary string, att models.AttachmentUpload) error {
	data, err := base64.StdEncoding.DecodeString(att.ContentBase64)
	if err != nil {
		return fmt.Errorf("mail: attachment %q is not valid base64: %w", att.Filename, err)
	}
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	fmt.Fprintf(w, "--%s\r\n", boundary)
	fmt.Fprintf(w, "Content-Type: %s; name=%q\r\n", contentType, att.Filename)
	fmt.Fprintf(w, "Content-Disposition: attachment; filename=%q\r\n", att.Filename)
	fmt.Fprintf(w, "Content-Transfer-Encoding: base64\r\n\r\n")

	b64 := base64.StdEncoding.EncodeToString(data)
	for i := 0; i < len(b64); i += 76 {
		end := i + 76
		if end > len(b64) {
			end = len(b64)
		}
		fmt.Fprintf(w, "%s\r\n", b64[i:end])
	}
	return nil
}

func boundary() string {
	return fmt.Sprintf("%x", rand.Int63())
}
