package models

import (
	"fmt"
	"net/mail"
	"strings"
)

// Connection is the transport-security mode for a mail server.
type Connection string

const (
	ConnTLS      Connection = "TLS"
	ConnSTARTTLS Connection = "STARTTLS"
)

// ServerSettings holds the connection parameters for one mail server.
type ServerSettings struct {
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	Username   string     `json:"username"`
	Password   string     `json:"password"`
	Connection Connection `json:"connection"`
}

func (s ServerSettings) Validate(field string) error {
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("%s.host is required", field)
	}
	if s.Port <= 0 {
		return fmt.Errorf("%s.port must be positive", field)
	}
	if strings.TrimSpace(s.Username) == "" {
		return fmt.Errorf("%s.username is required", field)
	}
	if s.Password == "" {
		return fmt.Errorf("%s.password is required", field)
	}
	if s.Connection != ConnTLS && s.Connection != ConnSTARTTLS {
		return fmt.Errorf("%s.connection must be TLS or STARTTLS", field)
	}
	return nil
}

// Addr formats the server as host:port.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Secret is the decrypted credential payload for one account. Never
// persisted in cleartext, never logged.
type Secret struct {
	Label        string         `json:"label,omitempty"`
	PrimaryEmail string         `json:"primaryEmail"`
	IMAP         ServerSettings `json:"imap"`
	SMTP         ServerSettings `json:"smtp"`
}

func (s Secret) Validate() error {
	if _, err := mail.ParseAddress(s.PrimaryEmail); err != nil {
		return fmt.Errorf("primaryEmail is not a well-formed address: %w", err)
	}
	if err := s.IMAP.Validate("imap"); err != nil {
		return err
	}
	if err := s.SMTP.Validate("smtp"); err != nil {
		return err
	}
	return nil
}

// MaskEmail masks the local part of an email address, preserving the domain
// verbatim. Exactly one character is visible at each end of the local part.
// When the local part is two characters, only the first character is
// visible and the rest is replaced by a single asterisk. When the local
// part is a single character, first and last coincide and the address is
// returned unmasked — this degenerate boundary is intentional (see
// spec end-to-end scenario 1) and is the one case with no asterisk.
func MaskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr
	}
	local, domain := addr[:at], addr[at:]
	n := len(local)
	switch {
	case n == 0:
		return addr
	case n == 1:
		return local + domain
	case n == 2:
		return local[:1] + "*" + domain
	default:
		stars := strings.Repeat("*", n-2)
		return local[:1] + stars + local[n-1:] + domain
	}
}
