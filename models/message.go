package models

import "time"

// MsgMeta is the envelope-level summary of one message, used by listRecent
// and as the payload shape for EmailReceived notifications.
type MsgMeta struct {
	UID          uint32    `json:"uid"`
	Subject      string    `json:"subject"`
	From         []string  `json:"from"`
	To           []string  `json:"to"`
	Date         time.Time `json:"date"`
	InternalDate time.Time `json:"internalDate"`
	Flags        []string  `json:"flags"`
}

// Attachment is a MIME attachment surfaced by fetchOne's parsed view.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// ParsedMessage is the decoded view produced by fetchOne.
type ParsedMessage struct {
	Text        string       `json:"text,omitempty"`
	HTML        string       `json:"html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// MessageDetail is the full response of GET .../messages/{uid}.
type MessageDetail struct {
	MsgMeta
	Parsed ParsedMessage `json:"parsed"`
	RFC822 string        `json:"rfc822,omitempty"`
}

// SendRequest is the body of POST .../send.
type SendRequest struct {
	To          []string           `json:"to"`
	Cc          []string           `json:"cc,omitempty"`
	Bcc         []string           `json:"bcc,omitempty"`
	Subject     string             `json:"subject"`
	Text        string             `json:"text,omitempty"`
	HTML        string             `json:"html,omitempty"`
	Attachments []AttachmentUpload `json:"attachments,omitempty"`
}

// AttachmentUpload is one attachment supplied on a send request.
type AttachmentUpload struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"contentBase64"`
	ContentType   string `json:"contentType,omitempty"`
}

// SendResult is the result of a send operation.
type SendResult struct {
	MessageID string   `json:"messageId"`
	Accepted  []string `json:"accepted"`
	Rejected  []string `json:"rejected"`
}
