package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"github.com/emersion/go-imap"

	"github.com/quanteckio/omni-email/models"
	"github.com/quanteckio/omni-email/utils"
)

// ErrMessageNotFound is returned by FetchOne when the requested UID no
// longer exists in the mailbox.
var ErrMessageNotFound = errors.New("mail: message not found")

// buildMessageDetail parses the raw RFC822 body fetched under section and
// walks the body structure for attachment metadata, generalizing the
// teacher's processMessage/processAttachments to the spec's ParsedMessage
// shape (with HTML sanitized before it ever reaches JSON).
func buildMessageDetail(msg *imap.Message, section *imap.BodySectionName) (models.MessageDetail, error) {
	detail := models.MessageDetail{MsgMeta: metaFromMessage(msg)}

	r := msg.GetBody(section)
	if r == nil {
		return detail, fmt.Errorf("mail: server did not return a body for uid %d", msg.Uid)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return detail, fmt.Errorf("mail: reading body failed: %w", err)
	}

	parsed, err := parseBody(raw)
	if err != nil {
		return detail, fmt.Errorf("mail: parsing MIME body failed: %w", err)
	}
	parsed.Attachments = attachmentsFromStructure(msg)
	detail.Parsed = parsed
	detail.RFC822 = string(raw)

	return detail, nil
}

// parseBody extracts the text and HTML parts of a MIME message. HTML is
// run through utils.SanitizeHTML before it is ever placed on the
// ParsedMessage, matching the teacher's sanitize-on-read approach.
func parseBody(raw []byte) (models.ParsedMessage, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return models.ParsedMessage{}, err
	}

	var parsed models.ParsedMessage
	contentType := m.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(m.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}
			partData, err := io.ReadAll(part)
			if err != nil {
				continue
			}
			switch partType := part.Header.Get("Content-Type"); {
			case strings.Contains(partType, "text/plain") && parsed.Text == "":
				parsed.Text = string(partData)
			case strings.Contains(partType, "text/html") && parsed.HTML == "":
				parsed.HTML = utils.SanitizeHTML(string(partData))
			}
		}
	} else {
		body, err := io.ReadAll(m.Body)
		if err != nil {
			return parsed, err
		}
		if strings.Contains(contentType, "html") {
			parsed.HTML = utils.SanitizeHTML(string(body))
		} else {
			parsed.Text = string(body)
		}
	}

	if parsed.Text == "" && parsed.HTML != "" {
		parsed.Text = utils.StripHTML(parsed.HTML)
	}
	return parsed, nil
}

// attachmentsFromStructure walks BodyStructure for attachment metadata
// only (filename/content-type/size) — spec §4.6 exposes attachments as
// metadata, the raw bytes are not part of MessageDetail.
func attachmentsFromStructure(msg *imap.Message) []models.Attachment {
	var attachments []models.Attachment

	var walk func(bs *imap.BodyStructure, partNum []int)
	walk = func(bs *imap.BodyStructure, partNum []int) {
		if bs == nil {
			return
		}
		isAttachment := bs.Disposition == "attachment" ||
			(bs.Disposition == "inline" && bs.MIMEType != "text")
		if isAttachment {
			attachments = append(attachments, models.Attachment{
				Filename:    bs.DispositionParams["filename"],
				ContentType: fmt.Sprintf("%s/%s", bs.MIMEType, bs.MIMESubType),
				Size:        int(bs.Size),
			})
		}
		for i, part := range bs.Parts {
			walk(part, append(append([]int{}, partNum...), i+1))
		}
	}

	if msg.BodyStructure != nil {
		walk(msg.BodyStructure, nil)
	}
	return attachments
}
