package mail

import (
	"testing"

	"github.com/quanteckio/omni-email/models"
)

func TestDialIMAPRejectsInvalidSettings(t *testing.T) {
	_, err := DialIMAP(models.ServerSettings{})
	if err == nil {
		t.Error("expected an error for empty settings")
	}
}

func TestDialIMAPRejectsUnknownConnectionMode(t *testing.T) {
	settings := models.ServerSettings{
		Host: "imap.example.com", Port: 993, Username: "u", Password: "p",
		Connection: "plaintext",
	}
	if _, err := DialIMAP(settings); err == nil {
		t.Error("expected an error for an unknown connection mode")
	}
}
