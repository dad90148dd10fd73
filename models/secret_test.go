package models

import "testing"

func TestMaskEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a@example.com", "a@example.com"},
		{"ab@example.com", "a*@example.com"},
		{"abc@example.com", "a*c@example.com"},
		{"alice.smith@example.com", "a*********h@example.com"},
		{"not-an-email", "not-an-email"},
	}
	for _, c := range cases {
		if got := MaskEmail(c.in); got != c.want {
			t.Errorf("MaskEmail(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestServerSettingsValidate(t *testing.T) {
	valid := ServerSettings{Host: "imap.example.com", Port: 993, Username: "u", Password: "p", Connection: ConnTLS}
	if err := valid.Validate("imap"); err != nil {
		t.Fatalf("expected valid settings to pass, got %v", err)
	}

	missingHost := valid
	missingHost.Host = ""
	if err := missingHost.Validate("imap"); err == nil {
		t.Error("expected missing host to fail validation")
	}

	badPort := valid
	badPort.Port = 0
	if err := badPort.Validate("imap"); err == nil {
		t.Error("expected zero port to fail validation")
	}

	badConn := valid
	badConn.Connection = "plaintext"
	if err := badConn.Validate("imap"); err == nil {
		t.Error("expected unknown connection mode to fail validation")
	}
}

func TestServerSettingsAddr(t *testing.T) {
	s := ServerSettings{Host: "imap.example.com", Port: 993}
	if got, want := s.Addr(), "imap.example.com:993"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestSecretValidate(t *testing.T) {
	good := Secret{
		PrimaryEmail: "user@example.com",
		IMAP:         ServerSettings{Host: "imap.example.com", Port: 993, Username: "u", Password: "p", Connection: ConnTLS},
		SMTP:         ServerSettings{Host: "smtp.example.com", Port: 465, Username: "u", Password: "p", Connection: ConnTLS},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid secret to pass, got %v", err)
	}

	bad := good
	bad.PrimaryEmail = "not-an-email"
	if err := bad.Validate(); err == nil {
		t.Error("expected malformed primaryEmail to fail validation")
	}
}

func TestNewSecretView(t *testing.T) {
	secret := Secret{
		Label:        "Work",
		PrimaryEmail: "user@example.com",
		IMAP:         ServerSettings{Host: "imap.example.com", Port: 993, Username: "u", Password: "secret", Connection: ConnTLS},
		SMTP:         ServerSettings{Host: "smtp.example.com", Port: 465, Username: "u", Password: "secret", Connection: ConnTLS},
	}

	redacted := NewSecretView(secret, false)
	if redacted.IMAP.Password != "" {
		t.Error("expected password redacted by default")
	}
	if !redacted.IMAP.HasPassword {
		t.Error("expected HasPassword to be true when a password is set")
	}

	full := NewSecretView(secret, true)
	if full.IMAP.Password != "secret" {
		t.Error("expected password included when includePasswords is true")
	}
}
