package cryptoenv

import (
	"bytes"
	"testing"

	"github.com/quanteckio/omni-email/models"
)

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	return s
}

func testSecret() models.Secret {
	return models.Secret{
		Label:        "Personal",
		PrimaryEmail: "user@example.com",
		IMAP:         models.ServerSettings{Host: "imap.example.com", Port: 993, Username: "u", Password: "p", Connection: models.ConnTLS},
		SMTP:         models.ServerSettings{Host: "smtp.example.com", Port: 465, Username: "u", Password: "p", Connection: models.ConnTLS},
	}
}

func TestNewSealerRejectsWrongKeyLength(t *testing.T) {
	if _, err := NewSealer(make([]byte, 16)); err == nil {
		t.Error("expected NewSealer to reject a 16-byte key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := testSealer(t)
	secret := testSecret()
	aad := AAD("acc-1", "tenant-1")

	env, err := s.Seal(secret, aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if env.Version != models.EnvelopeVersion || env.Algorithm != models.EnvelopeAlgorithm {
		t.Fatalf("unexpected envelope metadata: %+v", env)
	}

	got, err := s.Open(env, aad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got != secret {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, secret)
	}
}

func TestOpenFailsOnAADMismatch(t *testing.T) {
	s := testSealer(t)
	secret := testSecret()

	env, err := s.Seal(secret, AAD("acc-1", "tenant-1"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if _, err := s.Open(env, AAD("acc-1", "tenant-2")); err != ErrAuthFailure {
		t.Errorf("expected ErrAuthFailure on tenant AAD mismatch, got %v", err)
	}
	if _, err := s.Open(env, AAD("acc-2", "tenant-1")); err != ErrAuthFailure {
		t.Errorf("expected ErrAuthFailure on account AAD mismatch, got %v", err)
	}
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	s := testSealer(t)
	secret := testSecret()
	aad := AAD("acc-1", "tenant-1")

	env, err := s.Seal(secret, aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	env.CT[0] ^= 0xFF

	if _, err := s.Open(env, aad); err != ErrAuthFailure {
		t.Errorf("expected ErrAuthFailure on tampered ciphertext, got %v", err)
	}
}

func TestOpenFailsOnWrongKey(t *testing.T) {
	s := testSealer(t)
	other, err := NewSealer(bytes.Repeat([]byte{0x24}, 32))
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	aad := AAD("acc-1", "tenant-1")

	env, err := s.Seal(testSecret(), aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := other.Open(env, aad); err != ErrAuthFailure {
		t.Errorf("expected ErrAuthFailure when opening with a different master key, got %v", err)
	}
}

func TestSealProducesDistinctSaltPerCall(t *testing.T) {
	s := testSealer(t)
	secret := testSecret()
	aad := AAD("acc-1", "tenant-1")

	env1, err := s.Seal(secret, aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	env2, err := s.Seal(secret, aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Equal(env1.Salt, env2.Salt) {
		t.Error("expected distinct salts across Seal calls")
	}
	if bytes.Equal(env1.CT, env2.CT) {
		t.Error("expected distinct ciphertexts across Seal calls")
	}
}

func TestOpenRejectsUnsupportedEnvelope(t *testing.T) {
	s := testSealer(t)
	env, err := s.Seal(testSecret(), AAD("acc-1", "tenant-1"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	env.Algorithm = "AES-128-CBC"

	if _, err := s.Open(env, AAD("acc-1", "tenant-1")); err != ErrUnsupportedEnvelope {
		t.Errorf("expected ErrUnsupportedEnvelope, got %v", err)
	}
}
