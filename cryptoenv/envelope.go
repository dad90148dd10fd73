// Package cryptoenv implements authenticated envelope encryption of Secret
// payloads: a master key, a per-record salt run through HKDF, and an
// AES-256-GCM seal bound to an associated-data tag. Modeled on the teacher
// application's storage/account.go encrypt/decrypt helpers, generalized to
// per-record subkeys and AAD binding.
package cryptoenv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/quanteckio/omni-email/models"
)

const (
	saltSize = 16
	ivSize   = 12
	tagSize  = 16
	hkdfInfo = "mailbox:v1"
)

// ErrUnsupportedEnvelope is returned by Open when the envelope's version or
// algorithm is not one this package understands.
var ErrUnsupportedEnvelope = errors.New("cryptoenv: unsupported envelope")

// ErrAuthFailure is returned by Open whenever the GCM tag does not verify —
// wrong key, tampered ciphertext, or an associated-data tag that doesn't
// match the account/tenant the ciphertext was sealed for.
var ErrAuthFailure = errors.New("cryptoenv: authentication failed")

// Sealer holds the 32-byte master key used to derive per-record subkeys.
type Sealer struct {
	master []byte
}

// NewSealer validates that master is exactly 32 bytes and returns a Sealer.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) != 32 {
		return nil, fmt.Errorf("cryptoenv: master key must be 32 bytes, got %d", len(master))
	}
	return &Sealer{master: master}, nil
}

// AAD builds the associated-data tag for one account/tenant pair.
func AAD(accountID, tenantID string) []byte {
	return []byte(accountID + ":" + tenantID)
}

// Seal encrypts secret under a freshly generated salt and IV, binding aad as
// associated data.
func (s *Sealer) Seal(secret models.Secret, aad []byte) (models.Envelope, error) {
	plaintext, err := json.Marshal(secret)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("cryptoenv: marshal secret: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return models.Envelope{}, fmt.Errorf("cryptoenv: generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return models.Envelope{}, fmt.Errorf("cryptoenv: generate iv: %w", err)
	}

	gcm, err := s.gcmFor(salt)
	if err != nil {
		return models.Envelope{}, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, aad)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return models.Envelope{
		Version:   models.EnvelopeVersion,
		Algorithm: models.EnvelopeAlgorithm,
		Salt:      salt,
		IV:        iv,
		Tag:       tag,
		CT:        ct,
	}, nil
}

// Open decrypts env, verifying the tag against aad. Any authentication
// failure returns ErrAuthFailure with no partial plaintext.
func (s *Sealer) Open(env models.Envelope, aad []byte) (models.Secret, error) {
	if env.Version != models.EnvelopeVersion || env.Algorithm != models.EnvelopeAlgorithm {
		return models.Secret{}, ErrUnsupportedEnvelope
	}
	if len(env.IV) != ivSize || len(env.Tag) != tagSize || len(env.Salt) != saltSize {
		return models.Secret{}, ErrUnsupportedEnvelope
	}

	gcm, err := s.gcmFor(env.Salt)
	if err != nil {
		return models.Secret{}, err
	}

	sealed := append(append([]byte{}, env.CT...), env.Tag...)
	plaintext, err := gcm.Open(nil, env.IV, sealed, aad)
	if err != nil {
		return models.Secret{}, ErrAuthFailure
	}

	var secret models.Secret
	if err := json.Unmarshal(plaintext, &secret); err != nil {
		return models.Secret{}, fmt.Errorf("cryptoenv: unmarshal secret: %w", err)
	}
	return secret, nil
}

func (s *Sealer) gcmFor(salt []byte) (cipher.AEAD, error) {
	subkey := make([]byte, 32)
	kdf := hkdf.New(sha256.New, s.master, salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, subkey); err != nil {
		return nil, fmt.Errorf("cryptoenv: derive subkey: %w", err)
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("cryptoenv: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("cryptoenv: new gcm: %w", err)
	}
	return gcm, nil
}
