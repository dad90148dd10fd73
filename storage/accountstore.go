package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quanteckio/omni-email/cryptoenv"
	"github.com/quanteckio/omni-email/idgen"
	"github.com/quanteckio/omni-email/models"
)

// ErrNotFound is returned when an account record does not exist.
var ErrNotFound = errors.New("storage: account not found")

// AccountStore implements spec §4.2's Create/List/Get/Update/Delete against
// the KV store, sealing and opening Secrets through cryptoenv.
type AccountStore struct {
	kv     *KV
	sealer *cryptoenv.Sealer
	// stopWatcher, when set, is invoked by Delete before the record is
	// removed so any running Watcher for the account is torn down first.
	stopWatcher func(accountID string)
}

func NewAccountStore(kv *KV, sealer *cryptoenv.Sealer) *AccountStore {
	return &AccountStore{kv: kv, sealer: sealer}
}

// SetWatcherStopper wires in the callback used to stop a running Watcher on
// Delete. Kept as a setter (rather than a constructor argument) because the
// watcher registry is constructed after the account store and needs a
// reference back to it.
func (s *AccountStore) SetWatcherStopper(fn func(accountID string)) {
	s.stopWatcher = fn
}

// Create generates a fresh ULID, seals secret, and writes both the record
// and the tenant-set membership. If the tenant-set write fails after the
// record write succeeds, the record is orphaned per spec §7; this
// implementation makes a best-effort compensating delete.
func (s *AccountStore) Create(tenantID string, secret models.Secret) (string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", fmt.Errorf("storage: tenantId is required")
	}
	if err := secret.Validate(); err != nil {
		return "", err
	}

	id, err := idgen.NewULID(time.Now())
	if err != nil {
		return "", err
	}

	env, err := s.sealer.Seal(secret, cryptoenv.AAD(id, tenantID))
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	record := models.AccountRecord{
		ID: id, TenantID: tenantID, CreatedAt: now, UpdatedAt: now, Enc: env,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	if err := s.kv.PutRecord(id, data); err != nil {
		return "", fmt.Errorf("storage: write record: %w", err)
	}
	if err := s.kv.AddToTenantSet(tenantID, id); err != nil {
		_ = s.kv.DeleteRecord(id) // best-effort compensation; caller still sees failure
		return "", fmt.Errorf("storage: index record: %w", err)
	}

	return id, nil
}

// List returns AccountSummary for every account owned by tenantID.
func (s *AccountStore) List(tenantID string) ([]models.AccountSummary, error) {
	ids, err := s.kv.TenantMembers(tenantID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.AccountSummary, 0, len(ids))
	for _, id := range ids {
		record, err := s.loadRecord(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // index/record drift; skip rather than fail the whole list
			}
			return nil, err
		}
		secret, err := s.sealer.Open(record.Enc, cryptoenv.AAD(record.ID, record.TenantID))
		if err != nil {
			continue // a record that fails to decrypt is omitted, not fatal to List
		}
		summaries = append(summaries, models.AccountSummary{
			ID: record.ID, TenantID: record.TenantID, Label: secret.Label,
			PrimaryEmailMasked: models.MaskEmail(secret.PrimaryEmail),
			CreatedAt:          record.CreatedAt, UpdatedAt: record.UpdatedAt,
		})
	}
	return summaries, nil
}

// Get returns the full record and decrypted secret for accountID.
func (s *AccountStore) Get(accountID string) (models.AccountRecord, models.Secret, error) {
	record, err := s.loadRecord(accountID)
	if err != nil {
		return models.AccountRecord{}, models.Secret{}, err
	}
	secret, err := s.sealer.Open(record.Enc, cryptoenv.AAD(record.ID, record.TenantID))
	if err != nil {
		return models.AccountRecord{}, models.Secret{}, err
	}
	return record, secret, nil
}

// Update replaces the whole Secret for accountID, re-encrypting under the
// existing AAD and bumping updatedAt.
func (s *AccountStore) Update(accountID string, secret models.Secret) error {
	if err := secret.Validate(); err != nil {
		return err
	}
	record, err := s.loadRecord(accountID)
	if err != nil {
		return err
	}

	env, err := s.sealer.Seal(secret, cryptoenv.AAD(record.ID, record.TenantID))
	if err != nil {
		return err
	}
	record.Enc = env
	record.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.kv.PutRecord(record.ID, data)
}

// Delete stops any running Watcher, then removes the record and tenant-set
// membership. Missing records are treated as success.
func (s *AccountStore) Delete(accountID string) error {
	if s.stopWatcher != nil {
		s.stopWatcher(accountID)
	}

	record, err := s.loadRecord(accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.kv.DeleteRecord(accountID); err != nil {
		return err
	}
	return s.kv.RemoveFromTenantSet(record.TenantID, accountID)
}

func (s *AccountStore) loadRecord(accountID string) (models.AccountRecord, error) {
	data, err := s.kv.GetRecord(accountID)
	if err != nil {
		return models.AccountRecord{}, err
	}
	if data == nil {
		return models.AccountRecord{}, ErrNotFound
	}
	var record models.AccountRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return models.AccountRecord{}, fmt.Errorf("storage: unmarshal record: %w", err)
	}
	return record, nil
}
