// Package storage implements the account store described in spec §4.2 on
// top of go.etcd.io/bbolt — a direct teacher dependency the original
// storage/db.go already opened and bucketed, but never wired to real
// account persistence (the teacher instead wrote flat JSON files). This
// package finishes that wiring and treats bbolt as the local stand-in for
// spec's abstracted "remote key-value store".
package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("AccountRecords")
	bucketTenants = []byte("TenantIndex") // nested bucket per tenant, member -> {1}
)

// KV wraps a bbolt database and exposes the record/set operations the
// account store needs: get/put/delete on string keys, and add/remove/list
// on a per-tenant string set.
type KV struct {
	db *bbolt.DB
}

// OpenKV opens (creating if necessary) the bbolt database backing the
// account store.
func OpenKV(dataDir string) (*KV, error) {
	dbPath := filepath.Join(dataDir, "mailbox.db")
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketTenants); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create buckets: %w", err)
	}

	return &KV{db: db}, nil
}

func (kv *KV) Close() error {
	return kv.db.Close()
}

// PutRecord writes raw JSON bytes under acc:{id}.
func (kv *KV) PutRecord(id string, data []byte) error {
	return kv.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(id), data)
	})
}

// GetRecord reads raw JSON bytes for acc:{id}. Returns (nil, nil) if absent.
func (kv *KV) GetRecord(id string) ([]byte, error) {
	var out []byte
	err := kv.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRecords).Get([]byte(id))
		if v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	return out, err
}

// DeleteRecord removes acc:{id}. Idempotent.
func (kv *KV) DeleteRecord(id string) error {
	return kv.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(id))
	})
}

// AddToTenantSet adds accountID to tenant:{tenantID}:accounts.
func (kv *KV) AddToTenantSet(tenantID, accountID string) error {
	return kv.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketTenants).CreateBucketIfNotExists([]byte(tenantID))
		if err != nil {
			return err
		}
		return b.Put([]byte(accountID), []byte{1})
	})
}

// RemoveFromTenantSet removes accountID from tenant:{tenantID}:accounts.
func (kv *KV) RemoveFromTenantSet(tenantID, accountID string) error {
	return kv.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTenants).Bucket([]byte(tenantID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(accountID))
	})
}

// TenantMembers lists every accountID in tenant:{tenantID}:accounts.
func (kv *KV) TenantMembers(tenantID string) ([]string, error) {
	var members []string
	err := kv.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTenants).Bucket([]byte(tenantID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			members = append(members, string(k))
			return nil
		})
	})
	return members, err
}
