package storage

import (
	"bytes"
	"testing"

	"github.com/quanteckio/omni-email/cryptoenv"
	"github.com/quanteckio/omni-email/models"
)

func newTestStore(t *testing.T) *AccountStore {
	t.Helper()
	kv, err := OpenKV(t.TempDir())
	if err != nil {
		t.Fatalf("OpenKV failed: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	sealer, err := cryptoenv.NewSealer(bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	return NewAccountStore(kv, sealer)
}

func testSecret() models.Secret {
	return models.Secret{
		Label:        "Work",
		PrimaryEmail: "user@example.com",
		IMAP:         models.ServerSettings{Host: "imap.example.com", Port: 993, Username: "u", Password: "p", Connection: models.ConnTLS},
		SMTP:         models.ServerSettings{Host: "smtp.example.com", Port: 465, Username: "u", Password: "p", Connection: models.ConnTLS},
	}
}

func TestAccountStoreCreateAndGet(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Create("tenant-1", testSecret())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(id) != 26 {
		t.Errorf("expected a ULID-shaped id, got %q", id)
	}

	record, secret, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.TenantID != "tenant-1" {
		t.Errorf("got tenant %q, want tenant-1", record.TenantID)
	}
	if secret.PrimaryEmail != "user@example.com" {
		t.Errorf("got primaryEmail %q, want user@example.com", secret.PrimaryEmail)
	}
}

func TestAccountStoreCreateRejectsInvalidSecret(t *testing.T) {
	store := newTestStore(t)
	bad := testSecret()
	bad.PrimaryEmail = "not-an-email"

	if _, err := store.Create("tenant-1", bad); err == nil {
		t.Error("expected Create to reject an invalid secret")
	}
}

func TestAccountStoreCreateRejectsEmptyTenant(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("", testSecret()); err == nil {
		t.Error("expected Create to reject an empty tenantId")
	}
}

func TestAccountStoreGetUnknownID(t *testing.T) {
	store := newTestStore(t)
	if _, _, err := store.Get("does-not-exist"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountStoreList(t *testing.T) {
	store := newTestStore(t)
	id1, _ := store.Create("tenant-1", testSecret())
	other := testSecret()
	other.PrimaryEmail = "second@example.com"
	id2, _ := store.Create("tenant-1", other)
	otherTenant := testSecret()
	otherTenant.PrimaryEmail = "third@example.com"
	store.Create("tenant-2", otherTenant)

	summaries, err := store.List("tenant-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 accounts for tenant-1, got %d", len(summaries))
	}

	ids := map[string]bool{}
	for _, s := range summaries {
		ids[s.ID] = true
		if s.PrimaryEmailMasked == "" {
			t.Error("expected a masked email in the summary")
		}
	}
	if !ids[id1] || !ids[id2] {
		t.Error("expected both tenant-1 accounts in the list")
	}
}

func TestAccountStoreUpdate(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.Create("tenant-1", testSecret())

	updated := testSecret()
	updated.Label = "Renamed"
	if err := store.Update(id, updated); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	_, secret, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if secret.Label != "Renamed" {
		t.Errorf("got label %q, want Renamed", secret.Label)
	}
}

func TestAccountStoreUpdateUnknownID(t *testing.T) {
	store := newTestStore(t)
	if err := store.Update("does-not-exist", testSecret()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountStoreDeleteRemovesFromListAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.Create("tenant-1", testSecret())

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, _, err := store.Get(id); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	summaries, err := store.List("tenant-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("expected no accounts after delete, got %d", len(summaries))
	}

	if err := store.Delete(id); err != nil {
		t.Errorf("expected repeated delete to be idempotent, got %v", err)
	}
}

func TestAccountStoreDeleteStopsWatcher(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.Create("tenant-1", testSecret())

	var stoppedFor string
	store.SetWatcherStopper(func(accountID string) { stoppedFor = accountID })

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if stoppedFor != id {
		t.Errorf("expected watcher stopper to be called with %q, got %q", id, stoppedFor)
	}
}
