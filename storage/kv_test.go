package storage

import "testing"

func newTestKV(t *testing.T) *KV {
	t.Helper()
	kv, err := OpenKV(t.TempDir())
	if err != nil {
		t.Fatalf("OpenKV failed: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestKVPutGetDeleteRecord(t *testing.T) {
	kv := newTestKV(t)

	if got, err := kv.GetRecord("missing"); err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for a missing record, got (%v, %v)", got, err)
	}

	if err := kv.PutRecord("id-1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	got, err := kv.GetRecord("id-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("got %q, want %q", got, `{"a":1}`)
	}

	if err := kv.DeleteRecord("id-1"); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if got, err := kv.GetRecord("id-1"); err != nil || got != nil {
		t.Fatalf("expected nil after delete, got (%v, %v)", got, err)
	}

	if err := kv.DeleteRecord("id-1"); err != nil {
		t.Errorf("expected DeleteRecord to be idempotent, got %v", err)
	}
}

func TestKVTenantSet(t *testing.T) {
	kv := newTestKV(t)

	members, err := kv.TenantMembers("tenant-1")
	if err != nil {
		t.Fatalf("TenantMembers failed: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no members for an unknown tenant, got %v", members)
	}

	if err := kv.AddToTenantSet("tenant-1", "acc-1"); err != nil {
		t.Fatalf("AddToTenantSet failed: %v", err)
	}
	if err := kv.AddToTenantSet("tenant-1", "acc-2"); err != nil {
		t.Fatalf("AddToTenantSet failed: %v", err)
	}

	members, err = kv.TenantMembers("tenant-1")
	if err != nil {
		t.Fatalf("TenantMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}

	if err := kv.RemoveFromTenantSet("tenant-1", "acc-1"); err != nil {
		t.Fatalf("RemoveFromTenantSet failed: %v", err)
	}
	members, err = kv.TenantMembers("tenant-1")
	if err != nil {
		t.Fatalf("TenantMembers failed: %v", err)
	}
	if len(members) != 1 || members[0] != "acc-2" {
		t.Fatalf("expected only acc-2 to remain, got %v", members)
	}
}

func TestKVRemoveFromUnknownTenantSetIsNoop(t *testing.T) {
	kv := newTestKV(t)
	if err := kv.RemoveFromTenantSet("no-such-tenant", "acc-1"); err != nil {
		t.Errorf("expected no error removing from an unknown tenant set, got %v", err)
	}
}
