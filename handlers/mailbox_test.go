package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/quanteckio/omni-email/cryptoenv"
	"github.com/quanteckio/omni-email/middleware"
	"github.com/quanteckio/omni-email/models"
	"github.com/quanteckio/omni-email/storage"
	"github.com/quanteckio/omni-email/utils"
	"github.com/quanteckio/omni-email/watch"
)

const testJWTSecret = "test-secret"

func newTestApp(t *testing.T) (*fiber.App, *Mailbox) {
	app, _, _ := newTestAppWithStores(t)
	return app, nil
}

func newTestAppWithStores(t *testing.T) (*fiber.App, *storage.KV, *storage.AccountStore) {
	t.Helper()
	kv, err := storage.OpenKV(t.TempDir())
	if err != nil {
		t.Fatalf("OpenKV failed: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	sealer, err := cryptoenv.NewSealer(bytes.Repeat([]byte{0x33}, 32))
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	accounts := storage.NewAccountStore(kv, sealer)

	registry := watch.NewRegistry(func(accountID string) (models.ServerSettings, error) {
		_, secret, err := accounts.Get(accountID)
		if err != nil {
			return models.ServerSettings{}, err
		}
		return secret.IMAP, nil
	})
	accounts.SetWatcherStopper(registry.Remove)

	mailbox := NewMailbox(accounts, registry)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if appErr, ok := err.(*utils.AppError); ok {
				code = appErr.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(middleware.Auth([]byte(testJWTSecret)))
	mailbox.Register(app)

	return app, kv, accounts
}

func bearerFor(t *testing.T, tenantID string) string {
	t.Helper()
	claims := struct {
		TenantID string `json:"tenantId"`
		jwt.RegisteredClaims
	}{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("signing token failed: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, app *fiber.App, method, path, tenantID string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body failed: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("Authorization", "Bearer "+bearerFor(t, tenantID))
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func createTestAccount(t *testing.T, app *fiber.App, tenantID string) string {
	t.Helper()
	body := createAccountRequest{
		TenantID:     tenantID,
		Label:        "Work",
		PrimaryEmail: "user@example.com",
		IMAP:         models.ServerSettings{Host: "imap.example.com", Port: 993, Username: "u", Password: "p", Connection: models.ConnTLS},
		SMTP:         models.ServerSettings{Host: "smtp.example.com", Port: 465, Username: "u", Password: "p", Connection: models.ConnTLS},
	}
	resp := doJSON(t, app, http.MethodPost, "/mailbox/accounts/", tenantID, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create failed with status %d", resp.StatusCode)
	}
	var out struct {
		AccountID string `json:"accountId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding create response failed: %v", err)
	}
	return out.AccountID
}

func TestCreateAndGetAccount(t *testing.T) {
	app, _ := newTestApp(t)
	id := createTestAccount(t, app, "tenant-1")

	resp := doJSON(t, app, http.MethodGet, "/mailbox/accounts/"+id, "tenant-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get failed with status %d", resp.StatusCode)
	}

	var detail models.AccountDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decoding get response failed: %v", err)
	}
	if detail.Secret.IMAP.Password != "" {
		t.Error("expected password to be redacted by default")
	}
	if !detail.Secret.IMAP.HasPassword {
		t.Error("expected hasPassword to be true")
	}
}

func TestGetAccountFromWrongTenantIsNotFound(t *testing.T) {
	app, _ := newTestApp(t)
	id := createTestAccount(t, app, "tenant-1")

	resp := doJSON(t, app, http.MethodGet, "/mailbox/accounts/"+id, "tenant-2", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d (tenant mismatch surfaces as not-found)", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestCreateAccountTenantMismatchIsRejected(t *testing.T) {
	app, _ := newTestApp(t)
	body := createAccountRequest{
		TenantID:     "tenant-1",
		PrimaryEmail: "user@example.com",
		IMAP:         models.ServerSettings{Host: "imap.example.com", Port: 993, Username: "u", Password: "p", Connection: models.ConnTLS},
		SMTP:         models.ServerSettings{Host: "smtp.example.com", Port: 465, Username: "u", Password: "p", Connection: models.ConnTLS},
	}
	resp := doJSON(t, app, http.MethodPost, "/mailbox/accounts/", "tenant-2", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestListAccountsRequiresMatchingTenantQuery(t *testing.T) {
	app, _ := newTestApp(t)
	createTestAccount(t, app, "tenant-1")

	resp := doJSON(t, app, http.MethodGet, "/mailbox/accounts/?tenantId=tenant-1", "tenant-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}

	mismatched := doJSON(t, app, http.MethodGet, "/mailbox/accounts/?tenantId=tenant-2", "tenant-1", nil)
	if mismatched.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", mismatched.StatusCode, http.StatusBadRequest)
	}
}

func TestDeleteAccountIsIdempotentAndTenantSafe(t *testing.T) {
	app, _ := newTestApp(t)
	id := createTestAccount(t, app, "tenant-1")

	resp := doJSON(t, app, http.MethodDelete, "/mailbox/accounts/"+id, "tenant-2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected wrong-tenant delete to report success, got %d", resp.StatusCode)
	}

	resp = doJSON(t, app, http.MethodGet, "/mailbox/accounts/"+id, "tenant-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("expected account to still exist after a wrong-tenant delete")
	}

	resp = doJSON(t, app, http.MethodDelete, "/mailbox/accounts/"+id, "tenant-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected delete to succeed, got %d", resp.StatusCode)
	}

	resp = doJSON(t, app, http.MethodDelete, "/mailbox/accounts/"+id, "tenant-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected repeat delete to be idempotent, got %d", resp.StatusCode)
	}
}

func TestDeleteAccountWithUndecryptableEnvelopeStillRemovesRecord(t *testing.T) {
	app, kv, _ := newTestAppWithStores(t)
	id := createTestAccount(t, app, "tenant-1")

	data, err := kv.GetRecord(id)
	if err != nil || data == nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	var record models.AccountRecord
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("unmarshal record failed: %v", err)
	}
	record.Enc.CT[0] ^= 0xff // tamper with ciphertext: the tenant is still correct, only the GCM tag fails to verify
	tampered, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal tampered record failed: %v", err)
	}
	if err := kv.PutRecord(id, tampered); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	resp := doJSON(t, app, http.MethodDelete, "/mailbox/accounts/"+id, "tenant-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected delete to report success, got %d", resp.StatusCode)
	}

	remaining, err := kv.GetRecord(id)
	if err != nil {
		t.Fatalf("GetRecord after delete failed: %v", err)
	}
	if remaining != nil {
		t.Error("expected the record to actually be removed, not just reported as deleted")
	}
}

func TestUpdateAccountRejectsInvalidSecret(t *testing.T) {
	app, _ := newTestApp(t)
	id := createTestAccount(t, app, "tenant-1")

	bad := models.Secret{PrimaryEmail: "not-an-email"}
	resp := doJSON(t, app, http.MethodPut, "/mailbox/accounts/"+id, "tenant-1", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestListMessagesRejectsMalformedSince(t *testing.T) {
	app, _ := newTestApp(t)
	id := createTestAccount(t, app, "tenant-1")

	resp := doJSON(t, app, http.MethodGet, "/mailbox/accounts/"+id+"/messages?since=not-a-timestamp", "tenant-1", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d for a malformed since", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestWatchStartAndStopRequireOwnership(t *testing.T) {
	app, _ := newTestApp(t)
	id := createTestAccount(t, app, "tenant-1")

	resp := doJSON(t, app, http.MethodPost, "/mailbox/accounts/"+id+"/watch/start", "tenant-2", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d for a foreign tenant's watch/start", resp.StatusCode, http.StatusBadRequest)
	}

	resp = doJSON(t, app, http.MethodPost, "/mailbox/accounts/"+id+"/watch/stop", "tenant-2", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d for a foreign tenant's watch/stop", resp.StatusCode, http.StatusBadRequest)
	}
}
