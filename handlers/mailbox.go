// Package handlers wires the HTTP control plane of spec §6.1 to the
// storage, mail, and watch packages, in the style of the teacher's
// handlers/api package (thin Fiber handlers, AppError for failure paths).
package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quanteckio/omni-email/mail"
	"github.com/quanteckio/omni-email/middleware"
	"github.com/quanteckio/omni-email/models"
	"github.com/quanteckio/omni-email/storage"
	"github.com/quanteckio/omni-email/utils"
	"github.com/quanteckio/omni-email/watch"
)

// errTenantMismatch marks getOwned's "record exists but belongs to another
// tenant" case so callers can tell it apart from storage.ErrNotFound and
// from a same-tenant decrypt failure (utils.AuthFailureError), which carry
// the same HTTP status but need different handling on delete.
var errTenantMismatch = errors.New("account belongs to a different tenant")

// Mailbox groups every control-plane handler over one AccountStore,
// Sender, Lister, and watch Registry, mirroring the teacher's Client
// wrapper's role as the single receiver for its handler methods.
type Mailbox struct {
	accounts *storage.AccountStore
	sender   *mail.Sender
	lister   *mail.Lister
	watchers *watch.Registry
}

func NewMailbox(accounts *storage.AccountStore, watchers *watch.Registry) *Mailbox {
	return &Mailbox{
		accounts: accounts,
		sender:   mail.NewSender(),
		lister:   mail.NewLister(),
		watchers: watchers,
	}
}

// Register mounts every route from spec §6.1 under router.
func (m *Mailbox) Register(router fiber.Router) {
	accounts := router.Group("/mailbox/accounts")
	accounts.Post("/", m.create)
	accounts.Get("/", m.list)
	accounts.Get("/:id", m.get)
	accounts.Put("/:id", m.update)
	accounts.Delete("/:id", m.delete)
	accounts.Post("/:id/test", m.test)
	accounts.Post("/:id/send", m.send)
	accounts.Get("/:id/messages", m.listMessages)
	accounts.Get("/:id/messages/:uid", m.fetchMessage)
	accounts.Post("/:id/watch/start", m.watchStart)
	accounts.Post("/:id/watch/stop", m.watchStop)
	accounts.Get("/:id/stream", m.stream)
}

type createAccountRequest struct {
	TenantID       string                `json:"tenantId"`
	Label          string                `json:"label"`
	PrimaryEmail   string                `json:"primaryEmail"`
	IMAP           models.ServerSettings `json:"imap"`
	SMTP           models.ServerSettings `json:"smtp"`
	TestConnection bool                  `json:"testConnection"`
}

// getOwned loads accountID and verifies it belongs to the tenant carried by
// the caller's bearer token, closing the tenant-confusion gap described in
// SPEC_FULL.md §6.
func (m *Mailbox) getOwned(c *fiber.Ctx, accountID string) (models.AccountRecord, models.Secret, error) {
	record, secret, err := m.accounts.Get(accountID)
	if err != nil {
		if err == storage.ErrNotFound {
			return record, secret, utils.NotFoundAsBadRequest("account not found", err)
		}
		return record, secret, utils.AuthFailureError("could not decrypt account", err)
	}
	if record.TenantID != middleware.TenantFromContext(c) {
		return record, secret, utils.NotFoundAsBadRequest("account not found", errTenantMismatch)
	}
	return record, secret, nil
}

func (m *Mailbox) create(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("malformed request body", err)
	}
	if req.TenantID != middleware.TenantFromContext(c) {
		return utils.AuthFailureError("tenantId does not match bearer token", nil)
	}

	secret := models.Secret{
		Label: req.Label, PrimaryEmail: req.PrimaryEmail,
		IMAP: req.IMAP, SMTP: req.SMTP,
	}
	if err := secret.Validate(); err != nil {
		return utils.ValidationError("invalid account", err)
	}

	if req.TestConnection {
		if err := mail.Verify(secret.IMAP); err != nil {
			return utils.UpstreamError("imap connectivity check failed", err)
		}
		if err := m.sender.Verify(secret.SMTP); err != nil {
			return utils.UpstreamError("smtp connectivity check failed", err)
		}
	}

	id, err := m.accounts.Create(req.TenantID, secret)
	if err != nil {
		return utils.ValidationError("could not create account", err)
	}

	utils.Log.Info("account created: %s (tenant %s)", id, req.TenantID)
	return c.JSON(fiber.Map{"accountId": id})
}

func (m *Mailbox) list(c *fiber.Ctx) error {
	tenantID := c.Query("tenantId")
	if strings.TrimSpace(tenantID) == "" {
		return utils.ValidationError("tenantId is required", nil)
	}
	if tenantID != middleware.TenantFromContext(c) {
		return utils.AuthFailureError("tenantId does not match bearer token", nil)
	}

	summaries, err := m.accounts.List(tenantID)
	if err != nil {
		return utils.NotFoundAsBadRequest("could not list accounts", err)
	}
	return c.JSON(fiber.Map{"accounts": summaries})
}

func (m *Mailbox) get(c *fiber.Ctx) error {
	includePasswords := c.Query("includePasswords") == "true"

	record, secret, err := m.getOwned(c, c.Params("id"))
	if err != nil {
		return err
	}

	return c.JSON(models.AccountDetail{
		ID: record.ID, TenantID: record.TenantID,
		CreatedAt: record.CreatedAt, UpdatedAt: record.UpdatedAt,
		Secret: models.NewSecretView(secret, includePasswords),
	})
}

func (m *Mailbox) update(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, _, err := m.getOwned(c, id); err != nil {
		return err
	}

	var secret models.Secret
	if err := c.BodyParser(&secret); err != nil {
		return utils.ValidationError("malformed request body", err)
	}
	if err := secret.Validate(); err != nil {
		return utils.ValidationError("invalid account", err)
	}

	if err := m.accounts.Update(id, secret); err != nil {
		if err == storage.ErrNotFound {
			return utils.NotFoundAsBadRequest("account not found", err)
		}
		return utils.ValidationError("could not update account", err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (m *Mailbox) delete(c *fiber.Ctx) error {
	id := c.Params("id")
	// A missing account or a tenant mismatch on delete is still treated as
	// success (spec §7 idempotency). A same-tenant record that merely
	// fails to decrypt (AuthFailureError, e.g. a forged-AAD envelope) is
	// not one of those cases — accounts.Delete never needs to decrypt the
	// envelope to remove it, so it still must run.
	if _, _, err := m.getOwned(c, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, errTenantMismatch) {
			return c.JSON(fiber.Map{"ok": true})
		}
	}
	if err := m.accounts.Delete(id); err != nil {
		return utils.InternalServerError("could not delete account", err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (m *Mailbox) test(c *fiber.Ctx) error {
	_, secret, err := m.getOwned(c, c.Params("id"))
	if err != nil {
		return err
	}

	if err := mail.Verify(secret.IMAP); err != nil {
		return utils.UpstreamError("imap connectivity check failed", err)
	}
	if err := m.sender.Verify(secret.SMTP); err != nil {
		return utils.UpstreamError("smtp connectivity check failed", err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (m *Mailbox) send(c *fiber.Ctx) error {
	_, secret, err := m.getOwned(c, c.Params("id"))
	if err != nil {
		return err
	}

	var req models.SendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("malformed request body", err)
	}

	result, err := m.sender.Send(secret.SMTP, req)
	if err != nil {
		return utils.UpstreamError("send failed", err)
	}
	return c.JSON(result)
}

func (m *Mailbox) listMessages(c *fiber.Ctx) error {
	_, secret, err := m.getOwned(c, c.Params("id"))
	if err != nil {
		return err
	}

	limit := uint32(20)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || n == 0 || n > 100 {
			return utils.ValidationError("limit must be between 1 and 100", nil)
		}
		limit = uint32(n)
	}

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return utils.ValidationError("since must be an RFC3339 timestamp", err)
		}
		since = &t
	}

	messages, err := m.lister.ListRecent(secret.IMAP, limit, since)
	if err != nil {
		return utils.UpstreamError("could not list messages", err)
	}
	return c.JSON(fiber.Map{"messages": messages})
}

func (m *Mailbox) fetchMessage(c *fiber.Ctx) error {
	_, secret, err := m.getOwned(c, c.Params("id"))
	if err != nil {
		return err
	}

	uid, err := strconv.ParseUint(c.Params("uid"), 10, 32)
	if err != nil {
		return utils.ValidationError("uid must be a positive integer", err)
	}

	detail, err := m.lister.FetchOne(secret.IMAP, uint32(uid))
	if err != nil {
		if err == mail.ErrMessageNotFound {
			return utils.NotFoundError("message not found", err)
		}
		return utils.UpstreamError("could not fetch message", err)
	}

	// includeRaw defaults to true (spec §4.6); only an explicit "false"
	// strips the raw RFC822 source from the response.
	if c.Query("includeRaw") == "false" {
		detail.RFC822 = ""
	}
	return c.JSON(detail)
}

func (m *Mailbox) watchStart(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, _, err := m.getOwned(c, id); err != nil {
		return err
	}
	m.watchers.Start(id)
	return c.JSON(fiber.Map{"ok": true})
}

func (m *Mailbox) watchStop(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, _, err := m.getOwned(c, id); err != nil {
		return err
	}
	m.watchers.StopExplicit(id)
	return c.JSON(fiber.Map{"ok": true})
}
