package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/quanteckio/omni-email/utils"
)

// tenantClaims is the shape of the bearer token issued to control-plane
// callers, carrying the opaque tenantId spec.md §3 treats as the owning
// principal.
type tenantClaims struct {
	TenantID string `json:"tenantId"`
	jwt.RegisteredClaims
}

// TenantContextKey is the fiber.Locals key the tenantId claim is stored
// under after a token verifies.
const TenantContextKey = "tenantId"

// Auth verifies a bearer JWT signed with secret and stores its tenantId
// claim in fiber.Locals, closing the gap spec.md leaves implicit around how
// a caller authenticates as a given tenant. golang-jwt/jwt/v5 is a direct
// dependency the teacher's go.mod already declared for its own (never
// wired) login-session tokens; this middleware is the first real use.
func Auth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return utils.AuthFailureError("missing bearer token", nil)
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := &tenantClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.ErrUnauthorized
			}
			return secret, nil
		})
		if err != nil || !token.Valid || claims.TenantID == "" {
			return utils.AuthFailureError("invalid bearer token", err)
		}

		c.Locals(TenantContextKey, claims.TenantID)
		return c.Next()
	}
}

// TenantFromContext reads the tenantId claim stashed by Auth.
func TenantFromContext(c *fiber.Ctx) string {
	tenantID, _ := c.Locals(TenantContextKey).(string)
	return tenantID
}
