package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// WebhookSecret rejects inbound webhooks whose X-Webhook-Secret (or
// Unipile-Auth) header does not match. An empty secret disables the check.
func WebhookSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		got := c.Get("X-Webhook-Secret")
		if got == "" {
			got = c.Get("Unipile-Auth")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid webhook secret",
			})
		}
		return c.Next()
	}
}
