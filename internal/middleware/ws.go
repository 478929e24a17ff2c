package middleware

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// WSUpgradeMiddleware lets only websocket upgrades through to the hub and
// hands the request id over so hub logs can be joined with HTTP logs.
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"detail": "websocket upgrade required"})
		}
		c.Locals("ws_req_id", ReqID(c))
		return c.Next()
	}
}
