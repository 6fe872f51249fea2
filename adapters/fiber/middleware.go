package fiber

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lborres/gatehouse/core"
)

// SessionKey is the Locals key RequireSession stores the session under.
const SessionKey = "session"

// RequireSession creates a Fiber middleware that resolves the session the
// way the session route does and stores it in the context for downstream
// handlers. Signed-out requests get 401. Routes must be registered first.
func (a *Adapter) RequireSession() fiber.Handler {
	return func(c fiber.Ctx) error {
		if a.handler == nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "auth routes are not registered",
			})
		}

		req, err := toRequest(c, false)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request",
			})
		}

		session, res, err := core.GetSession(c.Context(), a.handler, a.basePath, req)
		forwardCookies(c, res)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "session lookup failed",
			})
		}
		if session == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthenticated",
			})
		}

		c.Locals(SessionKey, session)
		return c.Next()
	}
}
