package fiber

import (
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/lborres/gatehouse/core"
)

// handle returns the fiber handler serving every engine route.
func handle(h core.Handler) fiber.Handler {
	return func(c fiber.Ctx) error {
		req, err := toRequest(c, true)
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"message": "Bad request.",
			})
		}
		return send(c, h.Handle(c.Context(), req))
	}
}

// toRequest converts the fiber request. Bodies are only read for engine
// routes; middleware passes withBody false.
func toRequest(c fiber.Ctx, withBody bool) (*core.Request, error) {
	header := http.Header{}
	for k, vs := range c.GetReqHeaders() {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	var body []byte
	if withBody {
		body = c.Body()
	}
	return core.NewRequest(c.Method(), c.Scheme(), c.Host(), c.OriginalURL(), header, body)
}

// forwardCookies adds one Set-Cookie header per cookie.
func forwardCookies(c fiber.Ctx, res *core.Response) {
	for _, v := range res.SetCookieHeaders() {
		c.Response().Header.Add(fiber.HeaderSetCookie, v)
	}
}

func send(c fiber.Ctx, res *core.Response) error {
	for k, vs := range res.Headers {
		for _, v := range vs {
			c.Response().Header.Add(k, v)
		}
	}
	forwardCookies(c, res)
	if res.Redirect != "" {
		c.Set(fiber.HeaderLocation, res.Redirect)
	}
	return c.Status(res.StatusCode()).Send(res.Body)
}
