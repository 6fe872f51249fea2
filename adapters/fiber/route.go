package fiber

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/services"
)

type Adapter struct {
	app      *fiber.App
	handler  core.Handler
	basePath string
}

var _ core.HTTPAdapter = (*Adapter)(nil)

func New(app *fiber.App) *Adapter {
	return &Adapter{app: app}
}

// RegisterRoutes mounts every engine route under basePath. Fiber shares
// the engine's :provider parameter syntax, so paths are used as is.
func (a *Adapter) RegisterRoutes(h core.Handler, basePath string) error {
	a.handler, a.basePath = h, basePath
	api := a.app.Group(basePath)

	for _, rt := range services.NewRouteRegistry().Routes() {
		api.Add([]string{rt.Method}, rt.Path, handle(h))
	}

	return nil
}
