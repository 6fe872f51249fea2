// Package gin mounts the engine on a gin router.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/services"
)

// SessionKey is the context key RequireSession stores the session under.
const SessionKey = "session"

type Adapter struct {
	router   gin.IRouter
	handler  core.Handler
	basePath string
}

var _ core.HTTPAdapter = (*Adapter)(nil)

func New(router gin.IRouter) *Adapter {
	return &Adapter{router: router}
}

// RegisterRoutes mounts every engine route under basePath. gin uses the
// same :provider syntax as the engine.
func (a *Adapter) RegisterRoutes(h core.Handler, basePath string) error {
	a.handler, a.basePath = h, basePath
	group := a.router.Group(basePath)

	for _, rt := range services.NewRouteRegistry().Routes() {
		group.Handle(rt.Method, rt.Path, handle(h))
	}
	return nil
}

func handle(h core.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := core.FromHTTP(c.Request)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Bad request."})
			return
		}
		h.Handle(c.Request.Context(), req).Write(c.Writer)
	}
}

// RequireSession aborts signed-out requests with 401 and stores the
// session under SessionKey otherwise. Routes must be registered first.
func (a *Adapter) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.handler == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "auth routes are not registered",
			})
			return
		}

		r := c.Request
		req, err := core.NewRequest(r.Method, core.Scheme(r), r.Host, r.URL.RequestURI(), r.Header, nil)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		session, res, err := core.GetSession(r.Context(), a.handler, a.basePath, req)
		for _, v := range res.SetCookieHeaders() {
			c.Writer.Header().Add("Set-Cookie", v)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "session lookup failed",
			})
			return
		}
		if session == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthenticated",
			})
			return
		}

		c.Set(SessionKey, session)
		c.Next()
	}
}
