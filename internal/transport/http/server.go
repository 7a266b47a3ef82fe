// Package http provides the HTTP server implementation for the control plane.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/controlplane/internal/loader"
	"github.com/xiaot623/gogo/controlplane/internal/service"
	v1 "github.com/xiaot623/gogo/controlplane/internal/transport/http/v1"
	"github.com/xiaot623/gogo/controlplane/internal/transport/ws"
)

// NewServer creates and configures the HTTP server: the REST surface and,
// when wsServer is not nil, the WebSocket push endpoint.
func NewServer(svc *service.Service, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(RequestLoader(svc))

	// Handlers
	var conns v1.ConnectionCounter
	if wsServer != nil {
		conns = wsServer
		e.GET("/v1/ws", wsServer.HandleWebSocket)
	}
	v1.NewHandler(svc, conns).RegisterRoutes(e)

	return e
}

// RequestLoader gives every request its own batch loader, discarded when
// the request ends.
func RequestLoader(svc *service.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()
			ctx = loader.WithLoader(ctx, svc.NewLoader(ctx))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
