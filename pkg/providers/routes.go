package providers

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutes registers provider routes.
func RegisterRoutes(e *echo.Echo, db *bun.DB) {
	providerService := NewService(db)

	h := &handler{
		providerService: providerService,
	}

	g := e.Group("/providers")
	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.POST("", h.create)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.delete)
}
