package tracks

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutes registers track routes.
func RegisterRoutes(e *echo.Echo, db *bun.DB) {
	trackService := NewService(db)

	h := &handler{
		trackService: trackService,
	}

	g := e.Group("/tracks")
	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
}
