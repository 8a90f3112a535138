package syncjobs

import (
	"github.com/ariamusic/aria/pkg/workqueue"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutes registers sync job routes.
func RegisterRoutes(e *echo.Echo, db *bun.DB, canceller Canceller) {
	jobService := NewService(db)

	h := &handler{
		jobService:   jobService,
		queueService: workqueue.NewService(db, workqueue.Limits{}),
		canceller:    canceller,
	}

	g := e.Group("/sync-jobs")
	g.GET("", h.list)
	g.GET("/latest", h.latest)
	g.GET("/:id", h.retrieve)
	g.GET("/:id/items", h.listItems)
	g.POST("", h.create)
	g.POST("/:id/cancel", h.cancel)
}
