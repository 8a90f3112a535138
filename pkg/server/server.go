package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ariamusic/aria/pkg/binder"
	"github.com/ariamusic/aria/pkg/config"
	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/providers"
	"github.com/ariamusic/aria/pkg/syncjobs"
	"github.com/ariamusic/aria/pkg/tracks"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/uptrace/bun"
)

// New builds the HTTP server exposing the sync control surface. The canceller
// is the engine; it is threaded through to the sync job routes so a running
// job can be stopped in process.
func New(cfg *config.Config, db *bun.DB, canceller syncjobs.Canceller) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	providers.RegisterRoutes(e, db)
	syncjobs.RegisterRoutes(e, db, canceller)
	tracks.RegisterRoutes(e, db)
	config.RegisterRoutes(e, cfg)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
