package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/ariamusic/aria/pkg/config"
	"github.com/ariamusic/aria/pkg/database"
	"github.com/ariamusic/aria/pkg/engine"
	"github.com/ariamusic/aria/pkg/events"
	"github.com/ariamusic/aria/pkg/migrations"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/ariamusic/aria/pkg/network"
	"github.com/ariamusic/aria/pkg/provider"
	"github.com/ariamusic/aria/pkg/provider/dropbox"
	"github.com/ariamusic/aria/pkg/providers"
	"github.com/ariamusic/aria/pkg/server"
	"github.com/ariamusic/aria/pkg/syncjobs"
	"github.com/ariamusic/aria/pkg/version"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting aria", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	eng := engine.New(cfg, db, engine.Options{
		BackendFactory: backendFactory,
		Sink:           events.NewLogSink(),
		NetworkCheck:   network.StaticCheck{Allowed: !cfg.UserConfig.UnmeteredOnly || onUnmeteredNetwork()},
	})

	scheduler := engine.NewScheduler(
		cfg.UserConfig.SyncIntervalMinutes,
		providers.NewService(db),
		syncjobs.NewService(db),
	)

	srv, err := server.New(cfg, db, eng)
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}

		actualPort := listener.Addr().(*net.TCPAddr).Port
		log.Info("server started", logger.Data{"port": actualPort})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	eng.Start()
	log.Info("engine started")

	scheduler.Start()
	log.Info("scheduler started")

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	scheduler.Shutdown()
	log.Info("scheduler shutdown")

	eng.Shutdown()
	log.Info("engine shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

func backendFactory(p *models.Provider) (provider.StorageProvider, error) {
	switch p.Kind {
	case models.ProviderKindDropbox:
		token := os.Getenv("DROPBOX_ACCESS_TOKEN")
		if token == "" {
			return nil, errors.New("DROPBOX_ACCESS_TOKEN is not set")
		}
		return dropbox.New(token, p.RootPath), nil
	default:
		return nil, errors.Errorf("unknown provider kind: %s", p.Kind)
	}
}

// onUnmeteredNetwork reports whether the current connection is unmetered.
// There is no portable metering signal on desktop platforms, so the override
// comes from the environment set by the host integration.
func onUnmeteredNetwork() bool {
	return os.Getenv("ARIA_SYNC_NETWORK_METERED") != "true"
}
