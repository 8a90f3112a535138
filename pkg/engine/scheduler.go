package engine

import (
	"context"
	"time"

	"github.com/ariamusic/aria/pkg/models"
	"github.com/ariamusic/aria/pkg/providers"
	"github.com/robinjoseph08/golib/logger"
)

// Scheduler creates periodic incremental sync jobs. A provider that has never
// completed a run gets a full sync; the engine escalates incrementals with no
// baseline anyway, so the distinction is cosmetic in job listings.
type Scheduler struct {
	log logger.Logger

	providerService *providers.Service
	jobService      jobCreator

	syncInterval time.Duration
	interval     time.Duration
	shutdown     chan struct{}
	done         chan struct{}
}

type jobCreator interface {
	HasActiveJobForProvider(ctx context.Context, providerID int) (bool, error)
	CreateSyncJob(ctx context.Context, job *models.SyncJob) error
}

func NewScheduler(syncIntervalMinutes int, providerService *providers.Service, jobService jobCreator) *Scheduler {
	return &Scheduler{
		log:             logger.New(),
		syncInterval:    time.Duration(syncIntervalMinutes) * time.Minute,
		providerService: providerService,
		jobService:      jobService,
		interval:        time.Minute,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) run() {
	timer := time.NewTimer(s.interval)

	for {
		select {
		case <-s.shutdown:
			s.done <- struct{}{}
			return
		case <-timer.C:
			err := s.Tick(context.Background())
			if err != nil {
				s.log.Err(err).Error("scheduler tick error")
			}
			timer.Reset(s.interval)
		}
	}
}

// Tick enqueues a sync for every provider whose last run is older than the
// configured interval. Providers with an active run are skipped, never
// stacked.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.syncInterval <= 0 {
		return nil
	}

	provs, err := s.providerService.ListProviders(ctx, providers.ListProvidersOptions{})
	if err != nil {
		return err
	}

	now := time.Now()
	for _, prov := range provs {
		if prov.LastSyncedAt != nil && now.Sub(*prov.LastSyncedAt) < s.syncInterval {
			continue
		}

		hasActive, err := s.jobService.HasActiveJobForProvider(ctx, prov.ID)
		if err != nil {
			return err
		}
		if hasActive {
			continue
		}

		syncType := models.SyncTypeIncremental
		if prov.LastCursor == nil {
			syncType = models.SyncTypeFull
		}

		job := &models.SyncJob{
			ProviderID: prov.ID,
			SyncType:   syncType,
			Status:     models.SyncJobStatusPending,
		}
		err = s.jobService.CreateSyncJob(ctx, job)
		if err != nil {
			return err
		}

		s.log.Info("scheduled sync", logger.Data{
			"provider_id": prov.ID,
			"sync_type":   syncType,
			"sync_job_id": job.ID,
		})
	}

	return nil
}

func (s *Scheduler) Shutdown() {
	close(s.shutdown)
	<-s.done
}
