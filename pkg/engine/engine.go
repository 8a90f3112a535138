package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ariamusic/aria/pkg/config"
	"github.com/ariamusic/aria/pkg/conflicts"
	"github.com/ariamusic/aria/pkg/events"
	"github.com/ariamusic/aria/pkg/metadata"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/ariamusic/aria/pkg/network"
	"github.com/ariamusic/aria/pkg/provider"
	"github.com/ariamusic/aria/pkg/providers"
	"github.com/ariamusic/aria/pkg/syncjobs"
	"github.com/ariamusic/aria/pkg/tracks"
	"github.com/ariamusic/aria/pkg/workqueue"
	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/uptrace/bun"
)

var processID = randStringBytes(8)

// BackendFactory builds the storage backend for a provider row. Called once
// per run.
type BackendFactory func(p *models.Provider) (provider.StorageProvider, error)

// Engine drives sync jobs from pending to a terminal state. One engine runs
// per process; jobs claimed by a dead process are picked up on the next poll.
type Engine struct {
	config *config.Config
	log    logger.Logger

	backendFactory BackendFactory
	extractor      metadata.Extractor
	sink           events.Sink
	netCheck       network.ConstraintCheck

	providerService *providers.Service
	jobService      *syncjobs.Service
	trackService    *tracks.Service
	queueService    *workqueue.Service
	conflictService *conflicts.Service

	// pollInterval paces the idle loops; shortened in tests.
	pollInterval  time.Duration
	fetchInterval time.Duration
	// networkPauseLimit bounds how long a run waits out a denied network
	// constraint before failing.
	networkPauseLimit time.Duration

	queue          chan *models.SyncJob
	shutdown       chan struct{}
	doneFetching   chan struct{}
	doneProcessing chan struct{}

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
}

type Options struct {
	BackendFactory BackendFactory
	Extractor      metadata.Extractor
	Sink           events.Sink
	NetworkCheck   network.ConstraintCheck
}

func New(cfg *config.Config, db *bun.DB, opts Options) *Engine {
	if opts.Extractor == nil {
		opts.Extractor = metadata.NewTagExtractor()
	}
	if opts.Sink == nil {
		opts.Sink = events.NewLogSink()
	}
	if opts.NetworkCheck == nil {
		opts.NetworkCheck = network.AllowAll{}
	}

	trackService := tracks.NewService(db)

	e := &Engine{
		config: cfg,
		log:    logger.New(),

		backendFactory: opts.BackendFactory,
		extractor:      opts.Extractor,
		sink:           opts.Sink,
		netCheck:       opts.NetworkCheck,

		providerService: providers.NewService(db),
		jobService:      syncjobs.NewService(db),
		trackService:    trackService,
		queueService: workqueue.NewService(db, workqueue.Limits{
			MaxConcurrent:  cfg.UserConfig.ProcessingConcurrency,
			RetryCeiling:   cfg.UserConfig.RetryCeiling,
			RetryBaseDelay: cfg.UserConfig.RetryBaseDelay,
			RetryMaxDelay:  cfg.UserConfig.RetryMaxDelay,
		}),
		conflictService: conflicts.NewService(trackService, opts.Sink),

		pollInterval:      time.Second,
		fetchInterval:     5 * time.Second,
		networkPauseLimit: 5 * time.Minute,

		queue:          make(chan *models.SyncJob, cfg.WorkerProcesses),
		shutdown:       make(chan struct{}),
		doneFetching:   make(chan struct{}),
		doneProcessing: make(chan struct{}, cfg.WorkerProcesses),

		cancels: map[int]context.CancelFunc{},
	}

	return e
}

func (e *Engine) Start() {
	go e.fetchJobs()
	for i := 0; i < e.config.WorkerProcesses; i++ {
		go e.processJobs()
	}
}

func (e *Engine) fetchJobs() {
	timer := time.NewTimer(e.fetchInterval)

	for {
		select {
		case <-e.shutdown:
			// We're shutting down, so stop adding more jobs to the queue.
			e.doneFetching <- struct{}{}
			return
		case <-timer.C:
			j, err := e.jobService.ListSyncJobs(context.Background(), syncjobs.ListSyncJobsOptions{
				Limit:              pointerutil.Int(1),
				Statuses:           []string{models.SyncJobStatusPending, models.SyncJobStatusRunning},
				ProcessIDToExclude: &processID,
			})
			if err != nil {
				e.log.Err(err).Error("list sync jobs error")
				timer.Reset(e.fetchInterval)
				continue
			}
			for _, job := range j {
				e.queue <- job
			}
			timer.Reset(e.fetchInterval)
		}
	}
}

func (e *Engine) processJobs() {
	for {
		select {
		case <-e.shutdown:
			e.doneProcessing <- struct{}{}
			return
		case job := <-e.queue:
			// Prep the context to be passed down to the run.
			id, err := uuid.NewRandom()
			if err != nil {
				e.log.Err(err).Error("new uuid error")
				continue
			}
			log := e.log.ID(id.String()).Root(logger.Data{
				"sync_job_id": job.ID,
				"provider_id": job.ProviderID,
				"sync_type":   job.SyncType,
				"process_id":  processID,
			})

			ctx, cancel := context.WithCancel(log.WithContext(context.Background()))
			e.registerCancel(job.ID, cancel)

			err = e.runJob(ctx, job)
			if err != nil {
				log.Err(err).Error("sync run error")
			}

			e.unregisterCancel(job.ID)
			cancel()
		}
	}
}

func (e *Engine) Shutdown() {
	close(e.shutdown)

	// In-flight runs stop at their next item boundary.
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()

	<-e.doneFetching
	for i := 0; i < e.config.WorkerProcesses; i++ {
		<-e.doneProcessing
	}
}

// RequestCancel asks a running job to stop at its next safe point. Reports
// whether the job was running on this engine.
func (e *Engine) RequestCancel(jobID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancel, ok := e.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

func (e *Engine) registerCancel(jobID int, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[jobID] = cancel
}

func (e *Engine) unregisterCancel(jobID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, jobID)
}

const letterBytes = "abcdef0123456789"

func randStringBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return string(b)
}
