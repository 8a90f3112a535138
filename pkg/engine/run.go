package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ariamusic/aria/pkg/conflicts"
	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/events"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/ariamusic/aria/pkg/provider"
	"github.com/ariamusic/aria/pkg/providers"
	"github.com/ariamusic/aria/pkg/syncjobs"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// runState carries the mutable tally of one run. Counters are shared between
// the processing goroutines.
type runState struct {
	job      *models.SyncJob
	provider *models.Provider
	backend  provider.StorageProvider

	mu      sync.Mutex
	added   int
	updated int
	deleted int
	failed  int

	sinceProgress int
}

func (r *runState) stats() models.SyncJobStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.SyncJobStats{
		ItemsAdded:   r.added,
		ItemsUpdated: r.updated,
		ItemsDeleted: r.deleted,
		ItemsFailed:  r.failed,
	}
}

// runJob takes one job from claimed to terminal. Errors out of the phases
// fail the job; cancellation mid-phase cancels it. Either way the job always
// lands in a terminal state.
func (e *Engine) runJob(ctx context.Context, job *models.SyncJob) error {
	log := logger.FromContext(ctx)
	now := time.Now()

	// Bookkeeping writes land even if the run's context is cancelled; only
	// the sync work itself honors cancellation.
	dbCtx := context.WithoutCancel(ctx)

	// Claim the job for this process. A job orphaned by a crashed process
	// arrives already running; its stranded work items are requeued below.
	orphaned := job.Status == models.SyncJobStatusRunning
	if !orphaned {
		if err := job.Start(now); err != nil {
			return errors.WithStack(err)
		}
	}
	job.ProcessID = &processID

	err := e.jobService.UpdateSyncJob(dbCtx, job, syncjobs.UpdateSyncJobOptions{
		Columns: []string{"status", "process_id", "started_at"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	if orphaned {
		n, err := e.queueService.RequeueOrphans(dbCtx, job.ID)
		if err != nil {
			return e.failJob(ctx, job, nil, err)
		}
		if n > 0 {
			log.Info("requeued orphaned work items", logger.Data{"count": n})
		}
	}

	prov, err := e.providerService.RetrieveProvider(dbCtx, providers.RetrieveProviderOptions{
		ID: &job.ProviderID,
	})
	if err != nil {
		return e.failJob(ctx, job, nil, err)
	}

	backend, err := e.backendFactory(prov)
	if err != nil {
		return e.failJob(ctx, job, nil, err)
	}

	// The constraint gate runs before any provider traffic; a denial is a
	// normal failure, not a crash.
	allowed, err := e.netCheck.AllowSync(ctx)
	if err != nil {
		return e.failJob(ctx, job, nil, err)
	}
	if !allowed {
		return e.failJob(ctx, job, nil, errcodes.NetworkRestricted())
	}

	run := &runState{job: job, provider: prov, backend: backend}

	e.publish(events.TypeJobStarted, job, nil)

	err = e.discoveryPhase(ctx, run)
	if err == nil {
		err = e.processingPhase(ctx, run)
	}
	if err == nil {
		err = e.conflictsPhase(ctx, run)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return e.cancelJob(ctx, job, run)
		}
		return e.failJob(ctx, job, run, err)
	}

	return e.completeJob(ctx, run)
}

func (e *Engine) completeJob(ctx context.Context, run *runState) error {
	job := run.job
	now := time.Now()

	if err := job.Complete(run.stats(), now); err != nil {
		return errors.WithStack(err)
	}

	err := e.jobService.UpdateSyncJob(ctx, job, syncjobs.UpdateSyncJobOptions{
		Columns: []string{
			"status", "items_processed", "items_failed",
			"stat_added", "stat_updated", "stat_deleted", "stat_failed",
			"completed_at",
		},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	// The provider keeps the resume point even after this job is pruned.
	err = e.providerService.RecordSyncCursor(ctx, run.provider, job.Cursor, now)
	if err != nil {
		return errors.WithStack(err)
	}

	if err := e.queueService.CleanupCompleted(ctx, job.ID); err != nil {
		return errors.WithStack(err)
	}
	err = e.jobService.PruneHistory(ctx, job.ProviderID, e.config.UserConfig.JobHistoryLimit)
	if err != nil {
		return errors.WithStack(err)
	}

	e.publish(events.TypeJobCompleted, job, statsData(job))

	return nil
}

// failJob lands the job in failed. run may be nil when the failure happened
// before any work started.
func (e *Engine) failJob(ctx context.Context, job *models.SyncJob, run *runState, cause error) error {
	// The causing context may be dead; terminal writes still have to land.
	ctx = context.WithoutCancel(ctx)

	if run != nil {
		job.RecordStats(run.stats())
	}
	if err := job.Fail(cause.Error(), time.Now()); err != nil {
		return errors.WithStack(err)
	}

	err := e.jobService.UpdateSyncJob(ctx, job, syncjobs.UpdateSyncJobOptions{
		Columns: []string{
			"status", "error", "items_processed", "items_failed",
			"stat_added", "stat_updated", "stat_deleted", "stat_failed",
			"completed_at",
		},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	data := statsData(job)
	data["error"] = cause.Error()
	e.publish(events.TypeJobFailed, job, data)

	return errors.WithStack(cause)
}

func (e *Engine) cancelJob(ctx context.Context, job *models.SyncJob, run *runState) error {
	ctx = context.WithoutCancel(ctx)

	// Work finished before the cancel counts; the stats cover only fully
	// completed items.
	job.RecordStats(run.stats())
	if err := job.Cancel(time.Now()); err != nil {
		return errors.WithStack(err)
	}

	err := e.jobService.UpdateSyncJob(ctx, job, syncjobs.UpdateSyncJobOptions{
		Columns: []string{
			"status", "items_processed", "items_failed",
			"stat_added", "stat_updated", "stat_deleted", "stat_failed",
			"completed_at",
		},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	e.publish(events.TypeJobCancelled, job, statsData(job))

	return nil
}

func statsData(job *models.SyncJob) map[string]any {
	stats := job.Stats()
	return map[string]any{
		"items_added":   stats.ItemsAdded,
		"items_updated": stats.ItemsUpdated,
		"items_deleted": stats.ItemsDeleted,
		"items_failed":  stats.ItemsFailed,
	}
}

// conflictsPhase sweeps the library for duplicates under the configured
// policy. Detection is library wide so cross-provider copies are caught.
func (e *Engine) conflictsPhase(ctx context.Context, run *runState) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}

	job := run.job
	job.Phase = models.SyncPhaseConflicts
	err := e.jobService.UpdateSyncJob(ctx, job, syncjobs.UpdateSyncJobOptions{
		Columns: []string{"phase"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	result, err := e.conflictService.DetectDuplicates(ctx, conflicts.DetectDuplicatesOptions{
		Policy:    e.config.UserConfig.ConflictPolicy,
		SyncJobID: job.ID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	run.mu.Lock()
	run.deleted += result.TracksRemoved
	run.mu.Unlock()

	return nil
}

func (e *Engine) publish(eventType string, job *models.SyncJob, data map[string]any) {
	e.sink.Publish(events.Event{
		Type:       eventType,
		SyncJobID:  job.ID,
		ProviderID: job.ProviderID,
		OccurredAt: time.Now(),
		Data:       data,
	})
}
