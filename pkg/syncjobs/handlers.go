package syncjobs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/ariamusic/aria/pkg/workqueue"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// Canceller signals a running sync job to stop at its next safe point.
// Implemented by the engine; satisfied trivially in tests.
type Canceller interface {
	RequestCancel(jobID int) bool
}

type handler struct {
	jobService   *Service
	queueService *workqueue.Service
	canceller    Canceller
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := CreateSyncJobPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	// A second start request while a run is active is rejected, not queued.
	hasActive, err := h.jobService.HasActiveJobForProvider(ctx, params.ProviderID)
	if err != nil {
		return errors.WithStack(err)
	}
	if hasActive {
		return errcodes.Conflict("A sync is already running or pending for this provider.")
	}

	job := &models.SyncJob{
		ProviderID: params.ProviderID,
		SyncType:   params.SyncType,
		Status:     models.SyncJobStatusPending,
	}

	err = h.jobService.CreateSyncJob(ctx, job)
	if err != nil {
		return errors.WithStack(err)
	}

	job, err = h.jobService.RetrieveSyncJob(ctx, RetrieveSyncJobOptions{
		ID: &job.ID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Sync job")
	}

	job, err := h.jobService.RetrieveSyncJob(ctx, RetrieveSyncJobOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListSyncJobsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	jobs, total, err := h.jobService.ListSyncJobsWithTotal(ctx, ListSyncJobsOptions{
		Limit:      &params.Limit,
		Offset:     &params.Offset,
		ProviderID: params.ProviderID,
		Statuses:   params.Status,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		SyncJobs []*models.SyncJob `json:"sync_jobs"`
		Total    int               `json:"total"`
	}{jobs, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) latest(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := LatestSyncJobQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	job, err := h.jobService.MostRecentJobForProvider(ctx, params.ProviderID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

// listItems exposes a job's queue so per-file failure reasons can be
// inspected after a run.
func (h *handler) listItems(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Sync job")
	}

	// Bind params.
	params := ListWorkItemsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	if _, err := h.jobService.RetrieveSyncJob(ctx, RetrieveSyncJobOptions{ID: &id}); err != nil {
		return errors.WithStack(err)
	}

	items, err := h.queueService.ListWorkItems(ctx, workqueue.ListWorkItemsOptions{
		SyncJobID: &id,
		Statuses:  params.Status,
		Limit:     &params.Limit,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	stats, err := h.queueService.JobStats(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		WorkItems []*models.WorkItem `json:"work_items"`
		Stats     *workqueue.Stats   `json:"stats"`
	}{items, stats}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) cancel(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Sync job")
	}

	job, err := h.jobService.RetrieveSyncJob(ctx, RetrieveSyncJobOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	switch job.Status {
	case models.SyncJobStatusPending:
		// Not claimed yet; cancel it directly.
		if err := job.Cancel(time.Now()); err != nil {
			return errors.WithStack(err)
		}
		err = h.jobService.UpdateSyncJob(ctx, job, UpdateSyncJobOptions{
			Columns: []string{"status", "completed_at"},
		})
		if err != nil {
			return errors.WithStack(err)
		}
	case models.SyncJobStatusRunning:
		// Signal the engine; the job finishes its in-flight items and
		// transitions itself.
		if h.canceller == nil || !h.canceller.RequestCancel(job.ID) {
			return errcodes.Conflict("The sync job is not cancellable right now.")
		}
	default:
		return errcodes.Conflict("The sync job has already finished.")
	}

	job, err = h.jobService.RetrieveSyncJob(ctx, RetrieveSyncJobOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}
