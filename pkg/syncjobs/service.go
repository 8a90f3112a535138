package syncjobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveSyncJobOptions struct {
	ID *int
}

type ListSyncJobsOptions struct {
	Limit              *int
	Offset             *int
	ProviderID         *int
	Statuses           []string
	ProcessIDToExclude *string

	includeTotal bool
}

type UpdateSyncJobOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(job).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveSyncJob(ctx context.Context, opts RetrieveSyncJobOptions) (*models.SyncJob, error) {
	job := &models.SyncJob{}

	q := svc.db.
		NewSelect().
		Model(job).
		Relation("Provider")

	if opts.ID != nil {
		q = q.Where("sj.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Sync job")
		}
		return nil, errors.WithStack(err)
	}

	return job, nil
}

func (svc *Service) ListSyncJobs(ctx context.Context, opts ListSyncJobsOptions) ([]*models.SyncJob, error) {
	jobs, _, err := svc.listSyncJobsWithTotal(ctx, opts)
	return jobs, errors.WithStack(err)
}

func (svc *Service) ListSyncJobsWithTotal(ctx context.Context, opts ListSyncJobsOptions) ([]*models.SyncJob, int, error) {
	opts.includeTotal = true
	return svc.listSyncJobsWithTotal(ctx, opts)
}

func (svc *Service) listSyncJobsWithTotal(ctx context.Context, opts ListSyncJobsOptions) ([]*models.SyncJob, int, error) {
	jobs := []*models.SyncJob{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&jobs).
		Order("sj.created_at ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.ProviderID != nil {
		q = q.Where("sj.provider_id = ?", *opts.ProviderID)
	}
	if opts.Statuses != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, s := range opts.Statuses {
				sq = sq.WhereOr("sj.status = ?", s)
			}
			return sq
		})
	}
	if opts.ProcessIDToExclude != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("sj.process_id IS NULL").
				WhereOr("sj.process_id != ?", *opts.ProcessIDToExclude)
		})
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return jobs, total, nil
}

// HasActiveJobForProvider checks if there's a pending or running sync job for
// the given provider. Only one run per provider may be active at a time.
func (svc *Service) HasActiveJobForProvider(ctx context.Context, providerID int) (bool, error) {
	count, err := svc.db.NewSelect().
		Model((*models.SyncJob)(nil)).
		Where("provider_id = ?", providerID).
		WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("status = ?", models.SyncJobStatusPending).
				WhereOr("status = ?", models.SyncJobStatusRunning)
		}).
		Count(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

// MostRecentJobForProvider returns the newest job for a provider regardless
// of status, or NotFound.
func (svc *Service) MostRecentJobForProvider(ctx context.Context, providerID int) (*models.SyncJob, error) {
	job := &models.SyncJob{}

	err := svc.db.
		NewSelect().
		Model(job).
		Where("sj.provider_id = ?", providerID).
		Order("sj.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Sync job")
		}
		return nil, errors.WithStack(err)
	}

	return job, nil
}

func (svc *Service) UpdateSyncJob(ctx context.Context, job *models.SyncJob, opts UpdateSyncJobOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	job.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(job).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Sync job")
		}
		return errors.WithStack(err)
	}

	return nil
}

// PruneHistory deletes a provider's oldest terminal jobs beyond keep, along
// with their work items.
func (svc *Service) PruneHistory(ctx context.Context, providerID, keep int) error {
	ids := []int{}
	err := svc.db.
		NewSelect().
		Model((*models.SyncJob)(nil)).
		Column("sj.id").
		Where("sj.provider_id = ?", providerID).
		WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("sj.status = ?", models.SyncJobStatusCompleted).
				WhereOr("sj.status = ?", models.SyncJobStatusFailed).
				WhereOr("sj.status = ?", models.SyncJobStatusCancelled)
		}).
		Order("sj.created_at DESC").
		Offset(keep).
		Limit(1000).
		Scan(ctx, &ids)
	if err != nil {
		return errors.WithStack(err)
	}
	if len(ids) == 0 {
		return nil
	}

	_, err = svc.db.
		NewDelete().
		Model((*models.WorkItem)(nil)).
		Where("sync_job_id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	_, err = svc.db.
		NewDelete().
		Model((*models.SyncJob)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	return errors.WithStack(err)
}
