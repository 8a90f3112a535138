package workqueue

import (
	"context"
	"database/sql"
	"time"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// Limits controls retry and admission behavior for a queue.
type Limits struct {
	// MaxConcurrent caps how many items may sit in the processing state at
	// once across the whole queue.
	MaxConcurrent int
	// RetryCeiling is the number of retries before an item is permanently
	// failed.
	RetryCeiling int
	// RetryBaseDelay seeds the exponential backoff between retries.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration
}

type EnqueueOptions struct {
	// SkipExisting makes Enqueue a no-op for items whose (sync_job_id,
	// remote_file_id) pair already exists, so a resumed discovery phase can
	// replay pages without duplicating work.
	SkipExisting bool
}

type ListWorkItemsOptions struct {
	SyncJobID *int
	Statuses  []string
	Limit     *int
}

// Stats is a per-job snapshot of queue depth by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (s Stats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

type Service struct {
	db     *bun.DB
	limits Limits
}

func NewService(db *bun.DB, limits Limits) *Service {
	if limits.MaxConcurrent <= 0 {
		limits.MaxConcurrent = 1
	}
	if limits.RetryBaseDelay <= 0 {
		limits.RetryBaseDelay = 2 * time.Second
	}
	if limits.RetryMaxDelay <= 0 {
		limits.RetryMaxDelay = 5 * time.Minute
	}
	return &Service{db: db, limits: limits}
}

// Enqueue inserts a work item. Reports whether a row was actually created;
// with SkipExisting a duplicate comes back false, nil.
func (svc *Service) Enqueue(ctx context.Context, item *models.WorkItem, opts EnqueueOptions) (bool, error) {
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = item.CreatedAt
	if item.Status == "" {
		item.Status = models.WorkItemStatusPending
	}

	q := svc.db.
		NewInsert().
		Model(item)

	if opts.SkipExisting {
		q = q.On("CONFLICT (sync_job_id, remote_file_id) DO NOTHING")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.WithStack(err)
	}

	return affected > 0, nil
}

// Dequeue claims the next eligible pending item for the given job. Eligible
// means past its backoff gate. Items come back highest priority first, oldest
// first within a priority. Returns nil when nothing is eligible or the
// processing cap is reached. The cap counts processing items across every
// job, so concurrent runs share one admission budget.
func (svc *Service) Dequeue(ctx context.Context, syncJobID int) (*models.WorkItem, error) {
	var claimed *models.WorkItem

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		processing, err := tx.NewSelect().
			Model((*models.WorkItem)(nil)).
			Where("wi.status = ?", models.WorkItemStatusProcessing).
			Count(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if processing >= svc.limits.MaxConcurrent {
			return nil
		}

		item := &models.WorkItem{}
		err = tx.NewSelect().
			Model(item).
			Where("wi.sync_job_id = ?", syncJobID).
			Where("wi.status = ?", models.WorkItemStatusPending).
			WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.Where("wi.not_before IS NULL").
					WhereOr("wi.not_before <= ?", time.Now())
			}).
			Order("wi.priority DESC").
			Order("wi.created_at ASC").
			Order("wi.id ASC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return errors.WithStack(err)
		}

		item.Status = models.WorkItemStatusProcessing
		item.UpdatedAt = time.Now()

		// Guard on the previous status so two pollers can't claim the same
		// row.
		res, err := tx.NewUpdate().
			Model(item).
			Column("status", "updated_at").
			Where("wi.id = ?", item.ID).
			Where("wi.status = ?", models.WorkItemStatusPending).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		if affected == 0 {
			return nil
		}

		claimed = item
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return claimed, nil
}

func (svc *Service) MarkComplete(ctx context.Context, item *models.WorkItem) error {
	item.Status = models.WorkItemStatusCompleted
	item.LastError = nil
	item.NotBefore = nil
	item.UpdatedAt = time.Now()

	_, err := svc.db.NewUpdate().
		Model(item).
		Column("status", "last_error", "not_before", "updated_at").
		Where("wi.id = ?", item.ID).
		Exec(ctx)

	return errors.WithStack(err)
}

// MarkFailed records a failure. Below the retry ceiling the item goes back to
// pending behind an exponential backoff gate; at the ceiling, or for a cause
// classified as permanent, it is failed for good. Returns whether the item
// will be retried.
func (svc *Service) MarkFailed(ctx context.Context, item *models.WorkItem, cause error) (bool, error) {
	msg := cause.Error()
	item.LastError = &msg
	item.UpdatedAt = time.Now()

	retry := errcodes.Retryable(cause) && item.RetryCount < svc.limits.RetryCeiling
	if retry {
		delay := svc.backoff(item.RetryCount)
		notBefore := time.Now().Add(delay)
		item.RetryCount++
		item.Status = models.WorkItemStatusPending
		item.NotBefore = &notBefore
	} else {
		item.Status = models.WorkItemStatusFailed
		item.NotBefore = nil
	}

	_, err := svc.db.NewUpdate().
		Model(item).
		Column("status", "retry_count", "last_error", "not_before", "updated_at").
		Where("wi.id = ?", item.ID).
		Exec(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}

	return retry, nil
}

func (svc *Service) backoff(retryCount int) time.Duration {
	// Shift overflows past 62; the cap makes anything that large moot.
	if retryCount > 62 {
		return svc.limits.RetryMaxDelay
	}
	delay := svc.limits.RetryBaseDelay << uint(retryCount)
	if delay <= 0 || delay > svc.limits.RetryMaxDelay {
		delay = svc.limits.RetryMaxDelay
	}
	return delay
}

func (svc *Service) ListWorkItems(ctx context.Context, opts ListWorkItemsOptions) ([]*models.WorkItem, error) {
	items := []*models.WorkItem{}

	q := svc.db.
		NewSelect().
		Model(&items).
		Order("wi.priority DESC").
		Order("wi.created_at ASC").
		Order("wi.id ASC")

	if opts.SyncJobID != nil {
		q = q.Where("wi.sync_job_id = ?", *opts.SyncJobID)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("wi.status IN (?)", bun.In(opts.Statuses))
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return items, nil
}

func (svc *Service) JobStats(ctx context.Context, syncJobID int) (*Stats, error) {
	rows := []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}{}

	err := svc.db.NewSelect().
		Model((*models.WorkItem)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Where("wi.sync_job_id = ?", syncJobID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	stats := &Stats{}
	for _, row := range rows {
		switch row.Status {
		case models.WorkItemStatusPending:
			stats.Pending = row.Count
		case models.WorkItemStatusProcessing:
			stats.Processing = row.Count
		case models.WorkItemStatusCompleted:
			stats.Completed = row.Count
		case models.WorkItemStatusFailed:
			stats.Failed = row.Count
		}
	}

	return stats, nil
}

// HasPendingWork reports whether the job still has items that could run now
// or after a backoff gate passes.
func (svc *Service) HasPendingWork(ctx context.Context, syncJobID int) (bool, error) {
	count, err := svc.db.NewSelect().
		Model((*models.WorkItem)(nil)).
		Where("wi.sync_job_id = ?", syncJobID).
		WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("wi.status = ?", models.WorkItemStatusPending).
				WhereOr("wi.status = ?", models.WorkItemStatusProcessing)
		}).
		Count(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

// RequeueOrphans returns items stranded in the processing state to pending.
// Called on startup so work claimed by a crashed run is not lost.
func (svc *Service) RequeueOrphans(ctx context.Context, syncJobID int) (int, error) {
	res, err := svc.db.NewUpdate().
		Model((*models.WorkItem)(nil)).
		Set("status = ?", models.WorkItemStatusPending).
		Set("updated_at = ?", time.Now()).
		Where("wi.sync_job_id = ?", syncJobID).
		Where("wi.status = ?", models.WorkItemStatusProcessing).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}

	return int(affected), nil
}

// CleanupCompleted deletes completed items for a job once the run is over.
// Failed items are kept for inspection until the job itself is pruned.
func (svc *Service) CleanupCompleted(ctx context.Context, syncJobID int) error {
	_, err := svc.db.NewDelete().
		Model((*models.WorkItem)(nil)).
		Where("wi.sync_job_id = ?", syncJobID).
		Where("wi.status = ?", models.WorkItemStatusCompleted).
		Exec(ctx)

	return errors.WithStack(err)
}
