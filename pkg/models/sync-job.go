package models

import (
	"time"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/uptrace/bun"
)

const (
	SyncJobStatusPending   = "pending"
	SyncJobStatusRunning   = "running"
	SyncJobStatusCompleted = "completed"
	SyncJobStatusFailed    = "failed"
	SyncJobStatusCancelled = "cancelled"
)

const (
	SyncTypeFull        = "full"
	SyncTypeIncremental = "incremental"
)

const (
	SyncPhaseDiscovery  = "discovery"
	SyncPhaseProcessing = "processing"
	SyncPhaseConflicts  = "conflicts"
)

// SyncJobStats is the final outcome tally of one run, set only at
// completion.
type SyncJobStats struct {
	ItemsAdded   int `json:"items_added"`
	ItemsUpdated int `json:"items_updated"`
	ItemsDeleted int `json:"items_deleted"`
	ItemsFailed  int `json:"items_failed"`
}

// SyncJob is one synchronization run for one provider.
type SyncJob struct {
	bun.BaseModel `bun:"table:sync_jobs,alias:sj"`

	ID         int       `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ProviderID int       `bun:",nullzero" json:"provider_id"`
	Provider   *Provider `bun:"rel:belongs-to" json:"provider,omitempty"`
	SyncType   string    `bun:",nullzero" json:"sync_type"`
	Status     string    `bun:",nullzero" json:"status"`
	Phase      string    `json:"phase"`

	ItemsDiscovered int `json:"items_discovered"`
	ItemsProcessed  int `json:"items_processed"`
	ItemsFailed     int `json:"items_failed"`

	StatAdded   int `json:"-"`
	StatUpdated int `json:"-"`
	StatDeleted int `json:"-"`
	StatFailed  int `json:"-"`

	// Cursor is the provider's opaque continuation token, overwritten only
	// after discovery fully completes for this job. Never parsed.
	Cursor *string `json:"cursor,omitempty"`

	Error       *string    `json:"error,omitempty"`
	ProcessID   *string    `json:"process_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Stats returns the finalized run statistics.
func (j *SyncJob) Stats() SyncJobStats {
	return SyncJobStats{
		ItemsAdded:   j.StatAdded,
		ItemsUpdated: j.StatUpdated,
		ItemsDeleted: j.StatDeleted,
		ItemsFailed:  j.StatFailed,
	}
}

// Terminal reports whether the job has reached a final status.
func (j *SyncJob) Terminal() bool {
	switch j.Status {
	case SyncJobStatusCompleted, SyncJobStatusFailed, SyncJobStatusCancelled:
		return true
	}
	return false
}

// Percent derives overall progress, capped at 100.
func (j *SyncJob) Percent() int {
	if j.ItemsDiscovered == 0 {
		if j.Terminal() {
			return 100
		}
		return 0
	}
	percent := (j.ItemsProcessed + j.ItemsFailed) * 100 / j.ItemsDiscovered
	if percent > 100 {
		percent = 100
	}
	return percent
}

// Start transitions the job from pending to running.
func (j *SyncJob) Start(now time.Time) error {
	if j.Status != SyncJobStatusPending {
		return errcodes.InvalidStateTransition(j.Status, SyncJobStatusRunning)
	}
	j.Status = SyncJobStatusRunning
	j.StartedAt = &now
	return nil
}

// RecordStats captures the run tally. Complete does this itself; jobs that
// end failed or cancelled record whatever work finished before the end.
func (j *SyncJob) RecordStats(stats SyncJobStats) {
	j.StatAdded = stats.ItemsAdded
	j.StatUpdated = stats.ItemsUpdated
	j.StatDeleted = stats.ItemsDeleted
	j.StatFailed = stats.ItemsFailed
}

// Complete transitions the job from running to completed and freezes its
// statistics.
func (j *SyncJob) Complete(stats SyncJobStats, now time.Time) error {
	if j.Status != SyncJobStatusRunning {
		return errcodes.InvalidStateTransition(j.Status, SyncJobStatusCompleted)
	}
	j.Status = SyncJobStatusCompleted
	j.RecordStats(stats)
	j.CompletedAt = &now
	return nil
}

// Fail transitions the job from pending or running to failed with a reason.
func (j *SyncJob) Fail(reason string, now time.Time) error {
	if j.Status != SyncJobStatusPending && j.Status != SyncJobStatusRunning {
		return errcodes.InvalidStateTransition(j.Status, SyncJobStatusFailed)
	}
	j.Status = SyncJobStatusFailed
	j.Error = &reason
	j.CompletedAt = &now
	return nil
}

// Cancel transitions the job from pending or running to cancelled.
func (j *SyncJob) Cancel(now time.Time) error {
	if j.Status != SyncJobStatusPending && j.Status != SyncJobStatusRunning {
		return errcodes.InvalidStateTransition(j.Status, SyncJobStatusCancelled)
	}
	j.Status = SyncJobStatusCancelled
	j.CompletedAt = &now
	return nil
}
