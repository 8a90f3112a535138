package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	WorkItemStatusPending    = "pending"
	WorkItemStatusProcessing = "processing"
	WorkItemStatusCompleted  = "completed"
	WorkItemStatusFailed     = "failed"
)

// Priorities are stored as integers so the dequeue ORDER BY is a plain index
// scan. Higher dequeues first.
const (
	WorkItemPriorityLow    = 0
	WorkItemPriorityNormal = 1
	WorkItemPriorityHigh   = 2
)

// WorkItem is one file discovered during a sync run, queued for processing.
// It belongs exclusively to the job that created it.
type WorkItem struct {
	bun.BaseModel `bun:"table:work_items,alias:wi"`

	ID                 int        `bun:",pk,nullzero" json:"id"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	SyncJobID          int        `bun:",nullzero" json:"sync_job_id"`
	RemoteFileID       string     `bun:",nullzero" json:"remote_file_id"`
	Path               string     `bun:",nullzero" json:"path"`
	Size               int64      `json:"size"`
	MimeType           string     `json:"mime_type"`
	ProviderModifiedAt *time.Time `json:"provider_modified_at,omitempty"`
	Priority           int        `json:"priority"`
	Status             string     `bun:",nullzero" json:"status"`
	RetryCount         int        `json:"retry_count"`
	LastError          *string    `json:"last_error,omitempty"`
	// NotBefore is the backoff gate; a pending item is not eligible for
	// dequeue until it passes.
	NotBefore *time.Time `json:"not_before,omitempty"`
}
