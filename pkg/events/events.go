package events

import (
	"time"
)

const (
	TypeJobStarted       = "job.started"
	TypeJobProgress      = "job.progress"
	TypeJobCompleted     = "job.completed"
	TypeJobFailed        = "job.failed"
	TypeJobCancelled     = "job.cancelled"
	TypeConflictDetected = "conflict.detected"
)

// Event is a point-in-time notification about a sync run. Events are
// advisory; nothing in the sync pipeline depends on one being observed.
type Event struct {
	Type       string         `json:"type"`
	SyncJobID  int            `json:"sync_job_id"`
	ProviderID int            `json:"provider_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Sink receives events. Publish must not block; slow consumers lose events
// rather than stalling the sync pipeline.
type Sink interface {
	Publish(event Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Publish(Event) {}
