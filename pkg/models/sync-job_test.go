package models

import (
	"testing"
	"time"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncJobStart(t *testing.T) {
	now := time.Now()
	job := &SyncJob{Status: SyncJobStatusPending}

	err := job.Start(now)
	require.NoError(t, err)
	assert.Equal(t, SyncJobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, now, *job.StartedAt)
}

func TestSyncJobStart_RequiresPending(t *testing.T) {
	for _, status := range []string{SyncJobStatusRunning, SyncJobStatusCompleted, SyncJobStatusFailed, SyncJobStatusCancelled} {
		t.Run(status, func(t *testing.T) {
			job := &SyncJob{Status: status}
			err := job.Start(time.Now())
			require.Error(t, err)
			assert.True(t, errcodes.IsInvalidStateTransition(err))
		})
	}
}

func TestSyncJobComplete(t *testing.T) {
	now := time.Now()
	job := &SyncJob{Status: SyncJobStatusRunning}
	stats := SyncJobStats{ItemsAdded: 3, ItemsUpdated: 1, ItemsDeleted: 2, ItemsFailed: 1}

	err := job.Complete(stats, now)
	require.NoError(t, err)
	assert.Equal(t, SyncJobStatusCompleted, job.Status)
	assert.Equal(t, stats, job.Stats())
	require.NotNil(t, job.CompletedAt)
}

func TestSyncJobComplete_RequiresRunning(t *testing.T) {
	job := &SyncJob{Status: SyncJobStatusPending}
	err := job.Complete(SyncJobStats{}, time.Now())
	require.Error(t, err)
	assert.True(t, errcodes.IsInvalidStateTransition(err))
}

func TestSyncJobFail_FromPendingAndRunning(t *testing.T) {
	for _, status := range []string{SyncJobStatusPending, SyncJobStatusRunning} {
		t.Run(status, func(t *testing.T) {
			job := &SyncJob{Status: status}
			err := job.Fail("provider unreachable", time.Now())
			require.NoError(t, err)
			assert.Equal(t, SyncJobStatusFailed, job.Status)
			require.NotNil(t, job.Error)
			assert.Equal(t, "provider unreachable", *job.Error)
		})
	}
}

func TestSyncJobCancel_FromPendingAndRunning(t *testing.T) {
	for _, status := range []string{SyncJobStatusPending, SyncJobStatusRunning} {
		t.Run(status, func(t *testing.T) {
			job := &SyncJob{Status: status}
			err := job.Cancel(time.Now())
			require.NoError(t, err)
			assert.Equal(t, SyncJobStatusCancelled, job.Status)
		})
	}
}

func TestSyncJobTerminalStatesRejectAllTransitions(t *testing.T) {
	now := time.Now()
	for _, status := range []string{SyncJobStatusCompleted, SyncJobStatusFailed, SyncJobStatusCancelled} {
		t.Run(status, func(t *testing.T) {
			job := &SyncJob{Status: status}
			assert.True(t, job.Terminal())

			assert.True(t, errcodes.IsInvalidStateTransition(job.Start(now)))
			assert.True(t, errcodes.IsInvalidStateTransition(job.Complete(SyncJobStats{}, now)))
			assert.True(t, errcodes.IsInvalidStateTransition(job.Fail("nope", now)))
			assert.True(t, errcodes.IsInvalidStateTransition(job.Cancel(now)))
			// Status is unchanged after rejected transitions.
			assert.Equal(t, status, job.Status)
		})
	}
}

func TestSyncJobPercent(t *testing.T) {
	job := &SyncJob{Status: SyncJobStatusRunning}
	assert.Equal(t, 0, job.Percent())

	job.ItemsDiscovered = 10
	job.ItemsProcessed = 5
	assert.Equal(t, 50, job.Percent())

	job.ItemsFailed = 2
	assert.Equal(t, 70, job.Percent())

	// Never exceeds 100 even if counts drift.
	job.ItemsProcessed = 20
	assert.Equal(t, 100, job.Percent())

	empty := &SyncJob{Status: SyncJobStatusCompleted}
	assert.Equal(t, 100, empty.Percent())
}

func TestTrackTombstone(t *testing.T) {
	now := time.Now()
	track := &Track{ProviderFileID: "id:abc123"}

	track.Tombstone(now)
	assert.Equal(t, "deleted:id:abc123", track.ProviderFileID)
	assert.True(t, track.Tombstoned())
	require.NotNil(t, track.DeletedAt)

	// Idempotent: a second tombstone doesn't stack prefixes.
	track.Tombstone(now.Add(time.Hour))
	assert.Equal(t, "deleted:id:abc123", track.ProviderFileID)
	assert.Equal(t, now, *track.DeletedAt)
}
