package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ariamusic/aria/pkg/models"
	"github.com/ariamusic/aria/pkg/providers"
	"github.com/ariamusic/aria/pkg/syncjobs"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerTick_SchedulesStaleProviders(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	providerService := providers.NewService(db)
	jobService := syncjobs.NewService(db)

	stale := &models.Provider{Name: "Stale", Kind: models.ProviderKindDropbox}
	require.NoError(t, providerService.CreateProvider(ctx, stale))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, providerService.RecordSyncCursor(ctx, stale, pointerutil.String("cursor-1"), old))

	fresh := &models.Provider{Name: "Fresh", Kind: models.ProviderKindDropbox}
	require.NoError(t, providerService.CreateProvider(ctx, fresh))
	require.NoError(t, providerService.RecordSyncCursor(ctx, fresh, pointerutil.String("cursor-2"), time.Now()))

	s := NewScheduler(60, providerService, jobService)
	require.NoError(t, s.Tick(ctx))

	jobs, err := jobService.ListSyncJobs(ctx, syncjobs.ListSyncJobsOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stale.ID, jobs[0].ProviderID)
	assert.Equal(t, models.SyncTypeIncremental, jobs[0].SyncType)
	assert.Equal(t, models.SyncJobStatusPending, jobs[0].Status)
}

func TestSchedulerTick_NeverSyncedGetsFull(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	providerService := providers.NewService(db)
	jobService := syncjobs.NewService(db)

	p := &models.Provider{Name: "New", Kind: models.ProviderKindDropbox}
	require.NoError(t, providerService.CreateProvider(ctx, p))

	s := NewScheduler(60, providerService, jobService)
	require.NoError(t, s.Tick(ctx))

	jobs, err := jobService.ListSyncJobs(ctx, syncjobs.ListSyncJobsOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.SyncTypeFull, jobs[0].SyncType)
}

func TestSchedulerTick_SkipsActiveJobs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	providerService := providers.NewService(db)
	jobService := syncjobs.NewService(db)

	p := &models.Provider{Name: "Busy", Kind: models.ProviderKindDropbox}
	require.NoError(t, providerService.CreateProvider(ctx, p))

	active := &models.SyncJob{ProviderID: p.ID, SyncType: models.SyncTypeFull, Status: models.SyncJobStatusRunning}
	require.NoError(t, jobService.CreateSyncJob(ctx, active))

	s := NewScheduler(60, providerService, jobService)
	require.NoError(t, s.Tick(ctx))

	jobs, err := jobService.ListSyncJobs(ctx, syncjobs.ListSyncJobsOptions{})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestSchedulerTick_DisabledInterval(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	providerService := providers.NewService(db)
	jobService := syncjobs.NewService(db)

	p := &models.Provider{Name: "Idle", Kind: models.ProviderKindDropbox}
	require.NoError(t, providerService.CreateProvider(ctx, p))

	s := NewScheduler(0, providerService, jobService)
	require.NoError(t, s.Tick(ctx))

	jobs, err := jobService.ListSyncJobs(ctx, syncjobs.ListSyncJobsOptions{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
