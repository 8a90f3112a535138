package engine

import (
	"context"
	"database/sql"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariamusic/aria/pkg/config"
	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/events"
	"github.com/ariamusic/aria/pkg/migrations"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/ariamusic/aria/pkg/network"
	"github.com/ariamusic/aria/pkg/provider"
	"github.com/ariamusic/aria/pkg/provider/providertest"
	"github.com/ariamusic/aria/pkg/providers"
	"github.com/ariamusic/aria/pkg/syncjobs"
	"github.com/ariamusic/aria/pkg/tracks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testConfig() *config.Config {
	return &config.Config{
		WorkerProcesses: 1,
		UserConfig: &config.UserConfig{
			ConflictPolicy:        "keep_newest",
			JobHistoryLimit:       20,
			ProcessingConcurrency: 1,
			ProgressCadence:       2,
			RetryBaseDelay:        time.Millisecond,
			RetryCeiling:          2,
			RetryMaxDelay:         5 * time.Millisecond,
			SyncIntervalMinutes:   60,
		},
	}
}

type testEnv struct {
	db     *bun.DB
	engine *Engine
	fake   *providertest.Fake
	sink   *captureSink
	prov   *models.Provider
}

type captureSink struct {
	events []events.Event
}

func (c *captureSink) Publish(ev events.Event) {
	c.events = append(c.events, ev)
}

func (c *captureSink) ofType(eventType string) []events.Event {
	out := []events.Event{}
	for _, ev := range c.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	fake := providertest.New()
	sink := &captureSink{}

	e := New(testConfig(), db, Options{
		BackendFactory: func(p *models.Provider) (provider.StorageProvider, error) {
			return fake, nil
		},
		Sink: sink,
	})
	e.pollInterval = time.Millisecond

	now := time.Now()
	prov := &models.Provider{Name: "Test Dropbox", Kind: models.ProviderKindDropbox, CreatedAt: now, UpdatedAt: now}
	_, err := db.NewInsert().Model(prov).Exec(context.Background())
	require.NoError(t, err)

	return &testEnv{db: db, engine: e, fake: fake, sink: sink, prov: prov}
}

func (env *testEnv) createJob(t *testing.T, syncType string) *models.SyncJob {
	t.Helper()
	job := &models.SyncJob{
		ProviderID: env.prov.ID,
		SyncType:   syncType,
		Status:     models.SyncJobStatusPending,
	}
	require.NoError(t, env.engine.jobService.CreateSyncJob(context.Background(), job))
	return job
}

func (env *testEnv) reloadJob(t *testing.T, id int) *models.SyncJob {
	t.Helper()
	job, err := env.engine.jobService.RetrieveSyncJob(context.Background(), syncjobs.RetrieveSyncJobOptions{ID: &id})
	require.NoError(t, err)
	return job
}

// id3v1Tag builds a 128-byte ID3v1.1 trailer.
func id3v1Tag(title, artist, album, year string, track byte) []byte {
	buf := make([]byte, 128)
	copy(buf[0:3], "TAG")
	copy(buf[3:33], title)
	copy(buf[33:63], artist)
	copy(buf[63:93], album)
	copy(buf[93:97], year)
	buf[125] = 0
	buf[126] = track
	buf[127] = 255
	return buf
}

func audioContent(title, artist, album string) []byte {
	return append(make([]byte, 256), id3v1Tag(title, artist, album, "2020", 1)...)
}

func TestRunJob_FullSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg"}, audioContent("One", "Band A", "Album A"))
	env.fake.Put(provider.File{ID: "f2", Path: "/music/two.mp3", MimeType: "audio/mpeg"}, audioContent("Two", "Band A", "Album A"))
	env.fake.Put(provider.File{ID: "skip", Path: "/docs/readme.txt", MimeType: "text/plain"}, []byte("not audio"))

	job := env.createJob(t, models.SyncTypeFull)
	require.NoError(t, env.engine.runJob(ctx, job))

	got := env.reloadJob(t, job.ID)
	assert.Equal(t, models.SyncJobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.ItemsDiscovered)
	assert.Equal(t, 2, got.ItemsProcessed)
	assert.Equal(t, 0, got.ItemsFailed)
	require.NotNil(t, got.Cursor)
	assert.NotNil(t, got.CompletedAt)

	trackService := tracks.NewService(env.db)
	all, err := trackService.ListTracks(ctx, tracks.ListTracksOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "One", all[0].Title)
	require.NotNil(t, all[0].Artist)
	assert.Equal(t, "Band A", all[0].Artist.Name)

	// The completed cursor is mirrored onto the provider.
	prov, err := env.engine.providerService.RetrieveProvider(ctx, providers.RetrieveProviderOptions{ID: &env.prov.ID})
	require.NoError(t, err)
	require.NotNil(t, prov.LastCursor)
	assert.Equal(t, *got.Cursor, *prov.LastCursor)

	assert.Len(t, env.sink.ofType(events.TypeJobStarted), 1)
	assert.Len(t, env.sink.ofType(events.TypeJobCompleted), 1)
	assert.NotEmpty(t, env.sink.ofType(events.TypeJobProgress))
}

func TestRunJob_IncrementalSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg"}, audioContent("One", "Band A", "Album A"))

	full := env.createJob(t, models.SyncTypeFull)
	require.NoError(t, env.engine.runJob(ctx, full))

	// Since the baseline: one added, one deleted.
	env.fake.Put(provider.File{ID: "f2", Path: "/music/two.mp3", MimeType: "audio/mpeg"}, audioContent("Two", "Band B", "Album B"))
	env.fake.Delete("f1")

	incr := env.createJob(t, models.SyncTypeIncremental)
	require.NoError(t, env.engine.runJob(ctx, incr))

	got := env.reloadJob(t, incr.ID)
	assert.Equal(t, models.SyncJobStatusCompleted, got.Status)
	assert.Equal(t, models.SyncTypeIncremental, got.SyncType)
	assert.Equal(t, 1, got.ItemsDiscovered)
	assert.Equal(t, 1, got.StatAdded)
	assert.Equal(t, 1, got.StatDeleted)

	trackService := tracks.NewService(env.db)
	live, err := trackService.ListTracks(ctx, tracks.ListTracksOptions{})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "Two", live[0].Title)
}

func TestRunJob_IncrementalEscalatesWithoutCursor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg"}, audioContent("One", "Band A", "Album A"))

	// No prior completed run, so there is no baseline cursor anywhere.
	job := env.createJob(t, models.SyncTypeIncremental)
	require.NoError(t, env.engine.runJob(ctx, job))

	got := env.reloadJob(t, job.ID)
	assert.Equal(t, models.SyncJobStatusCompleted, got.Status)
	assert.Equal(t, models.SyncTypeFull, got.SyncType)
	assert.Equal(t, 1, got.ItemsDiscovered)
}

func TestDiscoverChanges_DeltasJumpTheBacklog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg"}, audioContent("One", "Band A", "Album A"))

	job := env.createJob(t, models.SyncTypeIncremental)
	cursor := "0"
	job.Cursor = &cursor

	run := &runState{job: job, provider: env.prov, backend: env.fake}
	_, _, err := env.engine.discoverChanges(ctx, run)
	require.NoError(t, err)

	item, err := env.engine.queueService.Dequeue(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.WorkItemPriorityHigh, item.Priority)
}

func TestRunJob_RenameAppliedWithoutRedownload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	modified := time.Now().Add(-time.Hour)
	content := audioContent("One", "Band A", "Album A")
	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg", ModifiedAt: modified}, content)

	full := env.createJob(t, models.SyncTypeFull)
	require.NoError(t, env.engine.runJob(ctx, full))

	// Same file id and content at a new path.
	env.fake.Put(provider.File{ID: "f1", Path: "/music/moved/one.mp3", MimeType: "audio/mpeg", ModifiedAt: modified}, content)

	incr := env.createJob(t, models.SyncTypeIncremental)
	require.NoError(t, env.engine.runJob(ctx, incr))

	got := env.reloadJob(t, incr.ID)
	assert.Equal(t, models.SyncJobStatusCompleted, got.Status)
	assert.Equal(t, 0, got.ItemsDiscovered)
	assert.Equal(t, 0, got.StatAdded)
	assert.Equal(t, 0, got.StatUpdated)

	trackService := tracks.NewService(env.db)
	track, err := trackService.RetrieveTrack(ctx, tracks.RetrieveTrackOptions{ProviderID: &env.prov.ID})
	require.NoError(t, err)
	assert.Equal(t, "/music/moved/one.mp3", track.Path)
}

func TestRunJob_ReprocessedFileCountsAsUpdated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg"}, audioContent("One", "Band A", "Album A"))

	first := env.createJob(t, models.SyncTypeFull)
	require.NoError(t, env.engine.runJob(ctx, first))

	second := env.createJob(t, models.SyncTypeFull)
	require.NoError(t, env.engine.runJob(ctx, second))

	got := env.reloadJob(t, second.ID)
	assert.Equal(t, 0, got.StatAdded)
	assert.Equal(t, 1, got.StatUpdated)

	trackService := tracks.NewService(env.db)
	all, err := trackService.ListTracks(ctx, tracks.ListTracksOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// failingBackend rejects downloads for specific file ids while passing
// everything else through.
type failingBackend struct {
	*providertest.Fake
	failIDs map[string]bool
}

func (b *failingBackend) Download(ctx context.Context, fileID string, rng *provider.ByteRange) (io.ReadCloser, error) {
	if b.failIDs[fileID] {
		return nil, errcodes.ProviderUnavailable("simulated outage for " + fileID)
	}
	return b.Fake.Download(ctx, fileID, rng)
}

func TestRunJob_PartialFailureCompletesJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	backend := &failingBackend{Fake: env.fake, failIDs: map[string]bool{"bad": true}}
	env.engine.backendFactory = func(p *models.Provider) (provider.StorageProvider, error) {
		return backend, nil
	}

	env.fake.Put(provider.File{ID: "good", Path: "/music/good.mp3", MimeType: "audio/mpeg"}, audioContent("Good", "Band A", "Album A"))
	env.fake.Put(provider.File{ID: "bad", Path: "/music/bad.mp3", MimeType: "audio/mpeg"}, audioContent("Bad", "Band A", "Album A"))

	job := env.createJob(t, models.SyncTypeFull)
	require.NoError(t, env.engine.runJob(ctx, job))

	// The failing item exhausts its retries; the run still completes.
	got := env.reloadJob(t, job.ID)
	assert.Equal(t, models.SyncJobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.ItemsProcessed)
	assert.Equal(t, 1, got.ItemsFailed)
	assert.Equal(t, 1, got.StatFailed)

	trackService := tracks.NewService(env.db)
	all, err := trackService.ListTracks(ctx, tracks.ListTracksOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Good", all[0].Title)
}

func TestRunJob_DiscoveryErrorFailsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.ListErr = errcodes.ProviderUnavailable("account unreachable")

	job := env.createJob(t, models.SyncTypeFull)
	err := env.engine.runJob(ctx, job)
	require.Error(t, err)

	got := env.reloadJob(t, job.ID)
	assert.Equal(t, models.SyncJobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "account unreachable")
	assert.Nil(t, got.Cursor)

	assert.Len(t, env.sink.ofType(events.TypeJobFailed), 1)
}

// cancelAfterBackend cancels the run once its first download has gone
// through, so the second item is cut off mid-processing.
type cancelAfterBackend struct {
	*providertest.Fake
	cancel    context.CancelFunc
	downloads int32
}

func (b *cancelAfterBackend) Download(ctx context.Context, fileID string, rng *provider.ByteRange) (io.ReadCloser, error) {
	if atomic.AddInt32(&b.downloads, 1) > 1 {
		b.cancel()
		return nil, ctx.Err()
	}
	return b.Fake.Download(ctx, fileID, rng)
}

func TestRunJob_CancelledMidProcessingKeepsStats(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &cancelAfterBackend{Fake: env.fake, cancel: cancel}
	env.engine.backendFactory = func(p *models.Provider) (provider.StorageProvider, error) {
		return backend, nil
	}

	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg"}, audioContent("One", "Band A", "Album A"))
	env.fake.Put(provider.File{ID: "f2", Path: "/music/two.mp3", MimeType: "audio/mpeg"}, audioContent("Two", "Band A", "Album A"))

	job := env.createJob(t, models.SyncTypeFull)
	require.NoError(t, env.engine.runJob(ctx, job))

	// Work finished before the cancel shows in the final statistics.
	got := env.reloadJob(t, job.ID)
	assert.Equal(t, models.SyncJobStatusCancelled, got.Status)
	assert.Equal(t, 1, got.ItemsProcessed)
	assert.Equal(t, 1, got.StatAdded)
	assert.Equal(t, 0, got.StatFailed)

	cancelled := env.sink.ofType(events.TypeJobCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, 1, cancelled[0].Data["items_added"])

	// The cut-off item goes back to pending for the next run.
	stats, err := env.engine.queueService.JobStats(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Completed)
}

func TestRunJob_NetworkDeniedBeforeDiscoveryFailsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.engine.netCheck = network.StaticCheck{}

	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg"}, audioContent("One", "Band A", "Album A"))

	job := env.createJob(t, models.SyncTypeFull)
	err := env.engine.runJob(ctx, job)
	require.Error(t, err)

	got := env.reloadJob(t, job.ID)
	assert.Equal(t, models.SyncJobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "Network constraints")

	// The gate fires before any provider traffic.
	assert.Equal(t, 0, got.ItemsDiscovered)
	assert.Empty(t, env.sink.ofType(events.TypeJobStarted))
	assert.Len(t, env.sink.ofType(events.TypeJobFailed), 1)
}

func TestRunJob_NetworkDeniedMidRunFailsAfterPauseLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Allowed through the gate and discovery, denied from then on.
	var checks int32
	env.engine.netCheck = network.FuncCheck(func(context.Context) (bool, error) {
		return atomic.AddInt32(&checks, 1) == 1, nil
	})
	env.engine.networkPauseLimit = 5 * time.Millisecond

	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg"}, audioContent("One", "Band A", "Album A"))

	job := env.createJob(t, models.SyncTypeFull)
	err := env.engine.runJob(ctx, job)
	require.Error(t, err)

	got := env.reloadJob(t, job.ID)
	assert.Equal(t, models.SyncJobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "Network constraints")

	// The discovered item survives for a run under better conditions.
	stats, err := env.engine.queueService.JobStats(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestRunJob_CancelledBeforeProcessing(t *testing.T) {
	env := newTestEnv(t)

	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg"}, audioContent("One", "Band A", "Album A"))

	job := env.createJob(t, models.SyncTypeFull)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, env.engine.runJob(ctx, job))

	got := env.reloadJob(t, job.ID)
	assert.Equal(t, models.SyncJobStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Len(t, env.sink.ofType(events.TypeJobCancelled), 1)
}

func TestRunJob_OrphanedJobResumes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.Put(provider.File{ID: "f1", Path: "/music/one.mp3", MimeType: "audio/mpeg"}, audioContent("One", "Band A", "Album A"))

	// Simulate a job claimed by a process that died mid-run.
	job := env.createJob(t, models.SyncTypeFull)
	dead := "deadbeef"
	job.Status = models.SyncJobStatusRunning
	job.ProcessID = &dead
	now := time.Now()
	job.StartedAt = &now
	require.NoError(t, env.engine.jobService.UpdateSyncJob(ctx, job, syncjobs.UpdateSyncJobOptions{
		Columns: []string{"status", "process_id", "started_at"},
	}))

	require.NoError(t, env.engine.runJob(ctx, job))

	got := env.reloadJob(t, job.ID)
	assert.Equal(t, models.SyncJobStatusCompleted, got.Status)
	require.NotNil(t, got.ProcessID)
	assert.Equal(t, processID, *got.ProcessID)
}

func TestRequestCancel(t *testing.T) {
	env := newTestEnv(t)

	assert.False(t, env.engine.RequestCancel(42))

	_, cancel := context.WithCancel(context.Background())
	env.engine.registerCancel(42, cancel)
	assert.True(t, env.engine.RequestCancel(42))

	env.engine.unregisterCancel(42)
	assert.False(t, env.engine.RequestCancel(42))
}

func TestIsAudioFile(t *testing.T) {
	assert.True(t, isAudioFile(provider.File{Path: "/a/b.mp3", MimeType: "audio/mpeg"}))
	assert.True(t, isAudioFile(provider.File{Path: "/a/b.FLAC"}))
	assert.True(t, isAudioFile(provider.File{Path: "/a/b.unknown", MimeType: "audio/x-custom"}))
	assert.False(t, isAudioFile(provider.File{Path: "/a/b.txt", MimeType: "text/plain"}))
	assert.False(t, isAudioFile(provider.File{Path: "/a/b.jpg"}))
}
