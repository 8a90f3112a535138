package tracks

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/migrations"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/pkg/errors"
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

func createTestProvider(t *testing.T, db *bun.DB) *models.Provider {
	t.Helper()
	now := time.Now()
	p := &models.Provider{Name: "Test Dropbox", Kind: models.ProviderKindDropbox, CreatedAt: now, UpdatedAt: now}
	_, err := db.NewInsert().Model(p).Exec(context.Background())
	require.NoError(t, err)
	return p
}

func TestCreateAndRetrieveTrack(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	p := createTestProvider(t, db)

	track := &models.Track{
		ProviderID:     p.ID,
		ProviderFileID: "id:abc",
		Path:           "/Music/song.mp3",
		Title:          "Song",
		ContentHash:    "hash1",
	}
	err := svc.CreateTrack(ctx, track)
	require.NoError(t, err)
	assert.NotZero(t, track.ID)

	got, err := svc.RetrieveTrack(ctx, RetrieveTrackOptions{ID: &track.ID})
	require.NoError(t, err)
	assert.Equal(t, "Song", got.Title)

	fileID := "id:abc"
	got, err = svc.RetrieveTrack(ctx, RetrieveTrackOptions{ProviderID: &p.ID, ProviderFileID: &fileID})
	require.NoError(t, err)
	assert.Equal(t, track.ID, got.ID)
}

func TestRetrieveTrack_NotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	id := 9999
	_, err := svc.RetrieveTrack(context.Background(), RetrieveTrackOptions{ID: &id})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcodes.NotFound("Track")))
}

func TestListTracks_ExcludesDeletedByDefault(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	p := createTestProvider(t, db)

	live := &models.Track{ProviderID: p.ID, ProviderFileID: "id:1", Path: "/a.mp3", Title: "A"}
	require.NoError(t, svc.CreateTrack(ctx, live))

	dead := &models.Track{ProviderID: p.ID, ProviderFileID: "id:2", Path: "/b.mp3", Title: "B"}
	require.NoError(t, svc.CreateTrack(ctx, dead))
	dead.Tombstone(time.Now())
	require.NoError(t, svc.UpdateTrack(ctx, dead, UpdateTrackOptions{Columns: []string{"provider_file_id", "deleted_at"}}))

	tracks, total, err := svc.ListTracksWithTotal(ctx, ListTracksOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, tracks, 1)
	assert.Equal(t, live.ID, tracks[0].ID)

	tracks, err = svc.ListTracks(ctx, ListTracksOptions{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, tracks, 2)
}

func TestListDuplicateHashes(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	p := createTestProvider(t, db)

	for i, hash := range []string{"dup", "dup", "unique"} {
		track := &models.Track{
			ProviderID:     p.ID,
			ProviderFileID: "id:" + string(rune('a'+i)),
			Path:           "/" + string(rune('a'+i)) + ".mp3",
			Title:          "T",
			ContentHash:    hash,
		}
		require.NoError(t, svc.CreateTrack(ctx, track))
	}

	hashes, err := svc.ListDuplicateHashes(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dup"}, hashes)
}

func TestFindOrCreateArtist_IsIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	first, err := svc.FindOrCreateArtist(ctx, "The Divers")
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	// Case-insensitive match returns the same row.
	second, err := svc.FindOrCreateArtist(ctx, "the divers")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestFindOrCreateAlbum_ScopedToArtist(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	artist, err := svc.FindOrCreateArtist(ctx, "The Divers")
	require.NoError(t, err)
	other, err := svc.FindOrCreateArtist(ctx, "Someone Else")
	require.NoError(t, err)

	a1, err := svc.FindOrCreateAlbum(ctx, "Low Tide", &artist.ID, nil)
	require.NoError(t, err)
	a2, err := svc.FindOrCreateAlbum(ctx, "Low Tide", &other.ID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a1.ID, a2.ID)

	again, err := svc.FindOrCreateAlbum(ctx, "low tide", &artist.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, again.ID)
}
