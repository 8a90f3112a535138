package tracks

import (
	"context"
	"database/sql"
	"time"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveTrackOptions struct {
	ID             *int
	ProviderID     *int
	ProviderFileID *string
	Path           *string
}

type ListTracksOptions struct {
	Limit          *int
	Offset         *int
	ProviderID     *int
	ArtistID       *int
	AlbumID        *int
	ContentHash    *string
	IncludeDeleted bool

	includeTotal bool
}

type UpdateTrackOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateTrack(ctx context.Context, track *models.Track) error {
	now := time.Now()
	if track.CreatedAt.IsZero() {
		track.CreatedAt = now
	}
	track.UpdatedAt = track.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(track).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveTrack(ctx context.Context, opts RetrieveTrackOptions) (*models.Track, error) {
	track := &models.Track{}

	q := svc.db.
		NewSelect().
		Model(track).
		Relation("Artist").
		Relation("Album")

	if opts.ID != nil {
		q = q.Where("t.id = ?", *opts.ID)
	}
	if opts.ProviderID != nil {
		q = q.Where("t.provider_id = ?", *opts.ProviderID)
	}
	if opts.ProviderFileID != nil {
		q = q.Where("t.provider_file_id = ?", *opts.ProviderFileID)
	}
	if opts.Path != nil {
		q = q.Where("t.path = ?", *opts.Path)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Track")
		}
		return nil, errors.WithStack(err)
	}

	return track, nil
}

func (svc *Service) ListTracks(ctx context.Context, opts ListTracksOptions) ([]*models.Track, error) {
	tracks, _, err := svc.listTracksWithTotal(ctx, opts)
	return tracks, errors.WithStack(err)
}

func (svc *Service) ListTracksWithTotal(ctx context.Context, opts ListTracksOptions) ([]*models.Track, int, error) {
	opts.includeTotal = true
	return svc.listTracksWithTotal(ctx, opts)
}

func (svc *Service) listTracksWithTotal(ctx context.Context, opts ListTracksOptions) ([]*models.Track, int, error) {
	tracks := []*models.Track{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&tracks).
		Relation("Artist").
		Relation("Album").
		Order("t.path ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.ProviderID != nil {
		q = q.Where("t.provider_id = ?", *opts.ProviderID)
	}
	if opts.ArtistID != nil {
		q = q.Where("t.artist_id = ?", *opts.ArtistID)
	}
	if opts.AlbumID != nil {
		q = q.Where("t.album_id = ?", *opts.AlbumID)
	}
	if opts.ContentHash != nil {
		q = q.Where("t.content_hash = ?", *opts.ContentHash)
	}
	if !opts.IncludeDeleted {
		q = q.Where("t.deleted_at IS NULL")
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return tracks, total, nil
}

// ListDuplicateHashes returns content hashes shared by more than one live
// track, the input to duplicate detection. An optional provider id narrows
// the scope; the default is library-wide.
func (svc *Service) ListDuplicateHashes(ctx context.Context, providerID *int) ([]string, error) {
	hashes := []string{}

	q := svc.db.
		NewSelect().
		Model((*models.Track)(nil)).
		Column("t.content_hash").
		Where("t.content_hash != ''").
		Where("t.deleted_at IS NULL").
		Group("t.content_hash").
		Having("COUNT(*) > 1").
		Order("t.content_hash ASC")

	if providerID != nil {
		q = q.Where("t.provider_id = ?", *providerID)
	}

	err := q.Scan(ctx, &hashes)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return hashes, nil
}

func (svc *Service) UpdateTrack(ctx context.Context, track *models.Track, opts UpdateTrackOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	track.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(track).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Track")
		}
		return errors.WithStack(err)
	}

	return nil
}

// DeleteTrack removes a track row entirely. Soft deletion goes through
// Track.Tombstone and UpdateTrack instead.
func (svc *Service) DeleteTrack(ctx context.Context, track *models.Track) error {
	_, err := svc.db.
		NewDelete().
		Model(track).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// FindOrCreateArtist resolves an artist by case-insensitive name, creating
// it if absent.
func (svc *Service) FindOrCreateArtist(ctx context.Context, name string) (*models.Artist, error) {
	artist := &models.Artist{}

	err := svc.db.
		NewSelect().
		Model(artist).
		Where("ar.name = ? COLLATE NOCASE", name).
		Scan(ctx)
	if err == nil {
		return artist, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	now := time.Now()
	artist = &models.Artist{Name: name, CreatedAt: now, UpdatedAt: now}
	_, err = svc.db.
		NewInsert().
		Model(artist).
		On("CONFLICT DO NOTHING").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if artist.ID == 0 {
		// Lost a race with a concurrent worker; fetch the winner.
		err = svc.db.
			NewSelect().
			Model(artist).
			Where("ar.name = ? COLLATE NOCASE", name).
			Scan(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return artist, nil
}

// FindOrCreateAlbum resolves an album by case-insensitive name within an
// artist, creating it if absent.
func (svc *Service) FindOrCreateAlbum(ctx context.Context, name string, artistID *int, year *int) (*models.Album, error) {
	album := &models.Album{}

	q := svc.db.
		NewSelect().
		Model(album).
		Where("al.name = ? COLLATE NOCASE", name)
	if artistID != nil {
		q = q.Where("al.artist_id = ?", *artistID)
	} else {
		q = q.Where("al.artist_id IS NULL")
	}

	err := q.Scan(ctx)
	if err == nil {
		return album, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	now := time.Now()
	album = &models.Album{Name: name, ArtistID: artistID, Year: year, CreatedAt: now, UpdatedAt: now}
	_, err = svc.db.
		NewInsert().
		Model(album).
		On("CONFLICT DO NOTHING").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if album.ID == 0 {
		q := svc.db.
			NewSelect().
			Model(album).
			Where("al.name = ? COLLATE NOCASE", name)
		if artistID != nil {
			q = q.Where("al.artist_id = ?", *artistID)
		} else {
			q = q.Where("al.artist_id IS NULL")
		}
		err = q.Scan(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return album, nil
}
