package conflicts

import (
	"context"
	"time"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/events"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/ariamusic/aria/pkg/tracks"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const (
	PolicyKeepNewest = "keep_newest"
	PolicyKeepBoth   = "keep_both"
	PolicyUserPrompt = "user_prompt"
)

type DetectDuplicatesOptions struct {
	// ProviderID narrows detection to one provider's tracks. Detection is
	// library wide when unset, so the same file synced from two providers is
	// still caught.
	ProviderID *int
	Policy     string
	SyncJobID  int
}

type DeletionOptions struct {
	// HardDelete removes the row instead of tombstoning it.
	HardDelete bool
}

// Result summarizes one resolver pass.
type Result struct {
	DuplicateGroups int
	TracksRemoved   int
	Prompted        int
	// GroupErrors counts groups skipped because resolving them errored. The
	// sweep continues past them; the next pass retries.
	GroupErrors int
}

// Service resolves conflicts between the remote library and the local one.
// Every operation is idempotent; a crashed run can safely repeat its sweep.
type Service struct {
	trackService *tracks.Service
	sink         events.Sink
}

func NewService(trackService *tracks.Service, sink events.Sink) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Service{trackService: trackService, sink: sink}
}

// DetectDuplicates finds live tracks sharing a content hash and applies the
// policy. KeepNewest tombstones every loser, KeepBoth leaves the library
// alone, and UserPrompt surfaces each group as an event and defers.
func (svc *Service) DetectDuplicates(ctx context.Context, opts DetectDuplicatesOptions) (*Result, error) {
	result := &Result{}

	hashes, err := svc.trackService.ListDuplicateHashes(ctx, opts.ProviderID)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	log := logger.FromContext(ctx)

	// A group that errors is logged and skipped; the rest of the sweep still
	// runs, and the skipped group comes back on the next pass.
	for _, hash := range hashes {
		group, err := svc.trackService.ListTracks(ctx, tracks.ListTracksOptions{
			ContentHash: &hash,
			ProviderID:  opts.ProviderID,
		})
		if err != nil {
			log.Err(err).Warn("duplicate group lookup error", logger.Data{"content_hash": hash})
			result.GroupErrors++
			continue
		}
		if len(group) < 2 {
			continue
		}
		result.DuplicateGroups++

		switch opts.Policy {
		case PolicyKeepBoth:
			continue
		case PolicyUserPrompt:
			svc.publishConflict(opts.SyncJobID, hash, group)
			result.Prompted++
			continue
		default:
			removed, err := svc.collapseGroup(ctx, group)
			result.TracksRemoved += removed
			if err != nil {
				log.Err(err).Warn("duplicate group skipped", logger.Data{"content_hash": hash})
				result.GroupErrors++
			}
		}
	}

	return result, nil
}

// collapseGroup merges every loser of a duplicate group into the winner and
// removes it. Returns how many tracks were removed before any error.
func (svc *Service) collapseGroup(ctx context.Context, group []*models.Track) (int, error) {
	winner := pickNewest(group)
	removed := 0
	for _, track := range group {
		if track.ID == winner.ID {
			continue
		}
		if err := svc.mergeInto(ctx, winner, track); err != nil {
			return removed, errors.WithStack(err)
		}
		if err := svc.removeTrack(ctx, track, DeletionOptions{}); err != nil {
			return removed, errors.WithStack(err)
		}
		removed++
	}
	return removed, nil
}

// pickNewest chooses the surviving track of a duplicate group. Higher bitrate
// wins, then the later provider modification time, then the lowest id so the
// choice is stable across runs.
func pickNewest(group []*models.Track) *models.Track {
	winner := group[0]
	for _, track := range group[1:] {
		if track.BitrateBps != winner.BitrateBps {
			if track.BitrateBps > winner.BitrateBps {
				winner = track
			}
			continue
		}
		tm := modifiedAt(track)
		wm := modifiedAt(winner)
		if !tm.Equal(wm) {
			if tm.After(wm) {
				winner = track
			}
			continue
		}
		if track.ID < winner.ID {
			winner = track
		}
	}
	return winner
}

func modifiedAt(t *models.Track) time.Time {
	if t.ProviderModifiedAt != nil {
		return *t.ProviderModifiedAt
	}
	return time.Time{}
}

// mergeInto copies tag fields the winner is missing from the loser before the
// loser goes away.
func (svc *Service) mergeInto(ctx context.Context, winner, loser *models.Track) error {
	columns := []string{}

	if winner.ArtistID == nil && loser.ArtistID != nil {
		winner.ArtistID = loser.ArtistID
		columns = append(columns, "artist_id")
	}
	if winner.AlbumID == nil && loser.AlbumID != nil {
		winner.AlbumID = loser.AlbumID
		columns = append(columns, "album_id")
	}
	if winner.TrackNumber == nil && loser.TrackNumber != nil {
		winner.TrackNumber = loser.TrackNumber
		columns = append(columns, "track_number")
	}
	if winner.DiscNumber == nil && loser.DiscNumber != nil {
		winner.DiscNumber = loser.DiscNumber
		columns = append(columns, "disc_number")
	}
	if winner.Genre == nil && loser.Genre != nil {
		winner.Genre = loser.Genre
		columns = append(columns, "genre")
	}
	if winner.Year == nil && loser.Year != nil {
		winner.Year = loser.Year
		columns = append(columns, "year")
	}
	if len(columns) == 0 {
		return nil
	}

	err := svc.trackService.UpdateTrack(ctx, winner, tracks.UpdateTrackOptions{Columns: columns})

	return errors.WithStack(err)
}

// ResolveRename moves a track to its new remote path. Applying the same
// rename twice is a no-op.
func (svc *Service) ResolveRename(ctx context.Context, providerID int, fileID, newPath string) error {
	track, err := svc.trackService.RetrieveTrack(ctx, tracks.RetrieveTrackOptions{
		ProviderID:     &providerID,
		ProviderFileID: &fileID,
	})
	if err != nil {
		if errors.Is(err, errcodes.NotFound("Track")) {
			return nil
		}
		return errors.WithStack(err)
	}
	if track.Path == newPath {
		return nil
	}

	track.Path = newPath
	err = svc.trackService.UpdateTrack(ctx, track, tracks.UpdateTrackOptions{Columns: []string{"path"}})

	return errors.WithStack(err)
}

// HandleDeletion reacts to a remote deletion. The ref is the provider's file
// id, or a path for providers that only report deletions by path. Unknown
// refs and already-removed tracks are no-ops, so deletion replays are safe.
// Returns whether a track was removed.
func (svc *Service) HandleDeletion(ctx context.Context, providerID int, ref string, opts DeletionOptions) (bool, error) {
	track, err := svc.trackService.RetrieveTrack(ctx, tracks.RetrieveTrackOptions{
		ProviderID:     &providerID,
		ProviderFileID: &ref,
	})
	if err != nil {
		if !errors.Is(err, errcodes.NotFound("Track")) {
			return false, errors.WithStack(err)
		}
		// Fall back to a path lookup.
		track, err = svc.trackService.RetrieveTrack(ctx, tracks.RetrieveTrackOptions{
			ProviderID: &providerID,
			Path:       &ref,
		})
		if err != nil {
			if errors.Is(err, errcodes.NotFound("Track")) {
				return false, nil
			}
			return false, errors.WithStack(err)
		}
	}

	err = svc.removeTrack(ctx, track, opts)
	if err != nil {
		return false, errors.WithStack(err)
	}

	return true, nil
}

func (svc *Service) removeTrack(ctx context.Context, track *models.Track, opts DeletionOptions) error {
	if opts.HardDelete {
		return errors.WithStack(svc.trackService.DeleteTrack(ctx, track))
	}

	if track.Tombstoned() {
		return nil
	}
	track.Tombstone(time.Now())

	err := svc.trackService.UpdateTrack(ctx, track, tracks.UpdateTrackOptions{
		Columns: []string{"provider_file_id", "deleted_at"},
	})

	return errors.WithStack(err)
}

// MergeMetadata folds freshly extracted tags into an existing track, keeping
// any local field the extraction could not produce. Returns the columns that
// changed.
func MergeMetadata(track *models.Track, meta *MetadataUpdate) []string {
	columns := []string{}

	if meta.Title != "" && track.Title != meta.Title {
		track.Title = meta.Title
		columns = append(columns, "title")
	}
	if meta.ArtistID != nil && !intPtrEqual(track.ArtistID, meta.ArtistID) {
		track.ArtistID = meta.ArtistID
		columns = append(columns, "artist_id")
	}
	if meta.AlbumID != nil && !intPtrEqual(track.AlbumID, meta.AlbumID) {
		track.AlbumID = meta.AlbumID
		columns = append(columns, "album_id")
	}
	if meta.TrackNumber != nil && !intPtrEqual(track.TrackNumber, meta.TrackNumber) {
		track.TrackNumber = meta.TrackNumber
		columns = append(columns, "track_number")
	}
	if meta.DiscNumber != nil && !intPtrEqual(track.DiscNumber, meta.DiscNumber) {
		track.DiscNumber = meta.DiscNumber
		columns = append(columns, "disc_number")
	}
	if meta.Genre != nil && !strPtrEqual(track.Genre, meta.Genre) {
		track.Genre = meta.Genre
		columns = append(columns, "genre")
	}
	if meta.Year != nil && !intPtrEqual(track.Year, meta.Year) {
		track.Year = meta.Year
		columns = append(columns, "year")
	}
	if meta.DurationMs > 0 && track.DurationMs != meta.DurationMs {
		track.DurationMs = meta.DurationMs
		columns = append(columns, "duration_ms")
	}
	if meta.BitrateBps > 0 && track.BitrateBps != meta.BitrateBps {
		track.BitrateBps = meta.BitrateBps
		columns = append(columns, "bitrate_bps")
	}
	if meta.ContentHash != "" && track.ContentHash != meta.ContentHash {
		track.ContentHash = meta.ContentHash
		columns = append(columns, "content_hash")
	}
	if meta.MimeType != "" && track.MimeType != meta.MimeType {
		track.MimeType = meta.MimeType
		columns = append(columns, "mime_type")
	}

	return columns
}

// MetadataUpdate is the resolved form of an extraction, with tag strings
// already mapped to artist and album rows.
type MetadataUpdate struct {
	Title       string
	ArtistID    *int
	AlbumID     *int
	TrackNumber *int
	DiscNumber  *int
	Genre       *string
	Year        *int
	DurationMs  int64
	BitrateBps  int
	ContentHash string
	MimeType    string
}

func (svc *Service) publishConflict(syncJobID int, hash string, group []*models.Track) {
	ids := make([]int, 0, len(group))
	paths := make([]string, 0, len(group))
	for _, track := range group {
		ids = append(ids, track.ID)
		paths = append(paths, track.Path)
	}
	providerID := 0
	if len(group) > 0 {
		providerID = group[0].ProviderID
	}
	svc.sink.Publish(events.Event{
		Type:       events.TypeConflictDetected,
		SyncJobID:  syncJobID,
		ProviderID: providerID,
		OccurredAt: time.Now(),
		Data: map[string]any{
			"content_hash": hash,
			"track_ids":    ids,
			"paths":        paths,
		},
	})
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
