package engine

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ariamusic/aria/pkg/conflicts"
	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/events"
	"github.com/ariamusic/aria/pkg/metadata"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/ariamusic/aria/pkg/syncjobs"
	"github.com/ariamusic/aria/pkg/tracks"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// processingPhase drains the work queue through a bounded pool of item
// workers. Failures of individual items never abort the phase; they retry
// through the queue's backoff and land in the failed tally at the ceiling.
// Cancellation stops new claims and lets in-flight items finish.
func (e *Engine) processingPhase(ctx context.Context, run *runState) error {
	job := run.job

	job.Phase = models.SyncPhaseProcessing
	err := e.jobService.UpdateSyncJob(ctx, job, syncjobs.UpdateSyncJobOptions{
		Columns: []string{"phase"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	sem := make(chan struct{}, e.config.UserConfig.ProcessingConcurrency)
	var wg sync.WaitGroup

	var deniedSince time.Time
	var loopErr error
	for {
		if err := ctx.Err(); err != nil {
			loopErr = errors.WithStack(err)
			break
		}

		allowed, err := e.netCheck.AllowSync(ctx)
		if err != nil {
			loopErr = errors.WithStack(err)
			break
		}
		if !allowed {
			// Paused, waiting for conditions to change. A denial that
			// outlasts the pause limit fails the run instead of stalling it
			// forever; the queue keeps the remaining items for the next run.
			if deniedSince.IsZero() {
				deniedSince = time.Now()
			}
			if time.Since(deniedSince) >= e.networkPauseLimit {
				loopErr = errors.WithStack(errcodes.NetworkRestricted())
				break
			}
			if !e.sleep(ctx, e.pollInterval) {
				loopErr = errors.WithStack(ctx.Err())
				break
			}
			continue
		}
		deniedSince = time.Time{}

		sem <- struct{}{}
		item, err := e.queueService.Dequeue(ctx, job.ID)
		if err != nil {
			<-sem
			loopErr = errors.WithStack(err)
			break
		}
		if item == nil {
			<-sem
			pending, err := e.queueService.HasPendingWork(ctx, job.ID)
			if err != nil {
				loopErr = errors.WithStack(err)
				break
			}
			if !pending {
				break
			}
			// Items are in flight or behind a backoff gate.
			if !e.sleep(ctx, e.pollInterval) {
				loopErr = errors.WithStack(ctx.Err())
				break
			}
			continue
		}

		wg.Add(1)
		go func(item *models.WorkItem) {
			defer wg.Done()
			defer func() { <-sem }()
			e.processItem(ctx, run, item)
		}(item)
	}

	wg.Wait()

	// Flush the counters accumulated since the last progress write.
	err = e.persistProgress(context.WithoutCancel(ctx), run)
	if err != nil && loopErr == nil {
		loopErr = errors.WithStack(err)
	}

	return loopErr
}

// processItem runs one work item end to end and settles it in the queue.
func (e *Engine) processItem(ctx context.Context, run *runState, item *models.WorkItem) {
	log := logger.FromContext(ctx).Data(logger.Data{
		"work_item_id":   item.ID,
		"remote_file_id": item.RemoteFileID,
		"path":           item.Path,
	})

	err := e.syncFile(ctx, run, item)
	if err == nil {
		err = e.queueService.MarkComplete(ctx, item)
		if err != nil {
			log.Err(err).Error("mark complete error")
			return
		}
		e.recordProcessed(ctx, run, false)
		return
	}

	// Context death is a pause, not an item failure; the claim is released
	// back to pending for the next run.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		_, rErr := e.queueService.RequeueOrphans(context.WithoutCancel(ctx), run.job.ID)
		if rErr != nil {
			log.Err(rErr).Error("requeue after cancel error")
		}
		return
	}

	log.Err(err).Warn("work item error")

	retried, mErr := e.queueService.MarkFailed(ctx, item, err)
	if mErr != nil {
		log.Err(mErr).Error("mark failed error")
		return
	}
	if !retried {
		log.Error("work item permanently failed")
		e.recordProcessed(ctx, run, true)
	}
}

// syncFile downloads a remote file, extracts its metadata, and upserts the
// library row.
func (e *Engine) syncFile(ctx context.Context, run *runState, item *models.WorkItem) error {
	rc, err := run.backend.Download(ctx, item.RemoteFileID, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return errcodes.ProviderUnavailable(err.Error())
	}

	meta, err := e.extractor.Extract(ctx, data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return errors.WithStack(err)
		}
		// Re-extracting the same corrupt bytes won't go better; the queue
		// fails these without burning retries.
		return errcodes.ExtractionFailed(err.Error())
	}

	update, err := e.resolveMetadata(ctx, item, meta)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(e.upsertTrack(ctx, run, item, update))
}

// resolveMetadata maps extracted tag strings onto artist and album rows and
// fills gaps from the file path.
func (e *Engine) resolveMetadata(ctx context.Context, item *models.WorkItem, meta *metadata.Metadata) (*conflicts.MetadataUpdate, error) {
	update := &conflicts.MetadataUpdate{
		Title:       meta.Title,
		DurationMs:  meta.DurationMs,
		BitrateBps:  meta.BitrateBps,
		ContentHash: meta.ContentHash,
		MimeType:    meta.MimeType,
	}
	if update.Title == "" {
		base := filepath.Base(item.Path)
		update.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	artistName := meta.Artist
	if artistName == "" {
		artistName = meta.AlbumArtist
	}
	if artistName != "" {
		artist, err := e.trackService.FindOrCreateArtist(ctx, artistName)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		update.ArtistID = &artist.ID
	}

	if meta.Album != "" {
		var year *int
		if meta.Year > 0 {
			y := meta.Year
			year = &y
		}
		album, err := e.trackService.FindOrCreateAlbum(ctx, meta.Album, update.ArtistID, year)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		update.AlbumID = &album.ID
	}

	if meta.TrackNumber > 0 {
		n := meta.TrackNumber
		update.TrackNumber = &n
	}
	if meta.DiscNumber > 0 {
		n := meta.DiscNumber
		update.DiscNumber = &n
	}
	if meta.Genre != "" {
		g := meta.Genre
		update.Genre = &g
	}
	if meta.Year > 0 {
		y := meta.Year
		update.Year = &y
	}

	return update, nil
}

func (e *Engine) upsertTrack(ctx context.Context, run *runState, item *models.WorkItem, update *conflicts.MetadataUpdate) error {
	track, err := e.trackService.RetrieveTrack(ctx, tracks.RetrieveTrackOptions{
		ProviderID:     &run.provider.ID,
		ProviderFileID: &item.RemoteFileID,
	})
	if err != nil {
		if !errors.Is(err, errcodes.NotFound("Track")) {
			return errcodes.PersistenceFailed(err.Error())
		}

		track = &models.Track{
			ProviderID:         run.provider.ID,
			ProviderFileID:     item.RemoteFileID,
			Path:               item.Path,
			Title:              update.Title,
			ArtistID:           update.ArtistID,
			AlbumID:            update.AlbumID,
			TrackNumber:        update.TrackNumber,
			DiscNumber:         update.DiscNumber,
			Genre:              update.Genre,
			Year:               update.Year,
			DurationMs:         update.DurationMs,
			BitrateBps:         update.BitrateBps,
			Size:               item.Size,
			MimeType:           update.MimeType,
			ContentHash:        update.ContentHash,
			ProviderModifiedAt: item.ProviderModifiedAt,
		}
		err = e.trackService.CreateTrack(ctx, track)
		if err != nil {
			return errcodes.PersistenceFailed(err.Error())
		}

		run.mu.Lock()
		run.added++
		run.mu.Unlock()

		return nil
	}

	columns := conflicts.MergeMetadata(track, update)
	if track.Path != item.Path {
		track.Path = item.Path
		columns = append(columns, "path")
	}
	if track.Size != item.Size {
		track.Size = item.Size
		columns = append(columns, "size")
	}
	if item.ProviderModifiedAt != nil {
		track.ProviderModifiedAt = item.ProviderModifiedAt
		columns = append(columns, "provider_modified_at")
	}

	err = e.trackService.UpdateTrack(ctx, track, tracks.UpdateTrackOptions{Columns: columns})
	if err != nil {
		return errcodes.PersistenceFailed(err.Error())
	}

	run.mu.Lock()
	run.updated++
	run.mu.Unlock()

	return nil
}

// recordProcessed bumps the run counters and emits a progress event every
// few items.
func (e *Engine) recordProcessed(ctx context.Context, run *runState, failed bool) {
	cadence := e.config.UserConfig.ProgressCadence
	if cadence <= 0 {
		cadence = 1
	}

	run.mu.Lock()
	if failed {
		run.failed++
		run.job.ItemsFailed++
	} else {
		run.job.ItemsProcessed++
	}
	run.sinceProgress++
	flush := run.sinceProgress >= cadence
	if flush {
		run.sinceProgress = 0
	}
	run.mu.Unlock()

	if !flush {
		return
	}

	err := e.persistProgress(ctx, run)
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("persist progress error")
	}
}

func (e *Engine) persistProgress(ctx context.Context, run *runState) error {
	job := run.job

	err := e.jobService.UpdateSyncJob(ctx, job, syncjobs.UpdateSyncJobOptions{
		Columns: []string{"items_processed", "items_failed"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	e.publish(events.TypeJobProgress, job, map[string]any{
		"items_discovered": job.ItemsDiscovered,
		"items_processed":  job.ItemsProcessed,
		"items_failed":     job.ItemsFailed,
		"percent":          job.Percent(),
	})

	return nil
}

// sleep waits for d or context death; reports false when the context died.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
