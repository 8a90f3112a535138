package engine

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ariamusic/aria/pkg/conflicts"
	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/ariamusic/aria/pkg/provider"
	"github.com/ariamusic/aria/pkg/syncjobs"
	"github.com/ariamusic/aria/pkg/tracks"
	"github.com/ariamusic/aria/pkg/workqueue"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// discoveryPhase enumerates the remote account and fills the work queue. The
// job's cursor is written once, after the whole phase succeeds, so a crashed
// discovery restarts from its last durable baseline instead of a torn one.
func (e *Engine) discoveryPhase(ctx context.Context, run *runState) error {
	log := logger.FromContext(ctx)
	job := run.job

	job.Phase = models.SyncPhaseDiscovery
	err := e.jobService.UpdateSyncJob(ctx, job, syncjobs.UpdateSyncJobOptions{
		Columns: []string{"phase", "sync_type"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	var cursor string
	var deleted int

	switch job.SyncType {
	case models.SyncTypeIncremental:
		cursor, deleted, err = e.discoverChanges(ctx, run)
		if errcodes.IsCursorMissing(err) {
			// No baseline to diff against; escalate to a full enumeration.
			log.Info("no stored cursor, escalating to full sync")
			job.SyncType = models.SyncTypeFull
			uErr := e.jobService.UpdateSyncJob(ctx, job, syncjobs.UpdateSyncJobOptions{
				Columns: []string{"sync_type"},
			})
			if uErr != nil {
				return errors.WithStack(uErr)
			}
			cursor, err = e.discoverFull(ctx, run)
		}
	default:
		cursor, err = e.discoverFull(ctx, run)
	}
	if err != nil {
		return errors.WithStack(err)
	}

	run.mu.Lock()
	run.deleted += deleted
	run.mu.Unlock()

	job.Cursor = &cursor
	err = e.jobService.UpdateSyncJob(ctx, job, syncjobs.UpdateSyncJobOptions{
		Columns: []string{"cursor", "items_discovered"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	log.Info("discovery complete", logger.Data{
		"items_discovered": job.ItemsDiscovered,
		"deletions":        deleted,
	})

	return nil
}

// discoverFull walks every page of the provider's media listing. The final
// page's cursor becomes the baseline for future incremental runs.
func (e *Engine) discoverFull(ctx context.Context, run *runState) (string, error) {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return "", errors.WithStack(err)
		}

		page, err := run.backend.ListMedia(ctx, cursor)
		if err != nil {
			return "", errors.WithStack(err)
		}

		for i := range page.Files {
			err = e.enqueueFile(ctx, run, page.Files[i], models.WorkItemPriorityNormal)
			if err != nil {
				return "", errors.WithStack(err)
			}
		}

		cursor = page.Cursor
		if !page.HasMore {
			return cursor, nil
		}
	}
}

// discoverChanges walks the delta since the last completed run. Deletions are
// applied inline; additions and modifications go through the queue like any
// other file.
func (e *Engine) discoverChanges(ctx context.Context, run *runState) (string, int, error) {
	cursor := ""
	if run.job.Cursor != nil {
		cursor = *run.job.Cursor
	} else if run.provider.LastCursor != nil {
		cursor = *run.provider.LastCursor
	}
	if cursor == "" {
		return "", 0, errcodes.CursorMissing()
	}

	deleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", 0, errors.WithStack(err)
		}

		changes, err := run.backend.GetChanges(ctx, cursor)
		if err != nil {
			return "", 0, errors.WithStack(err)
		}

		// Deltas jump the backlog so recent edits land before a long tail of
		// unprocessed files.
		for i := range changes.AddedOrModified {
			file := changes.AddedOrModified[i]

			rename, err := e.renameOnly(ctx, run, file)
			if err != nil {
				return "", 0, errors.WithStack(err)
			}
			if rename {
				err = e.conflictService.ResolveRename(ctx, run.provider.ID, file.ID, file.Path)
				if err != nil {
					return "", 0, errors.WithStack(err)
				}
				continue
			}

			err = e.enqueueFile(ctx, run, file, models.WorkItemPriorityHigh)
			if err != nil {
				return "", 0, errors.WithStack(err)
			}
		}
		for _, ref := range changes.Deleted {
			removed, err := e.conflictService.HandleDeletion(ctx, run.provider.ID, ref, conflicts.DeletionOptions{
				HardDelete: e.config.UserConfig.HardDelete,
			})
			if err != nil {
				return "", 0, errors.WithStack(err)
			}
			if removed {
				deleted++
			}
		}

		cursor = changes.Cursor
		if !changes.HasMore {
			return cursor, deleted, nil
		}
	}
}

// renameOnly reports whether a changed file is a pure move: the track is
// already in the library and the remote content is unchanged, so only the
// path needs updating. Moves skip the queue entirely, no re-download.
func (e *Engine) renameOnly(ctx context.Context, run *runState, file provider.File) (bool, error) {
	if !isAudioFile(file) {
		return false, nil
	}

	track, err := e.trackService.RetrieveTrack(ctx, tracks.RetrieveTrackOptions{
		ProviderID:     &run.provider.ID,
		ProviderFileID: &file.ID,
	})
	if err != nil {
		if errors.Is(err, errcodes.NotFound("Track")) {
			return false, nil
		}
		return false, errors.WithStack(err)
	}

	if track.Path == file.Path || track.Size != file.Size {
		return false, nil
	}
	if track.ProviderModifiedAt == nil || file.ModifiedAt.IsZero() {
		return false, nil
	}
	return track.ProviderModifiedAt.Equal(file.ModifiedAt), nil
}

// enqueueFile queues one discovered audio file. Re-discovering a file already
// queued for this job is a no-op, which keeps restarted discoveries from
// double-counting.
func (e *Engine) enqueueFile(ctx context.Context, run *runState, file provider.File, priority int) error {
	if !isAudioFile(file) {
		return nil
	}

	item := &models.WorkItem{
		SyncJobID:    run.job.ID,
		RemoteFileID: file.ID,
		Path:         file.Path,
		Size:         file.Size,
		MimeType:     file.MimeType,
		Priority:     priority,
	}
	if !file.ModifiedAt.IsZero() {
		modified := file.ModifiedAt
		item.ProviderModifiedAt = &modified
	}

	inserted, err := e.queueService.Enqueue(ctx, item, workqueue.EnqueueOptions{SkipExisting: true})
	if err != nil {
		return errors.WithStack(err)
	}
	if inserted {
		run.job.ItemsDiscovered++
	}

	return nil
}

var audioExtensions = map[string]bool{
	".aac":  true,
	".flac": true,
	".m4a":  true,
	".m4b":  true,
	".mp3":  true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
	".wma":  true,
}

func isAudioFile(file provider.File) bool {
	if strings.HasPrefix(file.MimeType, "audio/") {
		return true
	}
	return audioExtensions[strings.ToLower(filepath.Ext(file.Path))]
}
