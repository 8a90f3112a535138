package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE providers (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL,
				kind TEXT NOT NULL,
				root_path TEXT NOT NULL DEFAULT '',
				last_cursor TEXT,
				last_synced_at TIMESTAMPTZ,
				deleted_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_providers_name ON providers (name COLLATE NOCASE) WHERE deleted_at IS NULL`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE artists (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_artists_name ON artists (name COLLATE NOCASE)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE albums (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				artist_id INTEGER REFERENCES artists (id),
				name TEXT NOT NULL,
				year INTEGER
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_albums_name_artist_id ON albums (name COLLATE NOCASE, artist_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE tracks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				provider_id INTEGER REFERENCES providers (id) NOT NULL,
				provider_file_id TEXT NOT NULL,
				path TEXT NOT NULL,
				title TEXT NOT NULL,
				artist_id INTEGER REFERENCES artists (id),
				album_id INTEGER REFERENCES albums (id),
				track_number INTEGER,
				disc_number INTEGER,
				genre TEXT,
				year INTEGER,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				bitrate_bps INTEGER NOT NULL DEFAULT 0,
				size INTEGER NOT NULL DEFAULT 0,
				mime_type TEXT NOT NULL DEFAULT '',
				content_hash TEXT NOT NULL DEFAULT '',
				provider_modified_at TIMESTAMPTZ,
				deleted_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_tracks_provider_file ON tracks (provider_id, provider_file_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_tracks_content_hash ON tracks (content_hash)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_tracks_artist_id ON tracks (artist_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_tracks_album_id ON tracks (album_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE sync_jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				provider_id INTEGER REFERENCES providers (id) NOT NULL,
				sync_type TEXT NOT NULL,
				status TEXT NOT NULL,
				phase TEXT NOT NULL DEFAULT '',
				items_discovered INTEGER NOT NULL DEFAULT 0,
				items_processed INTEGER NOT NULL DEFAULT 0,
				items_failed INTEGER NOT NULL DEFAULT 0,
				stat_added INTEGER NOT NULL DEFAULT 0,
				stat_updated INTEGER NOT NULL DEFAULT 0,
				stat_deleted INTEGER NOT NULL DEFAULT 0,
				stat_failed INTEGER NOT NULL DEFAULT 0,
				cursor TEXT,
				error TEXT,
				process_id TEXT,
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_sync_jobs_provider_id ON sync_jobs (provider_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_sync_jobs_status ON sync_jobs (status)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE work_items (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				sync_job_id INTEGER REFERENCES sync_jobs (id) NOT NULL,
				remote_file_id TEXT NOT NULL,
				path TEXT NOT NULL,
				size INTEGER NOT NULL DEFAULT 0,
				mime_type TEXT NOT NULL DEFAULT '',
				provider_modified_at TIMESTAMPTZ,
				priority INTEGER NOT NULL DEFAULT 1,
				status TEXT NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				not_before TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_work_items_job_remote_file ON work_items (sync_job_id, remote_file_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_work_items_dequeue ON work_items (status, priority, created_at)`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("DROP TABLE IF EXISTS work_items")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS sync_jobs")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS tracks")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS albums")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS artists")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS providers")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
