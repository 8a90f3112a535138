package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// TombstonePrefix marks a soft-deleted track's provider file id. The original
// id is preserved after the prefix so history stays auditable, and the unique
// (provider_id, provider_file_id) index no longer collides with a re-uploaded
// file of the same id.
const TombstonePrefix = "deleted:"

type Track struct {
	bun.BaseModel `bun:"table:tracks,alias:t"`

	ID                 int        `bun:",pk,nullzero" json:"id"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ProviderID         int        `bun:",nullzero" json:"provider_id"`
	ProviderFileID     string     `bun:",nullzero" json:"provider_file_id"`
	Path               string     `bun:",nullzero" json:"path"`
	Title              string     `bun:",nullzero" json:"title"`
	ArtistID           *int       `json:"artist_id,omitempty"`
	Artist             *Artist    `bun:"rel:belongs-to" json:"artist,omitempty"`
	AlbumID            *int       `json:"album_id,omitempty"`
	Album              *Album     `bun:"rel:belongs-to" json:"album,omitempty"`
	TrackNumber        *int       `json:"track_number,omitempty"`
	DiscNumber         *int       `json:"disc_number,omitempty"`
	Genre              *string    `json:"genre,omitempty"`
	Year               *int       `json:"year,omitempty"`
	DurationMs         int64      `json:"duration_ms"`
	BitrateBps         int        `json:"bitrate_bps"`
	Size               int64      `json:"size"`
	MimeType           string     `json:"mime_type"`
	ContentHash        string     `json:"content_hash"`
	ProviderModifiedAt *time.Time `json:"provider_modified_at,omitempty"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

// Tombstoned reports whether the track has been soft deleted.
func (t *Track) Tombstoned() bool {
	return strings.HasPrefix(t.ProviderFileID, TombstonePrefix)
}

// Tombstone rewrites the provider file id with the tombstone marker and
// records when it happened. Idempotent.
func (t *Track) Tombstone(now time.Time) {
	if t.Tombstoned() {
		return
	}
	t.ProviderFileID = TombstonePrefix + t.ProviderFileID
	t.DeletedAt = &now
}
