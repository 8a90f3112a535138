package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Album struct {
	bun.BaseModel `bun:"table:albums,alias:al"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ArtistID  *int      `json:"artist_id,omitempty"`
	Artist    *Artist   `bun:"rel:belongs-to" json:"artist,omitempty"`
	Name      string    `bun:",nullzero" json:"name"`
	Year      *int      `json:"year,omitempty"`
}
