package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	ProviderKindDropbox = "dropbox"
)

// Provider is one remote cloud-storage account whose folder feeds the
// library.
type Provider struct {
	bun.BaseModel `bun:"table:providers,alias:p"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `bun:",nullzero" json:"name"`
	Kind      string    `bun:",nullzero" json:"kind"`
	RootPath  string    `json:"root_path"`
	// LastCursor mirrors the cursor of the most recent completed sync so the
	// resume point survives job-history cleanup. Opaque to us.
	LastCursor   *string    `json:"last_cursor,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}
