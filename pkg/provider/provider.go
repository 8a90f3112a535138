// Package provider defines the capability interface the sync engine uses to
// talk to a remote cloud-storage account. Concrete backends are selected at
// engine construction time; the engine itself never inspects which one it
// holds.
package provider

import (
	"context"
	"io"
	"time"
)

// File is one remote file as reported by a provider listing.
type File struct {
	ID         string
	Path       string
	Size       int64
	MimeType   string
	ModifiedAt time.Time
}

// ListPage is one page of a full enumeration. Cursor is provider-defined and
// opaque; it is stored and handed back verbatim, never parsed.
type ListPage struct {
	Files   []File
	Cursor  string
	HasMore bool
}

// Changes is one page of a delta query since a previous cursor.
type Changes struct {
	AddedOrModified []File
	Deleted         []string
	Cursor          string
	HasMore         bool
}

// ByteRange restricts a download to [Start, End] inclusive.
type ByteRange struct {
	Start int64
	End   int64
}

// StorageProvider is the narrow contract the engine depends on. All methods
// honor context cancellation.
type StorageProvider interface {
	// ListMedia enumerates the account's media folder. An empty cursor
	// starts from the beginning; the returned cursor resumes pagination and,
	// on the final page, becomes the baseline for future delta queries.
	ListMedia(ctx context.Context, cursor string) (*ListPage, error)

	// GetChanges returns the change-set since the given cursor.
	GetChanges(ctx context.Context, cursor string) (*Changes, error)

	// Download streams a file's bytes; rng may be nil for the whole file.
	Download(ctx context.Context, fileID string, rng *ByteRange) (io.ReadCloser, error)
}
