// Package metadata extracts audio tags from downloaded file bytes. It is
// deliberately tolerant: corrupt or unrecognized input yields a partial
// result with the content hash always populated, never a hard failure.
package metadata

import "context"

type Metadata struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	TrackNumber int
	DiscNumber  int
	Year        int
	DurationMs  int64
	BitrateBps  int
	ContentHash string
	MimeType    string

	// Partial marks a best-effort result where tag parsing failed; only the
	// hash, mime type, and whatever fields were recovered are set.
	Partial bool
	// ParseError holds the tag parse failure when Partial is set.
	ParseError string
}

// Extractor is the contract the processing phase depends on.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*Metadata, error)
}
