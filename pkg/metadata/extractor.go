package metadata

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	gomp4 "github.com/abema/go-mp4"
	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"
)

// TagExtractor reads common tag formats (ID3v1/v2, MP4 atoms, vorbis
// comments) and probes MP4 containers for duration.
type TagExtractor struct{}

var _ Extractor = (*TagExtractor)(nil)

func NewTagExtractor() *TagExtractor {
	return &TagExtractor{}
}

func (e *TagExtractor) Extract(ctx context.Context, data []byte) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := sha256.Sum256(data)
	md := &Metadata{
		ContentHash: hex.EncodeToString(hash[:]),
		MimeType:    mimetype.Detect(data).String(),
	}

	m, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		md.Partial = true
		md.ParseError = err.Error()
	} else {
		md.Title = strings.TrimSpace(m.Title())
		md.Artist = strings.TrimSpace(m.Artist())
		md.Album = strings.TrimSpace(m.Album())
		md.AlbumArtist = strings.TrimSpace(m.AlbumArtist())
		md.Genre = strings.TrimSpace(m.Genre())
		md.Year = m.Year()
		md.TrackNumber, _ = m.Track()
		md.DiscNumber, _ = m.Disc()
	}

	// Duration isn't part of the tag surface; probe the container for it
	// where we can.
	if isMP4(md.MimeType) {
		if info, probeErr := gomp4.Probe(bytes.NewReader(data)); probeErr == nil && info.Timescale > 0 {
			md.DurationMs = int64(info.Duration) * 1000 / int64(info.Timescale)
		}
	}
	if md.DurationMs > 0 {
		md.BitrateBps = int(int64(len(data)) * 8 * 1000 / md.DurationMs)
	}

	return md, nil
}

func isMP4(mimeType string) bool {
	switch mimeType {
	case "audio/x-m4a", "audio/mp4", "video/mp4":
		return true
	}
	return false
}
