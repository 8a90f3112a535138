package dropbox

import (
	"testing"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/stretchr/testify/assert"
)

func newTestFileMetadata(id, name, pathDisplay string, size uint64, serverMod time.Time) *files.FileMetadata {
	fm := &files.FileMetadata{
		Id:             id,
		Size:           size,
		ServerModified: serverMod,
	}
	fm.Name = name
	fm.PathDisplay = pathDisplay
	return fm
}

func TestToFile(t *testing.T) {
	modTime := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	fm := newTestFileMetadata("id:abc123", "song.mp3", "/Music/Album/song.mp3", 4096, modTime)

	file := toFile(fm)

	assert.Equal(t, "id:abc123", file.ID)
	assert.Equal(t, "/Music/Album/song.mp3", file.Path)
	assert.Equal(t, int64(4096), file.Size)
	assert.Equal(t, "audio/mpeg", file.MimeType)
	assert.Equal(t, modTime, file.ModifiedAt)
}

func TestToFile_UnknownExtension(t *testing.T) {
	fm := newTestFileMetadata("id:xyz", "notes", "/notes", 12, time.Now())

	file := toFile(fm)
	assert.Empty(t, file.MimeType)
}
