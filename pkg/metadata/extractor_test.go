package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// id3v1Tag builds a 128-byte ID3v1.1 trailer.
func id3v1Tag(title, artist, album, year string, track byte) []byte {
	buf := make([]byte, 128)
	copy(buf[0:3], "TAG")
	copy(buf[3:33], title)
	copy(buf[33:63], artist)
	copy(buf[63:93], album)
	copy(buf[93:97], year)
	// ID3v1.1 stores the track number in the last comment byte.
	buf[125] = 0
	buf[126] = track
	buf[127] = 255
	return buf
}

func TestTagExtractor_ID3v1(t *testing.T) {
	data := append(make([]byte, 512), id3v1Tag("Holding Out", "The Divers", "Low Tide", "2019", 7)...)

	md, err := NewTagExtractor().Extract(context.Background(), data)
	require.NoError(t, err)

	assert.False(t, md.Partial)
	assert.Equal(t, "Holding Out", md.Title)
	assert.Equal(t, "The Divers", md.Artist)
	assert.Equal(t, "Low Tide", md.Album)
	assert.Equal(t, 2019, md.Year)
	assert.Equal(t, 7, md.TrackNumber)
}

func TestTagExtractor_CorruptInputIsPartialNotFatal(t *testing.T) {
	data := []byte("definitely not an audio file")

	md, err := NewTagExtractor().Extract(context.Background(), data)
	require.NoError(t, err)

	assert.True(t, md.Partial)
	assert.NotEmpty(t, md.ParseError)
	assert.Empty(t, md.Title)

	// The hash is always computed so dedup still works on corrupt files.
	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), md.ContentHash)
}

func TestTagExtractor_HashIsDeterministic(t *testing.T) {
	data := append(make([]byte, 64), id3v1Tag("A", "B", "C", "2020", 1)...)
	ex := NewTagExtractor()

	first, err := ex.Extract(context.Background(), data)
	require.NoError(t, err)
	second, err := ex.Extract(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestTagExtractor_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTagExtractor().Extract(ctx, []byte("x"))
	require.Error(t, err)
}
