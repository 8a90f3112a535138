// Package providertest provides an in-memory StorageProvider for engine and
// phase tests.
package providertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/provider"
)

type change struct {
	file    provider.File
	deleted bool
}

// Fake is an in-memory StorageProvider. Cursors are stringified sequence
// numbers into an append-only change log, which keeps them opaque to callers
// while staying deterministic in tests.
type Fake struct {
	mu       sync.Mutex
	files    map[string]provider.File
	contents map[string][]byte
	log      []change

	PageSize    int
	ListErr     error
	ChangesErr  error
	DownloadErr error
}

func New() *Fake {
	return &Fake{
		files:    map[string]provider.File{},
		contents: map[string][]byte{},
		PageSize: 100,
	}
}

// Put adds or replaces a remote file and records it in the change log.
func (f *Fake) Put(file provider.File, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file.ModifiedAt.IsZero() {
		file.ModifiedAt = time.Now()
	}
	if file.Size == 0 {
		file.Size = int64(len(content))
	}
	f.files[file.ID] = file
	f.contents[file.ID] = content
	f.log = append(f.log, change{file: file})
}

// Delete removes a remote file and records the deletion.
func (f *Fake) Delete(fileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, fileID)
	delete(f.contents, fileID)
	f.log = append(f.log, change{file: provider.File{ID: fileID}, deleted: true})
}

func (f *Fake) cursor() string {
	return strconv.Itoa(len(f.log))
}

func (f *Fake) ListMedia(ctx context.Context, cursor string) (*provider.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	all := make([]provider.File, 0, len(f.files))
	for _, file := range f.files {
		all = append(all, file)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	offset := 0
	if cursor != "" {
		// Pagination cursors are "page:<offset>"; the terminal cursor is the
		// change-log position.
		if _, err := fmt.Sscanf(cursor, "page:%d", &offset); err != nil {
			return nil, errcodes.ProviderUnavailable("unknown cursor")
		}
	}

	end := offset + f.PageSize
	if end >= len(all) {
		return &provider.ListPage{Files: all[offset:], Cursor: f.cursor()}, nil
	}
	return &provider.ListPage{
		Files:   all[offset:end],
		Cursor:  fmt.Sprintf("page:%d", end),
		HasMore: true,
	}, nil
}

func (f *Fake) GetChanges(ctx context.Context, cursor string) (*provider.Changes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChangesErr != nil {
		return nil, f.ChangesErr
	}

	since, err := strconv.Atoi(cursor)
	if err != nil || since < 0 || since > len(f.log) {
		return nil, errcodes.ProviderUnavailable("unknown cursor")
	}

	changes := &provider.Changes{Cursor: f.cursor()}
	seen := map[string]bool{}
	// Walk newest-first so only the latest event per file is reported.
	for i := len(f.log) - 1; i >= since; i-- {
		c := f.log[i]
		if seen[c.file.ID] {
			continue
		}
		seen[c.file.ID] = true
		if c.deleted {
			changes.Deleted = append(changes.Deleted, c.file.ID)
		} else {
			changes.AddedOrModified = append(changes.AddedOrModified, c.file)
		}
	}
	return changes, nil
}

func (f *Fake) Download(ctx context.Context, fileID string, rng *provider.ByteRange) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DownloadErr != nil {
		return nil, f.DownloadErr
	}

	content, ok := f.contents[fileID]
	if !ok {
		return nil, errcodes.ProviderUnavailable("file not found: " + fileID)
	}
	if rng != nil {
		start, end := rng.Start, rng.End+1
		if start > int64(len(content)) {
			start = int64(len(content))
		}
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		content = content[start:end]
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}
