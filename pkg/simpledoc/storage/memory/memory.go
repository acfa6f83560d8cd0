package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/tendant/simple-document/pkg/simpledoc"
	"github.com/tendant/simple-document/pkg/simpledoc/storage"
)

const backendName = "memory"

// Backend is an in-memory implementation of the simpledoc.BlobStore interface
type Backend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		blobs: make(map[string][]byte),
	}
}

// Put stores the content under its SHA-256 handle
func (b *Backend) Put(ctx context.Context, reader io.Reader) (*simpledoc.BlobInfo, error) {
	digest := storage.NewDigest(reader)
	data, err := io.ReadAll(digest)
	if err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Op: "put", Err: err}
	}
	handle := digest.Handle()

	b.mu.Lock()
	if _, exists := b.blobs[handle]; !exists {
		b.blobs[handle] = data
	}
	b.mu.Unlock()

	return &simpledoc.BlobInfo{Handle: handle, Size: digest.Size(), Checksum: handle}, nil
}

// Get returns a reader over a copy of the content
func (b *Backend) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	b.mu.RLock()
	data, exists := b.blobs[handle]
	b.mu.RUnlock()

	if !exists {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "get", Err: simpledoc.ErrBlobNotFound}
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// Stat describes the content stored under handle
func (b *Backend) Stat(ctx context.Context, handle string) (*simpledoc.BlobInfo, error) {
	b.mu.RLock()
	data, exists := b.blobs[handle]
	b.mu.RUnlock()

	if !exists {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "stat", Err: simpledoc.ErrBlobNotFound}
	}
	return &simpledoc.BlobInfo{Handle: handle, Size: int64(len(data)), Checksum: handle}, nil
}

// Len returns the number of distinct blobs held
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}
