package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tendant/simple-document/pkg/simpledoc"
	"github.com/tendant/simple-document/pkg/simpledoc/storage"
)

const backendName = "fs"

// Backend is a filesystem implementation of the simpledoc.BlobStore
// interface. Blobs live at <base>/<first two hex chars>/<handle>.
type Backend struct {
	baseDir string
	tmpDir  string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing blobs
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	tmpDir := filepath.Join(config.BaseDir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: config.BaseDir, tmpDir: tmpDir}, nil
}

func (b *Backend) path(handle string) string {
	return filepath.Join(b.baseDir, handle[:2], handle)
}

// Put streams the content to a temporary file while hashing it, then moves
// it into place under its handle. Existing content is left untouched.
func (b *Backend) Put(ctx context.Context, reader io.Reader) (*simpledoc.BlobInfo, error) {
	tmp, err := os.CreateTemp(b.tmpDir, "blob-*")
	if err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Op: "put", Err: err}
	}
	defer os.Remove(tmp.Name())

	digest := storage.NewDigest(reader)
	if _, err := io.Copy(tmp, digest); err != nil {
		tmp.Close()
		return nil, &simpledoc.StorageError{Backend: backendName, Op: "put", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Op: "put", Err: err}
	}

	handle := digest.Handle()
	info := &simpledoc.BlobInfo{Handle: handle, Size: digest.Size(), Checksum: handle}

	dest := b.path(handle)
	if _, err := os.Stat(dest); err == nil {
		return info, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "put", Err: err}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "put", Err: err}
	}
	return info, nil
}

// Get opens the content stored under handle
func (b *Backend) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	if !storage.ValidHandle(handle) {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "get", Err: simpledoc.ErrBlobNotFound}
	}
	f, err := os.Open(b.path(handle))
	if os.IsNotExist(err) {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "get", Err: simpledoc.ErrBlobNotFound}
	} else if err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "get", Err: err}
	}
	return f, nil
}

// Stat describes the content stored under handle
func (b *Backend) Stat(ctx context.Context, handle string) (*simpledoc.BlobInfo, error) {
	if !storage.ValidHandle(handle) {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "stat", Err: simpledoc.ErrBlobNotFound}
	}
	fi, err := os.Stat(b.path(handle))
	if os.IsNotExist(err) {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "stat", Err: simpledoc.ErrBlobNotFound}
	} else if err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "stat", Err: err}
	}
	return &simpledoc.BlobInfo{Handle: handle, Size: fi.Size(), Checksum: handle}, nil
}
