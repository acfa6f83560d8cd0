package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendant/simple-document/pkg/simpledoc"
)

// VersionProcessor processes one version of one document.
//
// Example implementations:
//   - Integrity checker (verifies the blob behind each version)
//   - Exporter (copies every version to another blob store)
//   - Reporter (collects size statistics per owner)
type VersionProcessor interface {
	// Process is called for each version found during a scan.
	// Return an error to mark the version as failed; the scan continues.
	Process(ctx context.Context, doc *simpledoc.Document, version *simpledoc.Version) error
}

// ProcessorFunc adapts a function to the VersionProcessor interface.
type ProcessorFunc func(ctx context.Context, doc *simpledoc.Document, version *simpledoc.Version) error

func (f ProcessorFunc) Process(ctx context.Context, doc *simpledoc.Document, version *simpledoc.Version) error {
	return f(ctx, doc, version)
}

// IntegrityChecker verifies that every version's blob exists and matches the
// size and checksum recorded in the version metadata.
type IntegrityChecker struct {
	Blobs simpledoc.BlobStore
}

func (c *IntegrityChecker) Process(ctx context.Context, doc *simpledoc.Document, version *simpledoc.Version) error {
	info, err := c.Blobs.Stat(ctx, version.BlobHandle)
	if err != nil {
		if errors.Is(err, simpledoc.ErrBlobNotFound) {
			return fmt.Errorf("version %d: blob %s missing: %w", version.Sequence, version.BlobHandle, err)
		}
		return fmt.Errorf("version %d: stat blob: %w", version.Sequence, err)
	}
	// metadata without a checksum was never measured against the blob
	if version.Metadata.Checksum == "" {
		return nil
	}
	if info.Size != version.Metadata.Size {
		return fmt.Errorf("version %d: blob size %d, recorded %d", version.Sequence, info.Size, version.Metadata.Size)
	}
	if info.Checksum != "" && info.Checksum != version.Metadata.Checksum {
		return fmt.Errorf("version %d: blob checksum %s, recorded %s", version.Sequence, info.Checksum, version.Metadata.Checksum)
	}
	return nil
}
