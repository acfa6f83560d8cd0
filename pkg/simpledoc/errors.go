package simpledoc

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrNotFound indicates an unknown document, version, grant or record
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a version sequence race or a duplicate grant
	ErrConflict = errors.New("conflict")

	// ErrAccessDenied indicates a capability check failed
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidState indicates an operation that is not allowed in the document's current state
	ErrInvalidState = errors.New("invalid document state")

	// ErrStoreUnavailable indicates a transient repository failure; callers may retry
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrAuditFailure indicates the activity trail could not be written
	ErrAuditFailure = errors.New("audit failure")

	// ErrStaleCursor indicates a search cursor that does not belong to the query
	ErrStaleCursor = errors.New("stale cursor")

	// ErrUnauthenticated indicates credentials could not be verified
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidRequest indicates a request that failed validation
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBlobNotFound indicates a blob handle unknown to the blob store
	ErrBlobNotFound = errors.New("blob not found")
)

// DocumentError represents an error related to a document operation
type DocumentError struct {
	DocumentID uuid.UUID
	Op         string
	Err        error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document operation %s failed for document %s: %v", e.Op, e.DocumentID, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob storage operations
type StorageError struct {
	Backend string
	Handle  string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for handle %s on backend %s: %v", e.Op, e.Handle, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// denial is returned from inside a transaction when a capability check
// fails. The service turns it into a recorded ErrAccessDenied once the
// transaction has been rolled back.
type denial struct {
	capability Capability
}

func (d *denial) Error() string {
	return fmt.Sprintf("missing capability %s", d.capability)
}
