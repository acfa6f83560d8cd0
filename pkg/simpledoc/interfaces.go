package simpledoc

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore holds raw document content. A handle's bytes never change.
type BlobStore interface {
	// Put stores the content and returns its handle
	Put(ctx context.Context, reader io.Reader) (*BlobInfo, error)

	// Get opens the content stored under handle
	Get(ctx context.Context, handle string) (io.ReadCloser, error)

	// Stat describes the content stored under handle
	Stat(ctx context.Context, handle string) (*BlobInfo, error)
}

// Credentials carries whatever the transport extracted from a request.
type Credentials struct {
	Token    string
	Username string
	Password string
}

// Authenticator verifies credentials. It returns ErrUnauthenticated when
// they cannot be verified.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (Principal, error)
}

// DocumentFilter selects documents by structural attributes. Results are
// ordered by document id ascending, starting after AfterID.
type DocumentFilter struct {
	AfterID     *uuid.UUID
	Limit       int
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	FileTypes   []string
	SizeMin     *int64
	SizeMax     *int64
	Deleted     *bool
	Tags        []string
	OwnerID     string
}

// GrantQuery selects the grants held by any of Grantees on DocumentID, plus
// their wildcard grants. A nil DocumentID selects wildcard grants only.
type GrantQuery struct {
	DocumentID *uuid.UUID
	Grantees   []Grantee
}

// ActivityFilter selects activity entries ordered by (CreatedAt, Seq).
type ActivityFilter struct {
	DocumentID  *uuid.UUID
	PrincipalID string
	AfterSeq    int64
	Limit       int
}

// ReadTx is a consistent read snapshot of the repository.
type ReadTx interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error)

	GetVersion(ctx context.Context, documentID uuid.UUID, sequence int64) (*Version, error)
	// ListVersions returns up to limit versions with a sequence greater than
	// afterSequence, ascending
	ListVersions(ctx context.Context, documentID uuid.UUID, afterSequence int64, limit int) ([]*Version, error)
	MaxSequence(ctx context.Context, documentID uuid.UUID) (int64, error)

	FindGrants(ctx context.Context, query GrantQuery) ([]*Grant, error)
	// ListGrants returns the grants on one document, or wildcard grants when documentID is nil
	ListGrants(ctx context.Context, documentID *uuid.UUID) ([]*Grant, error)

	ListActivity(ctx context.Context, filter ActivityFilter) ([]*ActivityEntry, error)
	ListSavedSearches(ctx context.Context, principalID string) ([]*SavedSearch, error)
}

// Tx is an atomic read-write transaction.
type Tx interface {
	ReadTx

	CreateDocument(ctx context.Context, doc *Document) error
	UpdateDocument(ctx context.Context, doc *Document) error

	// AppendVersion fails with ErrConflict if the sequence is already used
	AppendVersion(ctx context.Context, version *Version) error

	UpsertGrant(ctx context.Context, grant *Grant) error
	DeleteGrant(ctx context.Context, id uuid.UUID) error

	// AppendActivity assigns entry.Seq
	AppendActivity(ctx context.Context, entry *ActivityEntry) error

	SaveSearch(ctx context.Context, search *SavedSearch) error
}

// Repository persists documents, versions, grants and activity.
//
// View runs fn against a read snapshot. Update runs fn in a transaction that
// commits only when fn returns nil; nothing fn wrote is visible otherwise.
// Both fail with ErrNotFound, ErrConflict or ErrStoreUnavailable.
type Repository interface {
	View(ctx context.Context, fn func(tx ReadTx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
}
