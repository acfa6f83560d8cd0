package simpledoc

import (
	"context"
	"io"
	"iter"

	"github.com/google/uuid"
)

// Service defines the main interface for the simple-document library
type Service interface {
	// Document operations
	CreateDocument(ctx context.Context, req CreateDocumentRequest) (*Document, *Version, error)
	GetDocument(ctx context.Context, principal Principal, id uuid.UUID) (*Document, error)
	UpdateMetadata(ctx context.Context, req UpdateMetadataRequest) (*Version, error)
	DeleteDocument(ctx context.Context, principal Principal, id uuid.UUID) error
	RestoreDocument(ctx context.Context, principal Principal, id uuid.UUID) (*Document, error)
	TransferOwnership(ctx context.Context, req TransferOwnershipRequest) (*Document, error)

	// Version operations
	CreateVersion(ctx context.Context, req CreateVersionRequest) (*Version, error)
	Revert(ctx context.Context, req RevertRequest) (*Version, error)
	ListVersions(ctx context.Context, principal Principal, documentID uuid.UUID) iter.Seq2[*Version, error]
	GetVersion(ctx context.Context, principal Principal, documentID uuid.UUID, sequence int64) (*Version, error)
	OpenVersion(ctx context.Context, principal Principal, documentID uuid.UUID, sequence int64) (io.ReadCloser, *Version, error)

	// Permission operations
	Resolve(ctx context.Context, principal Principal, documentID uuid.UUID) (CapabilitySet, error)
	Authorize(ctx context.Context, principal Principal, documentID uuid.UUID, capability Capability) (bool, error)
	Grant(ctx context.Context, req GrantRequest) (*Grant, error)
	Revoke(ctx context.Context, req RevokeRequest) error
	GrantRole(ctx context.Context, req RoleGrantRequest) (*Grant, error)
	RevokeRole(ctx context.Context, req RoleGrantRequest) error
	ListGrants(ctx context.Context, principal Principal, documentID uuid.UUID) ([]*Grant, error)
	// BootstrapRole gives role the capabilities on every document without an
	// actor check. It is meant for startup seeding of administrator roles.
	BootstrapRole(ctx context.Context, role string, caps CapabilitySet) (*Grant, error)

	// Search operations
	Search(ctx context.Context, principal Principal, query SearchQuery) (*SearchPage, error)
	SearchAll(ctx context.Context, principal Principal, query SearchQuery) iter.Seq2[*DocumentSummary, error]
	SaveSearch(ctx context.Context, req SaveSearchRequest) (*SavedSearch, error)
	ListSavedSearches(ctx context.Context, principal Principal) ([]*SavedSearch, error)

	// Activity operations
	ListActivity(ctx context.Context, req ActivityQuery) ([]*ActivityEntry, error)
}
