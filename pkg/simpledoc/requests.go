package simpledoc

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// Request/Response DTOs

// CreateDocumentRequest contains parameters for creating a document and its
// first version. Exactly one of Content or BlobHandle must be set.
type CreateDocumentRequest struct {
	Principal  Principal
	Name       string            `validate:"required,max=255"`
	FileType   string            `validate:"max=64"`
	Tags       []string          `validate:"max=32,dive,required,max=64"`
	Extra      map[string]string `validate:"max=32"`
	Comment    string            `validate:"max=1024"`
	Content    io.Reader         `validate:"-"`
	BlobHandle string
}

// MetadataUpdate lists metadata fields to change. Nil fields keep their
// current value.
type MetadataUpdate struct {
	Name     *string           `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	FileType *string           `json:"file_type,omitempty" validate:"omitempty,max=64"`
	Tags     []string          `json:"tags,omitempty" validate:"omitempty,max=32,dive,required,max=64"`
	Extra    map[string]string `json:"extra,omitempty" validate:"omitempty,max=32"`
}

// CreateVersionRequest contains parameters for appending a content version.
// Exactly one of Content or BlobHandle must be set.
type CreateVersionRequest struct {
	Principal  Principal
	DocumentID uuid.UUID `validate:"required"`
	Comment    string    `validate:"max=1024"`
	Content    io.Reader `validate:"-"`
	BlobHandle string
	Metadata   *MetadataUpdate
}

// UpdateMetadataRequest contains parameters for a metadata-only version.
type UpdateMetadataRequest struct {
	Principal  Principal
	DocumentID uuid.UUID `validate:"required"`
	Comment    string    `validate:"max=1024"`
	Metadata   MetadataUpdate
}

// RevertRequest contains parameters for copying an older version forward.
type RevertRequest struct {
	Principal      Principal
	DocumentID     uuid.UUID `validate:"required"`
	TargetSequence int64     `validate:"gte=1"`
	Comment        string    `validate:"max=1024"`
}

// TransferOwnershipRequest contains parameters for changing a document owner.
type TransferOwnershipRequest struct {
	Principal  Principal
	DocumentID uuid.UUID `validate:"required"`
	NewOwnerID string    `validate:"required"`
}

// GrantRequest adds capabilities for a grantee on one document.
type GrantRequest struct {
	Actor        Principal
	DocumentID   uuid.UUID `validate:"required"`
	Grantee      Grantee
	Capabilities CapabilitySet
}

// RevokeRequest removes capabilities from a grantee's grant on one document.
// An empty Capabilities removes the whole grant.
type RevokeRequest struct {
	Actor        Principal
	DocumentID   uuid.UUID `validate:"required"`
	Grantee      Grantee
	Capabilities CapabilitySet
}

// RoleGrantRequest adds or removes capabilities a role holds on every document.
type RoleGrantRequest struct {
	Actor        Principal
	Role         string `validate:"required,max=64"`
	Capabilities CapabilitySet
}

// SearchQuery is a free-text query plus structural filters. Status defaults
// to active.
type SearchQuery struct {
	Text        string         `json:"text,omitempty" validate:"max=512"`
	CreatedFrom *time.Time     `json:"created_from,omitempty"`
	CreatedTo   *time.Time     `json:"created_to,omitempty"`
	FileTypes   []string       `json:"file_types,omitempty" validate:"max=16"`
	SizeMin     *int64         `json:"size_min,omitempty" validate:"omitempty,gte=0"`
	SizeMax     *int64         `json:"size_max,omitempty" validate:"omitempty,gte=0"`
	Status      DocumentStatus `json:"status,omitempty" validate:"omitempty,oneof=active deleted"`
	Tags        []string       `json:"tags,omitempty" validate:"max=32"`
	Limit       int            `json:"limit,omitempty" validate:"gte=0,lte=500"`
	Cursor      string         `json:"cursor,omitempty"`
}

// SaveSearchRequest stores a query under a name for the principal.
type SaveSearchRequest struct {
	Principal Principal
	Name      string `validate:"required,max=128"`
	Query     SearchQuery
}

// ActivityQuery pages through one document's activity trail.
type ActivityQuery struct {
	Principal  Principal
	DocumentID uuid.UUID `validate:"required"`
	AfterSeq   int64     `validate:"gte=0"`
	Limit      int       `validate:"gte=0,lte=1000"`
}
