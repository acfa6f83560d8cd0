package simpledoc

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion tags every persisted record so stored layouts can be migrated.
const SchemaVersion = 1

// DocumentStatus selects live or soft-deleted documents in searches.
type DocumentStatus string

// Document status constants (typed).
const (
	DocumentStatusActive  DocumentStatus = "active"
	DocumentStatusDeleted DocumentStatus = "deleted"
)

// GranteeKind tells whether a grant targets a single principal or a role.
type GranteeKind string

// Grantee kind constants (typed).
const (
	GranteePrincipal GranteeKind = "principal"
	GranteeRole      GranteeKind = "role"
)

// ActivityAction is the kind of event recorded in the activity trail.
type ActivityAction string

// Activity action constants (typed).
const (
	ActionCreate   ActivityAction = "create"
	ActionView     ActivityAction = "view"
	ActionDownload ActivityAction = "download"
	ActionVersion  ActivityAction = "version"
	ActionEdit     ActivityAction = "edit"
	ActionRevert   ActivityAction = "revert"
	ActionDelete   ActivityAction = "delete"
	ActionRestore  ActivityAction = "restore"
	ActionGrant    ActivityAction = "grant"
	ActionRevoke   ActivityAction = "revoke"
	ActionTransfer ActivityAction = "transfer"
	ActionList     ActivityAction = "list"
)

// ActivityResult is the outcome of a recorded access.
type ActivityResult string

// Activity result constants (typed).
const (
	ResultAllowed ActivityResult = "allowed"
	ResultDenied  ActivityResult = "denied"
)

// Principal is an authenticated actor and the roles it holds.
type Principal struct {
	ID    string   `json:"id" validate:"required"`
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Metadata holds the searchable attributes of a document at one version.
type Metadata struct {
	Name     string            `json:"name"`
	FileType string            `json:"file_type,omitempty"`
	Size     int64             `json:"size"`
	Tags     []string          `json:"tags,omitempty"`
	Checksum string            `json:"checksum,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Tags != nil {
		out.Tags = append([]string(nil), m.Tags...)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Document is the mutable head of a version history.
//
// Metadata mirrors the metadata snapshot of the current version and
// CurrentComment mirrors its comment; both exist so the store can filter and
// search without joining versions.
type Document struct {
	ID               uuid.UUID  `json:"id"`
	OwnerID          string     `json:"owner_id"`
	CurrentVersionID uuid.UUID  `json:"current_version_id"`
	CurrentSequence  int64      `json:"current_sequence"`
	CurrentVersionAt time.Time  `json:"current_version_at"`
	CurrentComment   string     `json:"current_comment,omitempty"`
	Metadata         Metadata   `json:"metadata"`
	Deleted          bool       `json:"deleted"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	SchemaVersion    int        `json:"schema_version"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Metadata = d.Metadata.Clone()
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// Version is an immutable snapshot of a document's content and metadata.
type Version struct {
	ID            uuid.UUID `json:"id"`
	DocumentID    uuid.UUID `json:"document_id"`
	Sequence      int64     `json:"sequence"`
	BlobHandle    string    `json:"blob_handle"`
	AuthorID      string    `json:"author_id"`
	Comment       string    `json:"comment,omitempty"`
	Metadata      Metadata  `json:"metadata"`
	RevertedFrom  *int64    `json:"reverted_from,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion int       `json:"schema_version"`
}

// Clone returns a deep copy of v.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	out := *v
	out.Metadata = v.Metadata.Clone()
	if v.RevertedFrom != nil {
		seq := *v.RevertedFrom
		out.RevertedFrom = &seq
	}
	return &out
}

// Grantee identifies who a grant applies to.
type Grantee struct {
	Kind GranteeKind `json:"kind" validate:"required,oneof=principal role"`
	ID   string      `json:"id" validate:"required"`
}

// Grant gives a grantee a capability set on one document, or on every
// document when DocumentID is nil.
type Grant struct {
	ID            uuid.UUID     `json:"id"`
	Grantee       Grantee       `json:"grantee"`
	DocumentID    *uuid.UUID    `json:"document_id,omitempty"`
	Capabilities  CapabilitySet `json:"capabilities"`
	GrantedBy     string        `json:"granted_by"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	SchemaVersion int           `json:"schema_version"`
}

// IsWildcard reports whether the grant applies to every document.
func (g *Grant) IsWildcard() bool {
	return g.DocumentID == nil
}

// Clone returns a deep copy of g.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	out := *g
	if g.DocumentID != nil {
		id := *g.DocumentID
		out.DocumentID = &id
	}
	return &out
}

// ActivityEntry is one immutable audit record. Seq is assigned by the
// repository and breaks ties between entries sharing a timestamp.
type ActivityEntry struct {
	ID            uuid.UUID      `json:"id"`
	Seq           int64          `json:"seq"`
	PrincipalID   string         `json:"principal_id"`
	DocumentID    uuid.UUID      `json:"document_id"`
	VersionID     *uuid.UUID     `json:"version_id,omitempty"`
	Action        ActivityAction `json:"action"`
	Result        ActivityResult `json:"result"`
	Detail        string         `json:"detail,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	SchemaVersion int            `json:"schema_version"`
}

// SavedSearch is a named query stored for a principal.
type SavedSearch struct {
	ID            uuid.UUID   `json:"id"`
	PrincipalID   string      `json:"principal_id"`
	Name          string      `json:"name"`
	Query         SearchQuery `json:"query"`
	CreatedAt     time.Time   `json:"created_at"`
	SchemaVersion int         `json:"schema_version"`
}

// DocumentSummary is one search result.
type DocumentSummary struct {
	ID               uuid.UUID `json:"id"`
	OwnerID          string    `json:"owner_id"`
	Name             string    `json:"name"`
	FileType         string    `json:"file_type,omitempty"`
	Size             int64     `json:"size"`
	Tags             []string  `json:"tags,omitempty"`
	CurrentSequence  int64     `json:"current_sequence"`
	CurrentVersionAt time.Time `json:"current_version_at"`
	Deleted          bool      `json:"deleted"`
	Score            int       `json:"score"`
}

// SearchPage is one page of search results. NextCursor is empty on the last page.
type SearchPage struct {
	Results    []*DocumentSummary `json:"results"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// BlobInfo describes content held by a blob store.
type BlobInfo struct {
	Handle   string `json:"handle"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}
