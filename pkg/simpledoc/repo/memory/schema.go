package memory

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

var (
	tblDocuments     = "documents"
	tblVersions      = "versions"
	tblGrants        = "grants"
	tblActivity      = "activity"
	tblSavedSearches = "saved_searches"
)

// wildcardKey stands in for a nil document id in the grants table.
const wildcardKey = "*"

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblDocuments: {
			Name: tblDocuments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
		tblVersions: {
			Name: tblVersions,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"document_seq": {
					Name:   "document_seq",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "DocumentID"},
							&memdb.StringFieldIndex{Field: "SeqKey"},
						},
					},
				},
			},
		},
		tblGrants: {
			Name: tblGrants,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"grantee": {
					Name: "grantee",
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "GranteeKind"},
							&memdb.StringFieldIndex{Field: "GranteeID"},
						},
					},
				},
				"grantee_document": {
					Name:   "grantee_document",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "GranteeKind"},
							&memdb.StringFieldIndex{Field: "GranteeID"},
							&memdb.StringFieldIndex{Field: "DocumentKey"},
						},
					},
				},
				"document": {
					Name:    "document",
					Indexer: &memdb.StringFieldIndex{Field: "DocumentKey"},
				},
			},
		},
		tblActivity: {
			Name: tblActivity,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"seq": {
					Name:    "seq",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "SeqKey"},
				},
				"document_seq": {
					Name:   "document_seq",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "DocumentID"},
							&memdb.StringFieldIndex{Field: "SeqKey"},
						},
					},
				},
			},
		},
		tblSavedSearches: {
			Name: tblSavedSearches,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"principal_name": {
					Name:   "principal_name",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "PrincipalID"},
							&memdb.StringFieldIndex{Field: "Name"},
						},
					},
				},
			},
		},
	},
}

// Records wrap domain values with the string keys memdb indexes on.

type documentRecord struct {
	ID  string
	Doc *simpledoc.Document
}

type versionRecord struct {
	ID         string
	DocumentID string
	SeqKey     string
	Version    *simpledoc.Version
}

type grantRecord struct {
	ID          string
	GranteeKind string
	GranteeID   string
	DocumentKey string
	Grant       *simpledoc.Grant
}

type activityRecord struct {
	ID         string
	DocumentID string
	SeqKey     string
	Entry      *simpledoc.ActivityEntry
}

type savedSearchRecord struct {
	ID          string
	PrincipalID string
	Name        string
	Search      *simpledoc.SavedSearch
}

// seqKey renders a sequence so that string order matches numeric order.
func seqKey(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

func documentKey(g *simpledoc.Grant) string {
	if g.DocumentID == nil {
		return wildcardKey
	}
	return g.DocumentID.String()
}
