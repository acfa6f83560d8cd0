// Package repotest holds behaviour checks shared by every
// simpledoc.Repository implementation.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

// Factory returns an empty repository for one subtest.
type Factory func(t *testing.T) simpledoc.Repository

// Run exercises the repository contract against fresh repositories from newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("Documents", func(t *testing.T) { testDocuments(t, newRepo(t)) })
	t.Run("ListDocuments", func(t *testing.T) { testListDocuments(t, newRepo(t)) })
	t.Run("Versions", func(t *testing.T) { testVersions(t, newRepo(t)) })
	t.Run("Grants", func(t *testing.T) { testGrants(t, newRepo(t)) })
	t.Run("Activity", func(t *testing.T) { testActivity(t, newRepo(t)) })
	t.Run("SavedSearches", func(t *testing.T) { testSavedSearches(t, newRepo(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newRepo(t)) })
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewDocument builds a document with one version's worth of head fields.
func NewDocument(owner, name string, created time.Time) *simpledoc.Document {
	return &simpledoc.Document{
		ID:               uuid.New(),
		OwnerID:          owner,
		CurrentVersionID: uuid.New(),
		CurrentSequence:  1,
		CurrentVersionAt: created,
		Metadata:         simpledoc.Metadata{Name: name},
		CreatedAt:        created,
		UpdatedAt:        created,
		SchemaVersion:    simpledoc.SchemaVersion,
	}
}

func update(t *testing.T, repo simpledoc.Repository, fn func(ctx context.Context, tx simpledoc.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Update(ctx, func(tx simpledoc.Tx) error { return fn(ctx, tx) }))
}

func view(t *testing.T, repo simpledoc.Repository, fn func(ctx context.Context, tx simpledoc.ReadTx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.View(ctx, func(tx simpledoc.ReadTx) error { return fn(ctx, tx) }))
}

func createDocuments(t *testing.T, repo simpledoc.Repository, docs ...*simpledoc.Document) {
	t.Helper()
	update(t, repo, func(ctx context.Context, tx simpledoc.Tx) error {
		for _, d := range docs {
			if err := tx.CreateDocument(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func testDocuments(t *testing.T, repo simpledoc.Repository) {
	ctx := context.Background()
	doc := NewDocument("alice", "plan.txt", epoch)
	doc.Metadata.FileType = "txt"
	doc.Metadata.Size = 42
	doc.Metadata.Tags = []string{"a", "b"}
	doc.Metadata.Extra = map[string]string{"k": "v"}
	createDocuments(t, repo, doc)

	err := repo.Update(ctx, func(tx simpledoc.Tx) error {
		return tx.CreateDocument(ctx, doc)
	})
	assert.ErrorIs(t, err, simpledoc.ErrConflict)

	view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
		got, err := tx.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.OwnerID)
		assert.Equal(t, "plan.txt", got.Metadata.Name)
		assert.Equal(t, int64(42), got.Metadata.Size)
		assert.Equal(t, []string{"a", "b"}, got.Metadata.Tags)
		assert.Equal(t, map[string]string{"k": "v"}, got.Metadata.Extra)
		assert.True(t, got.CreatedAt.Equal(epoch))
		assert.False(t, got.Deleted)
		assert.Nil(t, got.DeletedAt)

		_, err = tx.GetDocument(ctx, uuid.New())
		assert.ErrorIs(t, err, simpledoc.ErrNotFound)
		return nil
	})

	deletedAt := epoch.Add(time.Hour)
	doc.Deleted = true
	doc.DeletedAt = &deletedAt
	doc.CurrentSequence = 2
	update(t, repo, func(ctx context.Context, tx simpledoc.Tx) error {
		return tx.UpdateDocument(ctx, doc)
	})
	view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
		got, err := tx.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.True(t, got.Deleted)
		require.NotNil(t, got.DeletedAt)
		assert.True(t, got.DeletedAt.Equal(deletedAt))
		assert.Equal(t, int64(2), got.CurrentSequence)
		return nil
	})

	err = repo.Update(ctx, func(tx simpledoc.Tx) error {
		return tx.UpdateDocument(ctx, NewDocument("alice", "ghost", epoch))
	})
	assert.ErrorIs(t, err, simpledoc.ErrNotFound)
}

func testListDocuments(t *testing.T, repo simpledoc.Repository) {
	pdf := NewDocument("alice", "a.pdf", epoch)
	pdf.Metadata.FileType = "pdf"
	pdf.Metadata.Size = 100
	pdf.Metadata.Tags = []string{"legal", "q1"}

	txt := NewDocument("bob", "b.txt", epoch.Add(time.Hour))
	txt.Metadata.FileType = "txt"
	txt.Metadata.Size = 10
	txt.Metadata.Tags = []string{"legal"}

	gone := NewDocument("alice", "c.txt", epoch.Add(2*time.Hour))
	gone.Metadata.FileType = "txt"
	gone.Deleted = true
	createDocuments(t, repo, pdf, txt, gone)

	active, deleted := false, true
	from := epoch.Add(30 * time.Minute)
	minSize := int64(50)

	tests := []struct {
		name   string
		filter simpledoc.DocumentFilter
		want   []uuid.UUID
	}{
		{"all", simpledoc.DocumentFilter{}, []uuid.UUID{pdf.ID, txt.ID, gone.ID}},
		{"active", simpledoc.DocumentFilter{Deleted: &active}, []uuid.UUID{pdf.ID, txt.ID}},
		{"deleted", simpledoc.DocumentFilter{Deleted: &deleted}, []uuid.UUID{gone.ID}},
		{"owner", simpledoc.DocumentFilter{OwnerID: "bob"}, []uuid.UUID{txt.ID}},
		{"file type", simpledoc.DocumentFilter{FileTypes: []string{"txt"}, Deleted: &active}, []uuid.UUID{txt.ID}},
		{"tags", simpledoc.DocumentFilter{Tags: []string{"legal", "q1"}}, []uuid.UUID{pdf.ID}},
		{"created from", simpledoc.DocumentFilter{CreatedFrom: &from}, []uuid.UUID{txt.ID, gone.ID}},
		{"created to", simpledoc.DocumentFilter{CreatedTo: &from}, []uuid.UUID{pdf.ID}},
		{"min size", simpledoc.DocumentFilter{SizeMin: &minSize}, []uuid.UUID{pdf.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
				docs, err := tx.ListDocuments(ctx, tt.filter)
				require.NoError(t, err)
				got := make([]uuid.UUID, len(docs))
				for i, d := range docs {
					got[i] = d.ID
				}
				assert.ElementsMatch(t, tt.want, got)
				return nil
			})
		})
	}

	// paging walks ids in ascending order
	var walked []uuid.UUID
	filter := simpledoc.DocumentFilter{Limit: 2}
	for {
		var page []*simpledoc.Document
		view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
			var err error
			page, err = tx.ListDocuments(ctx, filter)
			return err
		})
		for _, d := range page {
			walked = append(walked, d.ID)
		}
		if len(page) < filter.Limit {
			break
		}
		last := page[len(page)-1].ID
		filter.AfterID = &last
	}
	require.Len(t, walked, 3)
	for i := 1; i < len(walked); i++ {
		assert.Less(t, walked[i-1].String(), walked[i].String())
	}
}

func newVersion(doc *simpledoc.Document, seq int64) *simpledoc.Version {
	return &simpledoc.Version{
		ID:            uuid.New(),
		DocumentID:    doc.ID,
		Sequence:      seq,
		BlobHandle:    "blob",
		AuthorID:      doc.OwnerID,
		Metadata:      simpledoc.Metadata{Name: doc.Metadata.Name, Tags: []string{"t"}},
		CreatedAt:     epoch.Add(time.Duration(seq) * time.Minute),
		SchemaVersion: simpledoc.SchemaVersion,
	}
}

func testVersions(t *testing.T, repo simpledoc.Repository) {
	ctx := context.Background()
	doc := NewDocument("alice", "a.txt", epoch)
	createDocuments(t, repo, doc)

	view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
		maxSeq, err := tx.MaxSequence(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), maxSeq)
		return nil
	})

	update(t, repo, func(ctx context.Context, tx simpledoc.Tx) error {
		for seq := int64(1); seq <= 3; seq++ {
			v := newVersion(doc, seq)
			if seq == 3 {
				from := int64(1)
				v.RevertedFrom = &from
				v.Comment = "revert"
			}
			if err := tx.AppendVersion(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})

	err := repo.Update(ctx, func(tx simpledoc.Tx) error {
		return tx.AppendVersion(ctx, newVersion(doc, 2))
	})
	assert.ErrorIs(t, err, simpledoc.ErrConflict)

	view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
		maxSeq, err := tx.MaxSequence(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), maxSeq)

		v, err := tx.GetVersion(ctx, doc.ID, 3)
		require.NoError(t, err)
		require.NotNil(t, v.RevertedFrom)
		assert.Equal(t, int64(1), *v.RevertedFrom)
		assert.Equal(t, "revert", v.Comment)
		assert.Equal(t, []string{"t"}, v.Metadata.Tags)

		_, err = tx.GetVersion(ctx, doc.ID, 4)
		assert.ErrorIs(t, err, simpledoc.ErrNotFound)

		page, err := tx.ListVersions(ctx, doc.ID, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, int64(2), page[0].Sequence)

		all, err := tx.ListVersions(ctx, doc.ID, 0, 10)
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i, v := range all {
			assert.Equal(t, int64(i+1), v.Sequence)
		}

		none, err := tx.ListVersions(ctx, uuid.New(), 0, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	})
}

func newGrant(grantee simpledoc.Grantee, docID *uuid.UUID, caps simpledoc.CapabilitySet) *simpledoc.Grant {
	return &simpledoc.Grant{
		ID:            uuid.New(),
		Grantee:       grantee,
		DocumentID:    docID,
		Capabilities:  caps,
		GrantedBy:     "alice",
		CreatedAt:     epoch,
		UpdatedAt:     epoch,
		SchemaVersion: simpledoc.SchemaVersion,
	}
}

func testGrants(t *testing.T, repo simpledoc.Repository) {
	ctx := context.Background()
	doc := NewDocument("alice", "a.txt", epoch)
	other := NewDocument("alice", "b.txt", epoch)
	createDocuments(t, repo, doc, other)

	bob := simpledoc.Grantee{Kind: simpledoc.GranteePrincipal, ID: "bob"}
	editors := simpledoc.Grantee{Kind: simpledoc.GranteeRole, ID: "editors"}
	read := simpledoc.NewCapabilitySet(simpledoc.CapabilityRead)

	onDoc := newGrant(bob, &doc.ID, read)
	onOther := newGrant(bob, &other.ID, read)
	wildcard := newGrant(editors, nil, simpledoc.NewCapabilitySet(simpledoc.CapabilityWrite))
	update(t, repo, func(ctx context.Context, tx simpledoc.Tx) error {
		for _, g := range []*simpledoc.Grant{onDoc, onOther, wildcard} {
			if err := tx.UpsertGrant(ctx, g); err != nil {
				return err
			}
		}
		return nil
	})

	// one grant per grantee and document
	err := repo.Update(ctx, func(tx simpledoc.Tx) error {
		return tx.UpsertGrant(ctx, newGrant(bob, &doc.ID, read))
	})
	assert.ErrorIs(t, err, simpledoc.ErrConflict)

	view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
		grants, err := tx.FindGrants(ctx, simpledoc.GrantQuery{DocumentID: &doc.ID, Grantees: []simpledoc.Grantee{bob, editors}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{onDoc.ID, wildcard.ID}, grantIDs(grants))

		grants, err = tx.FindGrants(ctx, simpledoc.GrantQuery{Grantees: []simpledoc.Grantee{bob, editors}})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{wildcard.ID}, grantIDs(grants))

		grants, err = tx.FindGrants(ctx, simpledoc.GrantQuery{DocumentID: &doc.ID, Grantees: []simpledoc.Grantee{{Kind: simpledoc.GranteeRole, ID: "bob"}}})
		require.NoError(t, err)
		assert.Empty(t, grants)

		grants, err = tx.ListGrants(ctx, &doc.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{onDoc.ID}, grantIDs(grants))

		grants, err = tx.ListGrants(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, []uuid.UUID{wildcard.ID}, grantIDs(grants))
		assert.Nil(t, grants[0].DocumentID)
		return nil
	})

	onDoc.Capabilities = onDoc.Capabilities.Union(simpledoc.NewCapabilitySet(simpledoc.CapabilityDownload))
	update(t, repo, func(ctx context.Context, tx simpledoc.Tx) error {
		if err := tx.UpsertGrant(ctx, onDoc); err != nil {
			return err
		}
		return tx.DeleteGrant(ctx, onOther.ID)
	})

	err = repo.Update(ctx, func(tx simpledoc.Tx) error {
		return tx.DeleteGrant(ctx, onOther.ID)
	})
	assert.ErrorIs(t, err, simpledoc.ErrNotFound)

	view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
		grants, err := tx.ListGrants(ctx, &doc.ID)
		require.NoError(t, err)
		require.Len(t, grants, 1)
		assert.True(t, grants[0].Capabilities.Has(simpledoc.CapabilityDownload))
		assert.Equal(t, bob, grants[0].Grantee)

		grants, err = tx.ListGrants(ctx, &other.ID)
		require.NoError(t, err)
		assert.Empty(t, grants)
		return nil
	})
}

func grantIDs(grants []*simpledoc.Grant) []uuid.UUID {
	ids := make([]uuid.UUID, len(grants))
	for i, g := range grants {
		ids[i] = g.ID
	}
	return ids
}

func testActivity(t *testing.T, repo simpledoc.Repository) {
	docID := uuid.New()
	otherID := uuid.New()
	var entries []*simpledoc.ActivityEntry
	update(t, repo, func(ctx context.Context, tx simpledoc.Tx) error {
		for i, principal := range []string{"alice", "bob", "alice", "carol"} {
			target := docID
			if i == 3 {
				target = otherID
			}
			e := &simpledoc.ActivityEntry{
				ID:            uuid.New(),
				PrincipalID:   principal,
				DocumentID:    target,
				Action:        simpledoc.ActionView,
				Result:        simpledoc.ResultAllowed,
				CreatedAt:     epoch,
				SchemaVersion: simpledoc.SchemaVersion,
			}
			if err := tx.AppendActivity(ctx, e); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Seq, entries[i-1].Seq)
	}

	view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
		got, err := tx.ListActivity(ctx, simpledoc.ActivityFilter{DocumentID: &docID})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, entries[0].ID, got[0].ID)
		assert.Equal(t, entries[2].ID, got[2].ID)

		got, err = tx.ListActivity(ctx, simpledoc.ActivityFilter{DocumentID: &docID, AfterSeq: entries[0].Seq, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, entries[1].ID, got[0].ID)

		got, err = tx.ListActivity(ctx, simpledoc.ActivityFilter{PrincipalID: "alice"})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = tx.ListActivity(ctx, simpledoc.ActivityFilter{AfterSeq: entries[2].Seq})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, otherID, got[0].DocumentID)
		return nil
	})
}

func testSavedSearches(t *testing.T, repo simpledoc.Repository) {
	ctx := context.Background()
	save := func(principal, name, text string) error {
		return repo.Update(ctx, func(tx simpledoc.Tx) error {
			return tx.SaveSearch(ctx, &simpledoc.SavedSearch{
				ID:            uuid.New(),
				PrincipalID:   principal,
				Name:          name,
				Query:         simpledoc.SearchQuery{Text: text, Tags: []string{"x"}},
				CreatedAt:     epoch,
				SchemaVersion: simpledoc.SchemaVersion,
			})
		})
	}
	require.NoError(t, save("alice", "zeta", "z"))
	require.NoError(t, save("alice", "alpha", "a"))
	require.NoError(t, save("bob", "alpha", "b"))
	assert.ErrorIs(t, save("alice", "alpha", "again"), simpledoc.ErrConflict)

	view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
		got, err := tx.ListSavedSearches(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "alpha", got[0].Name)
		assert.Equal(t, "a", got[0].Query.Text)
		assert.Equal(t, []string{"x"}, got[0].Query.Tags)
		assert.Equal(t, "zeta", got[1].Name)
		return nil
	})
}

var errAbort = errors.New("abort")

func testRollback(t *testing.T, repo simpledoc.Repository) {
	ctx := context.Background()
	doc := NewDocument("alice", "a.txt", epoch)

	err := repo.Update(ctx, func(tx simpledoc.Tx) error {
		if err := tx.CreateDocument(ctx, doc); err != nil {
			return err
		}
		if err := tx.AppendVersion(ctx, newVersion(doc, 1)); err != nil {
			return err
		}
		// writes are visible inside the transaction
		if _, err := tx.GetDocument(ctx, doc.ID); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	view(t, repo, func(ctx context.Context, tx simpledoc.ReadTx) error {
		_, err := tx.GetDocument(ctx, doc.ID)
		assert.ErrorIs(t, err, simpledoc.ErrNotFound)
		maxSeq, err := tx.MaxSequence(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), maxSeq)
		return nil
	})

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = repo.View(cancelled, func(tx simpledoc.ReadTx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
