package memory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

// Repository implements simpledoc.Repository on go-memdb. Reads run on
// immutable snapshots and never wait for writers; write transactions are
// serialized by memdb's writer lock.
type Repository struct {
	db          *memdb.MemDB
	activitySeq atomic.Int64
}

// New creates a new in-memory repository
func New() *Repository {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		// The schema is static, so this only fails on a programming error.
		panic(fmt.Sprintf("memory: invalid schema: %v", err))
	}
	return &Repository{db: db}
}

// View runs fn against a read snapshot.
func (r *Repository) View(ctx context.Context, fn func(tx simpledoc.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := r.db.Txn(false)
	defer t.Abort()
	return fn(&txn{repo: r, txn: t})
}

// Update runs fn in a write transaction and commits if it returns nil.
func (r *Repository) Update(ctx context.Context, fn func(tx simpledoc.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := r.db.Txn(true)
	defer t.Abort()
	if err := fn(&txn{repo: r, txn: t}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Commit()
	return nil
}

// txn implements simpledoc.Tx over one memdb transaction. Values are copied
// on the way in and out so callers never share memory with the store.
type txn struct {
	repo *Repository
	txn  *memdb.Txn
}

// Document operations

func (t *txn) GetDocument(ctx context.Context, id uuid.UUID) (*simpledoc.Document, error) {
	raw, err := t.txn.First(tblDocuments, "id", id.String())
	if err != nil {
		return nil, fmt.Errorf("find document %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("document %s: %w", id, simpledoc.ErrNotFound)
	}
	return raw.(*documentRecord).Doc.Clone(), nil
}

func (t *txn) ListDocuments(ctx context.Context, filter simpledoc.DocumentFilter) ([]*simpledoc.Document, error) {
	from := ""
	if filter.AfterID != nil {
		from = filter.AfterID.String()
	}
	it, err := t.txn.LowerBound(tblDocuments, "id", from)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var docs []*simpledoc.Document
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*documentRecord)
		if rec.ID == from {
			continue
		}
		if !matches(rec.Doc, filter) {
			continue
		}
		docs = append(docs, rec.Doc.Clone())
		if filter.Limit > 0 && len(docs) >= filter.Limit {
			break
		}
	}
	return docs, nil
}

// matches applies the structural filter to one document.
func matches(doc *simpledoc.Document, f simpledoc.DocumentFilter) bool {
	if f.Deleted != nil && doc.Deleted != *f.Deleted {
		return false
	}
	if f.OwnerID != "" && doc.OwnerID != f.OwnerID {
		return false
	}
	if f.CreatedFrom != nil && doc.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && doc.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.SizeMin != nil && doc.Metadata.Size < *f.SizeMin {
		return false
	}
	if f.SizeMax != nil && doc.Metadata.Size > *f.SizeMax {
		return false
	}
	if len(f.FileTypes) > 0 && !containsString(f.FileTypes, doc.Metadata.FileType) {
		return false
	}
	for _, tag := range f.Tags {
		if !containsString(doc.Metadata.Tags, tag) {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func (t *txn) CreateDocument(ctx context.Context, doc *simpledoc.Document) error {
	existing, err := t.txn.First(tblDocuments, "id", doc.ID.String())
	if err != nil {
		return fmt.Errorf("find document %s: %w", doc.ID, err)
	}
	if existing != nil {
		return fmt.Errorf("document %s: %w", doc.ID, simpledoc.ErrConflict)
	}
	return t.putDocument(doc)
}

func (t *txn) UpdateDocument(ctx context.Context, doc *simpledoc.Document) error {
	existing, err := t.txn.First(tblDocuments, "id", doc.ID.String())
	if err != nil {
		return fmt.Errorf("find document %s: %w", doc.ID, err)
	}
	if existing == nil {
		return fmt.Errorf("document %s: %w", doc.ID, simpledoc.ErrNotFound)
	}
	return t.putDocument(doc)
}

func (t *txn) putDocument(doc *simpledoc.Document) error {
	rec := &documentRecord{ID: doc.ID.String(), Doc: doc.Clone()}
	if err := t.txn.Insert(tblDocuments, rec); err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// Version operations

func (t *txn) GetVersion(ctx context.Context, documentID uuid.UUID, sequence int64) (*simpledoc.Version, error) {
	raw, err := t.txn.First(tblVersions, "document_seq", documentID.String(), seqKey(sequence))
	if err != nil {
		return nil, fmt.Errorf("find version %d of %s: %w", sequence, documentID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("version %d of %s: %w", sequence, documentID, simpledoc.ErrNotFound)
	}
	return raw.(*versionRecord).Version.Clone(), nil
}

func (t *txn) ListVersions(ctx context.Context, documentID uuid.UUID, afterSequence int64, limit int) ([]*simpledoc.Version, error) {
	docKey := documentID.String()
	it, err := t.txn.LowerBound(tblVersions, "document_seq", docKey, seqKey(afterSequence+1))
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", documentID, err)
	}

	var versions []*simpledoc.Version
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*versionRecord)
		if rec.DocumentID != docKey {
			break
		}
		versions = append(versions, rec.Version.Clone())
		if limit > 0 && len(versions) >= limit {
			break
		}
	}
	return versions, nil
}

func (t *txn) MaxSequence(ctx context.Context, documentID uuid.UUID) (int64, error) {
	docKey := documentID.String()
	it, err := t.txn.LowerBound(tblVersions, "document_seq", docKey, "")
	if err != nil {
		return 0, fmt.Errorf("scan versions of %s: %w", documentID, err)
	}
	var maxSeq int64
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*versionRecord)
		if rec.DocumentID != docKey {
			break
		}
		maxSeq = rec.Version.Sequence
	}
	return maxSeq, nil
}

func (t *txn) AppendVersion(ctx context.Context, version *simpledoc.Version) error {
	docKey := version.DocumentID.String()
	key := seqKey(version.Sequence)
	existing, err := t.txn.First(tblVersions, "document_seq", docKey, key)
	if err != nil {
		return fmt.Errorf("find version %d of %s: %w", version.Sequence, version.DocumentID, err)
	}
	if existing != nil {
		return fmt.Errorf("version %d of %s: %w", version.Sequence, version.DocumentID, simpledoc.ErrConflict)
	}

	rec := &versionRecord{
		ID:         version.ID.String(),
		DocumentID: docKey,
		SeqKey:     key,
		Version:    version.Clone(),
	}
	if err := t.txn.Insert(tblVersions, rec); err != nil {
		return fmt.Errorf("insert version %d of %s: %w", version.Sequence, version.DocumentID, err)
	}
	return nil
}

// Grant operations

func (t *txn) FindGrants(ctx context.Context, query simpledoc.GrantQuery) ([]*simpledoc.Grant, error) {
	var grants []*simpledoc.Grant
	for _, grantee := range query.Grantees {
		it, err := t.txn.Get(tblGrants, "grantee", string(grantee.Kind), grantee.ID)
		if err != nil {
			return nil, fmt.Errorf("find grants of %s:%s: %w", grantee.Kind, grantee.ID, err)
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			rec := raw.(*grantRecord)
			if rec.DocumentKey == wildcardKey ||
				(query.DocumentID != nil && rec.DocumentKey == query.DocumentID.String()) {
				grants = append(grants, rec.Grant.Clone())
			}
		}
	}
	return grants, nil
}

func (t *txn) ListGrants(ctx context.Context, documentID *uuid.UUID) ([]*simpledoc.Grant, error) {
	key := wildcardKey
	if documentID != nil {
		key = documentID.String()
	}
	it, err := t.txn.Get(tblGrants, "document", key)
	if err != nil {
		return nil, fmt.Errorf("list grants on %s: %w", key, err)
	}

	var grants []*simpledoc.Grant
	for raw := it.Next(); raw != nil; raw = it.Next() {
		grants = append(grants, raw.(*grantRecord).Grant.Clone())
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].CreatedAt.Before(grants[j].CreatedAt)
	})
	return grants, nil
}

func (t *txn) UpsertGrant(ctx context.Context, grant *simpledoc.Grant) error {
	rec := &grantRecord{
		ID:          grant.ID.String(),
		GranteeKind: string(grant.Grantee.Kind),
		GranteeID:   grant.Grantee.ID,
		DocumentKey: documentKey(grant),
		Grant:       grant.Clone(),
	}

	existing, err := t.txn.First(tblGrants, "grantee_document", rec.GranteeKind, rec.GranteeID, rec.DocumentKey)
	if err != nil {
		return fmt.Errorf("find grant %s: %w", grant.ID, err)
	}
	if existing != nil && existing.(*grantRecord).ID != rec.ID {
		return fmt.Errorf("grant for %s:%s on %s: %w", rec.GranteeKind, rec.GranteeID, rec.DocumentKey, simpledoc.ErrConflict)
	}

	if err := t.txn.Insert(tblGrants, rec); err != nil {
		return fmt.Errorf("insert grant %s: %w", grant.ID, err)
	}
	return nil
}

func (t *txn) DeleteGrant(ctx context.Context, id uuid.UUID) error {
	raw, err := t.txn.First(tblGrants, "id", id.String())
	if err != nil {
		return fmt.Errorf("find grant %s: %w", id, err)
	}
	if raw == nil {
		return fmt.Errorf("grant %s: %w", id, simpledoc.ErrNotFound)
	}
	if err := t.txn.Delete(tblGrants, raw); err != nil {
		return fmt.Errorf("delete grant %s: %w", id, err)
	}
	return nil
}

// Activity operations

func (t *txn) AppendActivity(ctx context.Context, entry *simpledoc.ActivityEntry) error {
	entry.Seq = t.repo.activitySeq.Add(1)
	rec := &activityRecord{
		ID:         entry.ID.String(),
		DocumentID: entry.DocumentID.String(),
		SeqKey:     seqKey(entry.Seq),
		Entry:      cloneEntry(entry),
	}
	if err := t.txn.Insert(tblActivity, rec); err != nil {
		return fmt.Errorf("insert activity %s: %w", entry.ID, err)
	}
	return nil
}

func (t *txn) ListActivity(ctx context.Context, filter simpledoc.ActivityFilter) ([]*simpledoc.ActivityEntry, error) {
	var (
		it     memdb.ResultIterator
		err    error
		docKey string
	)
	if filter.DocumentID != nil {
		docKey = filter.DocumentID.String()
		it, err = t.txn.LowerBound(tblActivity, "document_seq", docKey, seqKey(filter.AfterSeq+1))
	} else {
		it, err = t.txn.LowerBound(tblActivity, "seq", seqKey(filter.AfterSeq+1))
	}
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}

	var entries []*simpledoc.ActivityEntry
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*activityRecord)
		if filter.DocumentID != nil && rec.DocumentID != docKey {
			break
		}
		if filter.PrincipalID != "" && rec.Entry.PrincipalID != filter.PrincipalID {
			continue
		}
		entries = append(entries, cloneEntry(rec.Entry))
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}
	return entries, nil
}

func cloneEntry(e *simpledoc.ActivityEntry) *simpledoc.ActivityEntry {
	out := *e
	if e.VersionID != nil {
		id := *e.VersionID
		out.VersionID = &id
	}
	return &out
}

// Saved search operations

func (t *txn) SaveSearch(ctx context.Context, search *simpledoc.SavedSearch) error {
	existing, err := t.txn.First(tblSavedSearches, "principal_name", search.PrincipalID, search.Name)
	if err != nil {
		return fmt.Errorf("find saved search %q: %w", search.Name, err)
	}
	if existing != nil && existing.(*savedSearchRecord).ID != search.ID.String() {
		return fmt.Errorf("saved search %q: %w", search.Name, simpledoc.ErrConflict)
	}

	copied := *search
	rec := &savedSearchRecord{
		ID:          search.ID.String(),
		PrincipalID: search.PrincipalID,
		Name:        search.Name,
		Search:      &copied,
	}
	if err := t.txn.Insert(tblSavedSearches, rec); err != nil {
		return fmt.Errorf("insert saved search %q: %w", search.Name, err)
	}
	return nil
}

func (t *txn) ListSavedSearches(ctx context.Context, principalID string) ([]*simpledoc.SavedSearch, error) {
	it, err := t.txn.LowerBound(tblSavedSearches, "principal_name", principalID, "")
	if err != nil {
		return nil, fmt.Errorf("list saved searches: %w", err)
	}
	var searches []*simpledoc.SavedSearch
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*savedSearchRecord)
		if rec.PrincipalID != principalID {
			break
		}
		copied := *rec.Search
		searches = append(searches, &copied)
	}
	return searches, nil
}
