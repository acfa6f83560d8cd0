package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

// queries implements simpledoc.Tx against one transaction.
type queries struct {
	db DBTX
	// lockRows makes GetDocument take a row lock held until commit
	lockRows bool
}

// Document operations

const documentColumns = `id, owner_id, current_version_id, current_sequence, current_version_at,
	current_comment, name, file_type, size, tags, checksum, extra, deleted, deleted_at,
	created_at, updated_at, schema_version`

func scanDocument(row pgx.Row) (*simpledoc.Document, error) {
	var d simpledoc.Document
	var extra []byte
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.CurrentVersionID, &d.CurrentSequence, &d.CurrentVersionAt,
		&d.CurrentComment, &d.Metadata.Name, &d.Metadata.FileType, &d.Metadata.Size,
		&d.Metadata.Tags, &d.Metadata.Checksum, &extra, &d.Deleted, &d.DeletedAt,
		&d.CreatedAt, &d.UpdatedAt, &d.SchemaVersion)
	if err != nil {
		return nil, err
	}
	if len(d.Metadata.Tags) == 0 {
		d.Metadata.Tags = nil
	}
	if err := decodeExtra(extra, &d.Metadata.Extra); err != nil {
		return nil, err
	}
	return &d, nil
}

func decodeExtra(raw []byte, out *map[string]string) error {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decode extra metadata: %w", err)
	}
	if len(m) > 0 {
		*out = m
	}
	return nil
}

func encodeExtra(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func (q *queries) GetDocument(ctx context.Context, id uuid.UUID) (*simpledoc.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	if q.lockRows {
		query += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, handlePostgresError("get document", err)
	}
	return doc, nil
}

func (q *queries) ListDocuments(ctx context.Context, filter simpledoc.DocumentFilter) ([]*simpledoc.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`

	args := []interface{}{}
	argIndex := 1

	// Build dynamic WHERE clause
	if filter.AfterID != nil {
		query += fmt.Sprintf(" AND id > $%d", argIndex)
		args = append(args, *filter.AfterID)
		argIndex++
	}
	if filter.Deleted != nil {
		query += fmt.Sprintf(" AND deleted = $%d", argIndex)
		args = append(args, *filter.Deleted)
		argIndex++
	}
	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIndex)
		args = append(args, filter.OwnerID)
		argIndex++
	}
	if filter.CreatedFrom != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, *filter.CreatedFrom)
		argIndex++
	}
	if filter.CreatedTo != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIndex)
		args = append(args, *filter.CreatedTo)
		argIndex++
	}
	if len(filter.FileTypes) > 0 {
		query += fmt.Sprintf(" AND file_type = ANY($%d)", argIndex)
		args = append(args, filter.FileTypes)
		argIndex++
	}
	if filter.SizeMin != nil {
		query += fmt.Sprintf(" AND size >= $%d", argIndex)
		args = append(args, *filter.SizeMin)
		argIndex++
	}
	if filter.SizeMax != nil {
		query += fmt.Sprintf(" AND size <= $%d", argIndex)
		args = append(args, *filter.SizeMax)
		argIndex++
	}
	if len(filter.Tags) > 0 {
		query += fmt.Sprintf(" AND tags @> $%d", argIndex)
		args = append(args, filter.Tags)
		argIndex++
	}

	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError("list documents", err)
	}
	defer rows.Close()

	var docs []*simpledoc.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, handlePostgresError("scan document", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list documents", err)
	}
	return docs, nil
}

func (q *queries) CreateDocument(ctx context.Context, doc *simpledoc.Document) error {
	extra, err := encodeExtra(doc.Metadata.Extra)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO documents (
			id, owner_id, current_version_id, current_sequence, current_version_at,
			current_comment, name, file_type, size, tags, checksum, extra, deleted,
			deleted_at, created_at, updated_at, schema_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = q.db.Exec(ctx, query,
		doc.ID, doc.OwnerID, doc.CurrentVersionID, doc.CurrentSequence, doc.CurrentVersionAt,
		doc.CurrentComment, doc.Metadata.Name, doc.Metadata.FileType, doc.Metadata.Size,
		nonNil(doc.Metadata.Tags), doc.Metadata.Checksum, extra, doc.Deleted,
		doc.DeletedAt, doc.CreatedAt, doc.UpdatedAt, doc.SchemaVersion)
	if err != nil {
		return handlePostgresError("create document", err)
	}
	return nil
}

func (q *queries) UpdateDocument(ctx context.Context, doc *simpledoc.Document) error {
	extra, err := encodeExtra(doc.Metadata.Extra)
	if err != nil {
		return err
	}
	query := `
		UPDATE documents SET
			owner_id = $2, current_version_id = $3, current_sequence = $4,
			current_version_at = $5, current_comment = $6, name = $7, file_type = $8,
			size = $9, tags = $10, checksum = $11, extra = $12, deleted = $13,
			deleted_at = $14, updated_at = $15
		WHERE id = $1`

	tag, err := q.db.Exec(ctx, query,
		doc.ID, doc.OwnerID, doc.CurrentVersionID, doc.CurrentSequence,
		doc.CurrentVersionAt, doc.CurrentComment, doc.Metadata.Name, doc.Metadata.FileType,
		doc.Metadata.Size, nonNil(doc.Metadata.Tags), doc.Metadata.Checksum, extra, doc.Deleted,
		doc.DeletedAt, doc.UpdatedAt)
	if err != nil {
		return handlePostgresError("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update document %s: %w", doc.ID, simpledoc.ErrNotFound)
	}
	return nil
}

// Version operations

const versionColumns = `id, document_id, sequence, blob_handle, author_id, comment, metadata,
	reverted_from, created_at, schema_version`

func scanVersion(row pgx.Row) (*simpledoc.Version, error) {
	var v simpledoc.Version
	var meta []byte
	err := row.Scan(&v.ID, &v.DocumentID, &v.Sequence, &v.BlobHandle, &v.AuthorID,
		&v.Comment, &meta, &v.RevertedFrom, &v.CreatedAt, &v.SchemaVersion)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &v.Metadata); err != nil {
		return nil, fmt.Errorf("decode version metadata: %w", err)
	}
	return &v, nil
}

func (q *queries) GetVersion(ctx context.Context, documentID uuid.UUID, sequence int64) (*simpledoc.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions WHERE document_id = $1 AND sequence = $2`
	v, err := scanVersion(q.db.QueryRow(ctx, query, documentID, sequence))
	if err != nil {
		return nil, handlePostgresError("get version", err)
	}
	return v, nil
}

func (q *queries) ListVersions(ctx context.Context, documentID uuid.UUID, afterSequence int64, limit int) ([]*simpledoc.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions
		WHERE document_id = $1 AND sequence > $2 ORDER BY sequence`
	args := []interface{}{documentID, afterSequence}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError("list versions", err)
	}
	defer rows.Close()

	var versions []*simpledoc.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, handlePostgresError("scan version", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list versions", err)
	}
	return versions, nil
}

func (q *queries) MaxSequence(ctx context.Context, documentID uuid.UUID) (int64, error) {
	var maxSeq int64
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM versions WHERE document_id = $1`, documentID).Scan(&maxSeq)
	if err != nil {
		return 0, handlePostgresError("max sequence", err)
	}
	return maxSeq, nil
}

func (q *queries) AppendVersion(ctx context.Context, v *simpledoc.Version) error {
	meta, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("encode version metadata: %w", err)
	}
	query := `
		INSERT INTO versions (
			id, document_id, sequence, blob_handle, author_id, comment, metadata,
			reverted_from, created_at, schema_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = q.db.Exec(ctx, query,
		v.ID, v.DocumentID, v.Sequence, v.BlobHandle, v.AuthorID, v.Comment, meta,
		v.RevertedFrom, v.CreatedAt, v.SchemaVersion)
	if err != nil {
		return handlePostgresError("append version", err)
	}
	return nil
}

// Grant operations

const grantColumns = `id, grantee_kind, grantee_id, document_id, capabilities, granted_by,
	created_at, updated_at, schema_version`

func scanGrant(row pgx.Row) (*simpledoc.Grant, error) {
	var g simpledoc.Grant
	var kind string
	var docID uuid.NullUUID
	var caps []string
	err := row.Scan(&g.ID, &kind, &g.Grantee.ID, &docID, &caps, &g.GrantedBy,
		&g.CreatedAt, &g.UpdatedAt, &g.SchemaVersion)
	if err != nil {
		return nil, err
	}
	g.Grantee.Kind = simpledoc.GranteeKind(kind)
	if docID.Valid {
		id := docID.UUID
		g.DocumentID = &id
	}
	g.Capabilities, err = simpledoc.ParseCapabilities(caps)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func collectGrants(rows pgx.Rows) ([]*simpledoc.Grant, error) {
	defer rows.Close()
	var grants []*simpledoc.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (q *queries) FindGrants(ctx context.Context, query simpledoc.GrantQuery) ([]*simpledoc.Grant, error) {
	if len(query.Grantees) == 0 {
		return nil, nil
	}
	kinds := make([]string, len(query.Grantees))
	ids := make([]string, len(query.Grantees))
	for i, g := range query.Grantees {
		kinds[i] = string(g.Kind)
		ids[i] = g.ID
	}

	sql := `SELECT ` + grantColumns + ` FROM grants
		WHERE (grantee_kind, grantee_id) IN (
			SELECT k, i FROM unnest($1::text[], $2::text[]) AS g(k, i)
		)
		AND (document_id IS NULL OR document_id = $3)`

	rows, err := q.db.Query(ctx, sql, kinds, ids, nullUUID(query.DocumentID))
	if err != nil {
		return nil, handlePostgresError("find grants", err)
	}
	grants, err := collectGrants(rows)
	if err != nil {
		return nil, handlePostgresError("find grants", err)
	}
	return grants, nil
}

func (q *queries) ListGrants(ctx context.Context, documentID *uuid.UUID) ([]*simpledoc.Grant, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if documentID == nil {
		rows, err = q.db.Query(ctx, `SELECT `+grantColumns+` FROM grants
			WHERE document_id IS NULL ORDER BY created_at`)
	} else {
		rows, err = q.db.Query(ctx, `SELECT `+grantColumns+` FROM grants
			WHERE document_id = $1 ORDER BY created_at`, *documentID)
	}
	if err != nil {
		return nil, handlePostgresError("list grants", err)
	}
	grants, err := collectGrants(rows)
	if err != nil {
		return nil, handlePostgresError("list grants", err)
	}
	return grants, nil
}

func (q *queries) UpsertGrant(ctx context.Context, g *simpledoc.Grant) error {
	query := `
		INSERT INTO grants (
			id, grantee_kind, grantee_id, document_id, capabilities, granted_by,
			created_at, updated_at, schema_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			capabilities = EXCLUDED.capabilities,
			granted_by = EXCLUDED.granted_by,
			updated_at = EXCLUDED.updated_at`

	_, err := q.db.Exec(ctx, query,
		g.ID, string(g.Grantee.Kind), g.Grantee.ID, nullUUID(g.DocumentID),
		g.Capabilities.Strings(), g.GrantedBy, g.CreatedAt, g.UpdatedAt, g.SchemaVersion)
	if err != nil {
		return handlePostgresError("upsert grant", err)
	}
	return nil
}

func (q *queries) DeleteGrant(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM grants WHERE id = $1`, id)
	if err != nil {
		return handlePostgresError("delete grant", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete grant %s: %w", id, simpledoc.ErrNotFound)
	}
	return nil
}

// Activity operations

func (q *queries) AppendActivity(ctx context.Context, e *simpledoc.ActivityEntry) error {
	query := `
		INSERT INTO activity (
			id, principal_id, document_id, version_id, action, result, detail,
			created_at, schema_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`

	err := q.db.QueryRow(ctx, query,
		e.ID, e.PrincipalID, e.DocumentID, nullUUID(e.VersionID), string(e.Action),
		string(e.Result), e.Detail, e.CreatedAt, e.SchemaVersion).Scan(&e.Seq)
	if err != nil {
		return handlePostgresError("append activity", err)
	}
	return nil
}

func (q *queries) ListActivity(ctx context.Context, filter simpledoc.ActivityFilter) ([]*simpledoc.ActivityEntry, error) {
	query := `SELECT seq, id, principal_id, document_id, version_id, action, result, detail,
		created_at, schema_version FROM activity WHERE seq > $1`
	args := []interface{}{filter.AfterSeq}
	argIndex := 2

	if filter.DocumentID != nil {
		query += fmt.Sprintf(" AND document_id = $%d", argIndex)
		args = append(args, *filter.DocumentID)
		argIndex++
	}
	if filter.PrincipalID != "" {
		query += fmt.Sprintf(" AND principal_id = $%d", argIndex)
		args = append(args, filter.PrincipalID)
		argIndex++
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError("list activity", err)
	}
	defer rows.Close()

	var entries []*simpledoc.ActivityEntry
	for rows.Next() {
		var e simpledoc.ActivityEntry
		var versionID uuid.NullUUID
		var action, result string
		if err := rows.Scan(&e.Seq, &e.ID, &e.PrincipalID, &e.DocumentID, &versionID,
			&action, &result, &e.Detail, &e.CreatedAt, &e.SchemaVersion); err != nil {
			return nil, handlePostgresError("scan activity", err)
		}
		if versionID.Valid {
			id := versionID.UUID
			e.VersionID = &id
		}
		e.Action = simpledoc.ActivityAction(action)
		e.Result = simpledoc.ActivityResult(result)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list activity", err)
	}
	return entries, nil
}

// Saved search operations

func (q *queries) SaveSearch(ctx context.Context, s *simpledoc.SavedSearch) error {
	raw, err := json.Marshal(s.Query)
	if err != nil {
		return fmt.Errorf("encode saved query: %w", err)
	}
	query := `
		INSERT INTO saved_searches (id, principal_id, name, query, created_at, schema_version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, query = EXCLUDED.query`

	_, err = q.db.Exec(ctx, query, s.ID, s.PrincipalID, s.Name, raw, s.CreatedAt, s.SchemaVersion)
	if err != nil {
		return handlePostgresError("save search", err)
	}
	return nil
}

func (q *queries) ListSavedSearches(ctx context.Context, principalID string) ([]*simpledoc.SavedSearch, error) {
	rows, err := q.db.Query(ctx, `SELECT id, principal_id, name, query, created_at, schema_version
		FROM saved_searches WHERE principal_id = $1 ORDER BY name`, principalID)
	if err != nil {
		return nil, handlePostgresError("list saved searches", err)
	}
	defer rows.Close()

	var searches []*simpledoc.SavedSearch
	for rows.Next() {
		var s simpledoc.SavedSearch
		var raw []byte
		if err := rows.Scan(&s.ID, &s.PrincipalID, &s.Name, &raw, &s.CreatedAt, &s.SchemaVersion); err != nil {
			return nil, handlePostgresError("scan saved search", err)
		}
		if err := json.Unmarshal(raw, &s.Query); err != nil {
			return nil, fmt.Errorf("decode saved query: %w", err)
		}
		searches = append(searches, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list saved searches", err)
	}
	return searches, nil
}
