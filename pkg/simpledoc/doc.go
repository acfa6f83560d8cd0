// Package simpledoc provides a document version-control and access
// resolution library with pluggable metadata repositories and blob stores.
//
// It exposes a single Service interface that creates immutable document
// versions, resolves what a principal may do with a document, answers
// filtered searches over document metadata and keeps an append-only activity
// trail. Implementations of repositories (memory, Postgres) and blob stores
// (memory, filesystem, S3) are provided under subpackages.
//
// # Version history
//
// Documents are never edited in place. Content and metadata changes append a
// new Version whose sequence number is one greater than the previous maximum,
// and the document's current-version pointer moves to it inside the same
// repository transaction. Reverting copies an older version forward.
//
// # Access
//
// Effective capabilities are the union of every grant matching the principal
// or one of its roles, on the document or on all documents, plus the implicit
// full set held by the document owner. There are no deny entries.
package simpledoc
