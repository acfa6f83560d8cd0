package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Beginner starts transactions. *pgxpool.Pool and *pgx.Conn implement it.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository implements simpledoc.Repository using PostgreSQL.
//
// View runs in a read-only REPEATABLE READ transaction so every query inside
// it sees one snapshot. Update runs in READ COMMITTED and reads documents
// with SELECT ... FOR UPDATE, so writers to one document are serialized and
// never rewrite a row from a stale copy. Version appends that still collide
// hit the (document_id, sequence) unique constraint and surface as
// simpledoc.ErrConflict.
type Repository struct {
	db Beginner
}

// New creates a new PostgreSQL repository
func New(db Beginner) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

var (
	readOptions  = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	writeOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}
)

func (r *Repository) View(ctx context.Context, fn func(tx simpledoc.ReadTx) error) error {
	return r.run(ctx, readOptions, func(q *queries) error { return fn(q) })
}

func (r *Repository) Update(ctx context.Context, fn func(tx simpledoc.Tx) error) error {
	return r.run(ctx, writeOptions, func(q *queries) error { return fn(q) })
}

func (r *Repository) run(ctx context.Context, opts pgx.TxOptions, fn func(q *queries) error) error {
	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return handlePostgresError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	q := &queries{db: tx, lockRows: opts.AccessMode == pgx.ReadWrite}
	if err := fn(q); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return handlePostgresError("commit", err)
	}
	return nil
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, simpledoc.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w: %s", operation, simpledoc.ErrConflict, pgErr.ConstraintName)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w: %s", operation, simpledoc.ErrConflict, pgErr.Message)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record %w", operation, simpledoc.ErrNotFound)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		case "57014": // query_canceled
			return fmt.Errorf("%s: %w: %s", operation, simpledoc.ErrStoreUnavailable, pgErr.Message)
		}
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" { // connection_exception class
			return fmt.Errorf("%s: %w: %s", operation, simpledoc.ErrStoreUnavailable, pgErr.Message)
		}
		return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", operation, simpledoc.ErrStoreUnavailable, err)
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}
