package simpledoc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultStoreTimeout    = 5 * time.Second
	defaultSearchBatchSize = 200
	defaultVersionPageSize = 100
	defaultSearchLimit     = 20
)

// service implements the Service interface
type service struct {
	repository      Repository
	blobStore       BlobStore
	logger          *slog.Logger
	metrics         *Metrics
	now             func() time.Time
	storeTimeout    time.Duration
	searchBatchSize int
	versionPageSize int
	recorder        *Recorder
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the content blob store
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus collectors used by the service
func WithMetrics(metrics *Metrics) Option {
	return func(s *service) {
		s.metrics = metrics
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStoreTimeout bounds every repository call. Zero disables the bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *service) {
		s.storeTimeout = d
	}
}

// WithSearchBatchSize sets how many candidates search pulls per store call
func WithSearchBatchSize(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.searchBatchSize = n
		}
	}
}

// WithVersionPageSize sets how many versions ListVersions reads per store call
func WithVersionPageSize(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.versionPageSize = n
		}
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		logger:          slog.Default(),
		now:             time.Now,
		storeTimeout:    defaultStoreTimeout,
		searchBatchSize: defaultSearchBatchSize,
		versionPageSize: defaultVersionPageSize,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}

	s.recorder = NewRecorder(s.clock, s.metrics)
	return s, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// Transaction helpers

func (s *service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeError maps an expired store deadline to ErrStoreUnavailable. Caller
// cancellation is returned unchanged.
func (s *service) storeError(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil && !errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func (s *service) view(ctx context.Context, fn func(ctx context.Context, tx ReadTx) error) error {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	err := s.repository.View(sctx, func(tx ReadTx) error {
		return fn(sctx, tx)
	})
	return s.storeError(ctx, err)
}

func (s *service) update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	err := s.repository.Update(sctx, func(tx Tx) error {
		return fn(sctx, tx)
	})
	return s.storeError(ctx, err)
}

// operation describes who is doing what to which document, for denial
// recording and error context.
type operation struct {
	principal     Principal
	documentID    uuid.UUID
	action        ActivityAction
	retryConflict bool
}

// mutate runs fn in a write transaction. When fn reports a missing
// capability the transaction is discarded and the denial is recorded on its
// own before ErrAccessDenied is returned.
func (s *service) mutate(ctx context.Context, op operation, fn func(ctx context.Context, tx Tx) error) error {
	attempts := 1
	if op.retryConflict {
		attempts = 2
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = s.update(ctx, fn)
		if !errors.Is(err, ErrConflict) || !op.retryConflict {
			break
		}
		s.metrics.versionConflict()
		if i < attempts-1 {
			s.logger.Warn("version sequence conflict, retrying",
				"document_id", op.documentID, "principal_id", op.principal.ID)
		}
	}
	return s.finish(ctx, op, err)
}

// inspect runs fn against a read snapshot with the same denial handling as mutate.
func (s *service) inspect(ctx context.Context, op operation, fn func(ctx context.Context, tx ReadTx) error) error {
	return s.finish(ctx, op, s.view(ctx, fn))
}

// precheck verifies capability on a read snapshot before work that cannot
// be rolled back, such as a blob upload. A denial is recorded like one
// found inside a transaction.
func (s *service) precheck(ctx context.Context, op operation, capability Capability) error {
	return s.inspect(ctx, op, func(ctx context.Context, tx ReadTx) error {
		doc, err := tx.GetDocument(ctx, op.documentID)
		if err != nil {
			return err
		}
		caps, err := resolveCapabilities(ctx, tx, op.principal, doc)
		if err != nil {
			return err
		}
		if !caps.Has(capability) {
			s.metrics.decision(capability, false)
			return &denial{capability: capability}
		}
		return nil
	})
}

// recordAccess appends a view or download entry in its own short write,
// after the access was checked on a snapshot.
func (s *service) recordAccess(ctx context.Context, op operation, entry *ActivityEntry) error {
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		return s.recorder.Record(ctx, tx, entry)
	})
	if err != nil {
		return &DocumentError{DocumentID: op.documentID, Op: string(op.action), Err: err}
	}
	return nil
}

func (s *service) finish(ctx context.Context, op operation, err error) error {
	if err == nil {
		return nil
	}
	var d *denial
	if errors.As(err, &d) {
		return s.recordDenial(ctx, op, d.capability)
	}
	return &DocumentError{DocumentID: op.documentID, Op: string(op.action), Err: err}
}

func (s *service) recordDenial(ctx context.Context, op operation, capability Capability) error {
	entry := &ActivityEntry{
		PrincipalID: op.principal.ID,
		DocumentID:  op.documentID,
		Action:      op.action,
		Result:      ResultDenied,
		Detail:      fmt.Sprintf("missing %s", capability),
	}
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		return s.recorder.Record(ctx, tx, entry)
	})
	if err != nil {
		s.logger.Error("failed to record denied access",
			"document_id", op.documentID, "principal_id", op.principal.ID,
			"action", op.action, "error", err)
		if !errors.Is(err, ErrAuditFailure) {
			err = fmt.Errorf("%w: %v", ErrAuditFailure, err)
		}
		return &DocumentError{DocumentID: op.documentID, Op: string(op.action), Err: err}
	}

	s.logger.Info("access denied",
		"document_id", op.documentID, "principal_id", op.principal.ID,
		"action", op.action, "capability", capability)
	return &DocumentError{DocumentID: op.documentID, Op: string(op.action), Err: ErrAccessDenied}
}

// require loads the document and checks that principal holds capability on it.
func (s *service) require(ctx context.Context, tx ReadTx, principal Principal, documentID uuid.UUID, capability Capability) (*Document, CapabilitySet, error) {
	doc, err := tx.GetDocument(ctx, documentID)
	if err != nil {
		return nil, 0, err
	}
	caps, err := resolveCapabilities(ctx, tx, principal, doc)
	if err != nil {
		return nil, 0, err
	}
	allowed := caps.Has(capability)
	s.metrics.decision(capability, allowed)
	if !allowed {
		return nil, caps, &denial{capability: capability}
	}
	return doc, caps, nil
}

// canSeeDeleted reports whether a soft-deleted document stays resolvable for principal.
func canSeeDeleted(principal Principal, doc *Document, caps CapabilitySet) bool {
	return doc.OwnerID == principal.ID || caps.Has(CapabilityManagePermissions)
}
