package simpledoc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultActivityLimit = 100

// Recorder appends audit entries inside the caller's transaction.
type Recorder struct {
	now     func() time.Time
	metrics *Metrics
}

// NewRecorder creates a Recorder using now as its time source.
func NewRecorder(now func() time.Time, metrics *Metrics) *Recorder {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Recorder{now: now, metrics: metrics}
}

// Record fills in the entry's id, timestamp and schema version and appends it
// through tx. A failed append returns ErrAuditFailure so the surrounding
// transaction is rolled back rather than committed without a trail.
func (r *Recorder) Record(ctx context.Context, tx Tx, entry *ActivityEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	if entry.Result == "" {
		entry.Result = ResultAllowed
	}
	entry.SchemaVersion = SchemaVersion

	if err := tx.AppendActivity(ctx, entry); err != nil {
		r.metrics.auditFailure()
		return fmt.Errorf("%w: %v", ErrAuditFailure, err)
	}
	return nil
}

// allowed is shorthand for an allowed entry on a document.
func allowed(principal Principal, documentID uuid.UUID, versionID *uuid.UUID, action ActivityAction, detail string) *ActivityEntry {
	return &ActivityEntry{
		PrincipalID: principal.ID,
		DocumentID:  documentID,
		VersionID:   versionID,
		Action:      action,
		Result:      ResultAllowed,
		Detail:      detail,
	}
}

// ListActivity returns the trail of one document. Only the owner and holders
// of manage_permissions may read it.
func (s *service) ListActivity(ctx context.Context, req ActivityQuery) ([]*ActivityEntry, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultActivityLimit
	}

	op := operation{principal: req.Principal, documentID: req.DocumentID, action: ActionList}
	var entries []*ActivityEntry
	err := s.inspect(ctx, op, func(ctx context.Context, tx ReadTx) error {
		doc, err := tx.GetDocument(ctx, req.DocumentID)
		if err != nil {
			return err
		}
		caps, err := resolveCapabilities(ctx, tx, req.Principal, doc)
		if err != nil {
			return err
		}
		if !canSeeDeleted(req.Principal, doc, caps) {
			s.metrics.decision(CapabilityManagePermissions, false)
			return &denial{capability: CapabilityManagePermissions}
		}
		id := req.DocumentID
		entries, err = tx.ListActivity(ctx, ActivityFilter{DocumentID: &id, AfterSeq: req.AfterSeq, Limit: limit})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
