package simpledoc

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (s *service) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*Document, *Version, error) {
	if err := validateRequest(req); err != nil {
		return nil, nil, err
	}
	blob, err := s.resolveBlob(ctx, req.Content, req.BlobHandle)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock()
	meta := withBlob(Metadata{
		Name:     strings.TrimSpace(req.Name),
		FileType: NormalizeFileType(req.FileType),
		Tags:     NormalizeTags(req.Tags),
		Extra:    req.Extra,
	}, blob)

	version := &Version{
		ID:            uuid.New(),
		Sequence:      1,
		BlobHandle:    blob.Handle,
		AuthorID:      req.Principal.ID,
		Comment:       req.Comment,
		Metadata:      meta,
		CreatedAt:     now,
		SchemaVersion: SchemaVersion,
	}
	doc := &Document{
		ID:               uuid.New(),
		OwnerID:          req.Principal.ID,
		CurrentVersionID: version.ID,
		CurrentSequence:  version.Sequence,
		CurrentVersionAt: now,
		CurrentComment:   req.Comment,
		Metadata:         meta.Clone(),
		CreatedAt:        now,
		UpdatedAt:        now,
		SchemaVersion:    SchemaVersion,
	}
	version.DocumentID = doc.ID

	op := operation{principal: req.Principal, documentID: doc.ID, action: ActionCreate}
	err = s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		if err := tx.CreateDocument(ctx, doc); err != nil {
			return err
		}
		if err := tx.AppendVersion(ctx, version); err != nil {
			return err
		}
		versionID := version.ID
		return s.recorder.Record(ctx, tx, allowed(req.Principal, doc.ID, &versionID, ActionCreate, doc.Metadata.Name))
	})
	if err != nil {
		return nil, nil, err
	}

	s.metrics.versionCreated(ActionCreate)
	s.logger.Info("created document", "document_id", doc.ID, "principal_id", req.Principal.ID)
	return doc, version, nil
}

// GetDocument reads the document from a snapshot, then records the view.
func (s *service) GetDocument(ctx context.Context, principal Principal, id uuid.UUID) (*Document, error) {
	if err := validateRequest(principal); err != nil {
		return nil, err
	}
	var doc *Document
	op := operation{principal: principal, documentID: id, action: ActionView}
	err := s.inspect(ctx, op, func(ctx context.Context, tx ReadTx) error {
		d, caps, err := s.require(ctx, tx, principal, id, CapabilityRead)
		if err != nil {
			return err
		}
		if err := visible(principal, d, caps); err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.recordAccess(ctx, op, allowed(principal, id, nil, ActionView, "")); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateMetadata appends a version that keeps the current content and
// changes only metadata.
func (s *service) UpdateMetadata(ctx context.Context, req UpdateMetadataRequest) (*Version, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var version *Version
	op := operation{principal: req.Principal, documentID: req.DocumentID, action: ActionEdit, retryConflict: true}
	err := s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		doc, caps, err := s.require(ctx, tx, req.Principal, req.DocumentID, CapabilityWrite)
		if err != nil {
			return err
		}
		restored, err := writable(doc, caps)
		if err != nil {
			return err
		}
		current, err := tx.GetVersion(ctx, doc.ID, doc.CurrentSequence)
		if err != nil {
			return err
		}

		meta := req.Metadata.apply(doc.Metadata)
		version, err = s.appendVersion(ctx, tx, doc, req.Principal, current.BlobHandle, meta, req.Comment, nil, ActionEdit)
		if err != nil {
			return err
		}
		if restored {
			return s.recordRestore(ctx, tx, req.Principal, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.versionCreated(ActionEdit)
	return version, nil
}

// DeleteDocument soft-deletes the document. History is kept.
func (s *service) DeleteDocument(ctx context.Context, principal Principal, id uuid.UUID) error {
	if err := validateRequest(principal); err != nil {
		return err
	}
	op := operation{principal: principal, documentID: id, action: ActionDelete}
	err := s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		doc, _, err := s.require(ctx, tx, principal, id, CapabilityDelete)
		if err != nil {
			return err
		}
		if doc.Deleted {
			return fmt.Errorf("%w: document is already deleted", ErrInvalidState)
		}
		now := s.clock()
		doc.Deleted = true
		doc.DeletedAt = &now
		doc.UpdatedAt = now
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return s.recorder.Record(ctx, tx, allowed(principal, id, nil, ActionDelete, ""))
	})
	if err != nil {
		return err
	}
	s.logger.Info("deleted document", "document_id", id, "principal_id", principal.ID)
	return nil
}

func (s *service) RestoreDocument(ctx context.Context, principal Principal, id uuid.UUID) (*Document, error) {
	if err := validateRequest(principal); err != nil {
		return nil, err
	}
	var doc *Document
	op := operation{principal: principal, documentID: id, action: ActionRestore}
	err := s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		d, _, err := s.require(ctx, tx, principal, id, CapabilityManagePermissions)
		if err != nil {
			return err
		}
		if !d.Deleted {
			return fmt.Errorf("%w: document is not deleted", ErrInvalidState)
		}
		d.Deleted = false
		d.DeletedAt = nil
		d.UpdatedAt = s.clock()
		if err := tx.UpdateDocument(ctx, d); err != nil {
			return err
		}
		doc = d
		return s.recorder.Record(ctx, tx, allowed(principal, id, nil, ActionRestore, ""))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("restored document", "document_id", id, "principal_id", principal.ID)
	return doc, nil
}

func (s *service) TransferOwnership(ctx context.Context, req TransferOwnershipRequest) (*Document, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var doc *Document
	op := operation{principal: req.Principal, documentID: req.DocumentID, action: ActionTransfer}
	err := s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		d, _, err := s.require(ctx, tx, req.Principal, req.DocumentID, CapabilityManagePermissions)
		if err != nil {
			return err
		}
		if d.OwnerID == req.NewOwnerID {
			return fmt.Errorf("%w: %s already owns the document", ErrConflict, req.NewOwnerID)
		}
		detail := fmt.Sprintf("%s -> %s", d.OwnerID, req.NewOwnerID)
		d.OwnerID = req.NewOwnerID
		d.UpdatedAt = s.clock()
		if err := tx.UpdateDocument(ctx, d); err != nil {
			return err
		}
		doc = d
		return s.recorder.Record(ctx, tx, allowed(req.Principal, req.DocumentID, nil, ActionTransfer, detail))
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}
