package simpledoc

import (
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/google/uuid"
)

// resolveBlob stores new content, or describes an existing handle.
func (s *service) resolveBlob(ctx context.Context, content io.Reader, handle string) (*BlobInfo, error) {
	switch {
	case content != nil && handle != "":
		return nil, invalid("content and blob handle are mutually exclusive")
	case content != nil:
		if s.blobStore == nil {
			return nil, invalid("no blob store configured for uploads")
		}
		info, err := s.blobStore.Put(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("failed to store content: %w", err)
		}
		return info, nil
	case handle != "":
		if s.blobStore == nil {
			return &BlobInfo{Handle: handle}, nil
		}
		info, err := s.blobStore.Stat(ctx, handle)
		if err != nil {
			return nil, fmt.Errorf("failed to stat blob %s: %w", handle, err)
		}
		return info, nil
	default:
		return nil, invalid("content or blob handle is required")
	}
}

// withBlob copies the blob's size and checksum into the metadata when the
// blob store reported them.
func withBlob(m Metadata, blob *BlobInfo) Metadata {
	if blob.Checksum != "" {
		m.Size = blob.Size
		m.Checksum = blob.Checksum
	}
	return m
}

// writable rejects changes to a soft-deleted document unless the caller can
// restore it, in which case the document is restored in place. It reports
// whether a restore happened.
func writable(doc *Document, caps CapabilitySet) (bool, error) {
	if !doc.Deleted {
		return false, nil
	}
	if !caps.Has(CapabilityManagePermissions) {
		return false, fmt.Errorf("%w: document is deleted", ErrInvalidState)
	}
	doc.Deleted = false
	doc.DeletedAt = nil
	return true, nil
}

// visible hides soft-deleted documents from everyone but the owner and
// holders of manage_permissions.
func visible(principal Principal, doc *Document, caps CapabilitySet) error {
	if doc.Deleted && !canSeeDeleted(principal, doc, caps) {
		return fmt.Errorf("%w: document is deleted", ErrNotFound)
	}
	return nil
}

// appendVersion assigns the next sequence, writes the version, moves the
// document's current pointer and records the activity, all through tx.
func (s *service) appendVersion(ctx context.Context, tx Tx, doc *Document, author Principal, blobHandle string, meta Metadata, comment string, revertedFrom *int64, action ActivityAction) (*Version, error) {
	maxSeq, err := tx.MaxSequence(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	v := &Version{
		ID:            uuid.New(),
		DocumentID:    doc.ID,
		Sequence:      maxSeq + 1,
		BlobHandle:    blobHandle,
		AuthorID:      author.ID,
		Comment:       comment,
		Metadata:      meta,
		RevertedFrom:  revertedFrom,
		CreatedAt:     now,
		SchemaVersion: SchemaVersion,
	}
	if err := tx.AppendVersion(ctx, v); err != nil {
		return nil, err
	}

	doc.CurrentVersionID = v.ID
	doc.CurrentSequence = v.Sequence
	doc.CurrentVersionAt = now
	doc.CurrentComment = comment
	doc.Metadata = meta.Clone()
	doc.UpdatedAt = now
	if err := tx.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}

	versionID := v.ID
	entry := allowed(author, doc.ID, &versionID, action, fmt.Sprintf("sequence %d", v.Sequence))
	if err := s.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *service) recordRestore(ctx context.Context, tx Tx, principal Principal, doc *Document) error {
	return s.recorder.Record(ctx, tx, allowed(principal, doc.ID, nil, ActionRestore, "restored by new version"))
}

func (s *service) CreateVersion(ctx context.Context, req CreateVersionRequest) (*Version, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	op := operation{principal: req.Principal, documentID: req.DocumentID, action: ActionVersion, retryConflict: true}
	if err := s.precheck(ctx, op, CapabilityWrite); err != nil {
		return nil, err
	}
	blob, err := s.resolveBlob(ctx, req.Content, req.BlobHandle)
	if err != nil {
		return nil, &DocumentError{DocumentID: req.DocumentID, Op: string(ActionVersion), Err: err}
	}

	var version *Version
	err = s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		doc, caps, err := s.require(ctx, tx, req.Principal, req.DocumentID, CapabilityWrite)
		if err != nil {
			return err
		}
		restored, err := writable(doc, caps)
		if err != nil {
			return err
		}

		meta := doc.Metadata
		if req.Metadata != nil {
			meta = req.Metadata.apply(meta)
		}
		meta = withBlob(meta.Clone(), blob)

		version, err = s.appendVersion(ctx, tx, doc, req.Principal, blob.Handle, meta, req.Comment, nil, ActionVersion)
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

	s.metrics.versionCreated(ActionVersion)
	s.logger.Info("created version",
		"document_id", req.DocumentID, "principal_id", req.Principal.ID, "sequence", version.Sequence)
	return version, nil
}

func (s *service) Revert(ctx context.Context, req RevertRequest) (*Version, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var version *Version
	op := operation{principal: req.Principal, documentID: req.DocumentID, action: ActionRevert, retryConflict: true}
	err := s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		doc, caps, err := s.require(ctx, tx, req.Principal, req.DocumentID, CapabilityWrite)
		if err != nil {
			return err
		}
		restored, err := writable(doc, caps)
		if err != nil {
			return err
		}

		target, err := tx.GetVersion(ctx, req.DocumentID, req.TargetSequence)
		if err != nil {
			return err
		}

		comment := req.Comment
		if comment == "" {
			comment = fmt.Sprintf("Reverted to version %d", target.Sequence)
		}
		from := target.Sequence
		version, err = s.appendVersion(ctx, tx, doc, req.Principal, target.BlobHandle, target.Metadata.Clone(), comment, &from, ActionRevert)
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

	s.metrics.versionCreated(ActionRevert)
	s.logger.Info("reverted document",
		"document_id", req.DocumentID, "principal_id", req.Principal.ID,
		"target_sequence", req.TargetSequence, "sequence", version.Sequence)
	return version, nil
}

// ListVersions checks read access once, then pages through the history in
// sequence order. Every range over the returned sequence starts again from
// version 1.
func (s *service) ListVersions(ctx context.Context, principal Principal, documentID uuid.UUID) iter.Seq2[*Version, error] {
	return func(yield func(*Version, error) bool) {
		if err := validateRequest(principal); err != nil {
			yield(nil, err)
			return
		}

		op := operation{principal: principal, documentID: documentID, action: ActionList}
		err := s.inspect(ctx, op, func(ctx context.Context, tx ReadTx) error {
			doc, caps, err := s.require(ctx, tx, principal, documentID, CapabilityRead)
			if err != nil {
				return err
			}
			return visible(principal, doc, caps)
		})
		if err != nil {
			yield(nil, err)
			return
		}

		var after int64
		for {
			var page []*Version
			err := s.view(ctx, func(ctx context.Context, tx ReadTx) error {
				var err error
				page, err = tx.ListVersions(ctx, documentID, after, s.versionPageSize)
				return err
			})
			if err != nil {
				yield(nil, &DocumentError{DocumentID: documentID, Op: "list versions", Err: err})
				return
			}
			for _, v := range page {
				if !yield(v, nil) {
					return
				}
				after = v.Sequence
			}
			if len(page) < s.versionPageSize {
				return
			}
		}
	}
}

func (s *service) GetVersion(ctx context.Context, principal Principal, documentID uuid.UUID, sequence int64) (*Version, error) {
	if err := validateRequest(principal); err != nil {
		return nil, err
	}
	var version *Version
	op := operation{principal: principal, documentID: documentID, action: ActionView}
	err := s.inspect(ctx, op, func(ctx context.Context, tx ReadTx) error {
		doc, caps, err := s.require(ctx, tx, principal, documentID, CapabilityRead)
		if err != nil {
			return err
		}
		if err := visible(principal, doc, caps); err != nil {
			return err
		}
		version, err = tx.GetVersion(ctx, documentID, sequence)
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// OpenVersion records the download and then opens the version's content.
// A zero sequence opens the current version.
func (s *service) OpenVersion(ctx context.Context, principal Principal, documentID uuid.UUID, sequence int64) (io.ReadCloser, *Version, error) {
	if err := validateRequest(principal); err != nil {
		return nil, nil, err
	}
	if s.blobStore == nil {
		return nil, nil, &DocumentError{DocumentID: documentID, Op: string(ActionDownload), Err: fmt.Errorf("no blob store configured")}
	}

	var version *Version
	op := operation{principal: principal, documentID: documentID, action: ActionDownload}
	err := s.inspect(ctx, op, func(ctx context.Context, tx ReadTx) error {
		doc, caps, err := s.require(ctx, tx, principal, documentID, CapabilityDownload)
		if err != nil {
			return err
		}
		if err := visible(principal, doc, caps); err != nil {
			return err
		}
		if sequence == 0 {
			sequence = doc.CurrentSequence
		}
		version, err = tx.GetVersion(ctx, documentID, sequence)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	versionID := version.ID
	detail := fmt.Sprintf("sequence %d", version.Sequence)
	if err := s.recordAccess(ctx, op, allowed(principal, documentID, &versionID, ActionDownload, detail)); err != nil {
		return nil, nil, err
	}

	rc, err := s.blobStore.Get(ctx, version.BlobHandle)
	if err != nil {
		return nil, nil, &DocumentError{DocumentID: documentID, Op: string(ActionDownload), Err: err}
	}
	return rc, version, nil
}
