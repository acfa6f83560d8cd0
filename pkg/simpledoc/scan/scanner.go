// Package scan walks every document version in a repository, bypassing
// access control. It is meant for operators: integrity checks, exports and
// backfills.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

// Scanner queries documents and processes their versions with the provided processor.
type Scanner struct {
	repo   simpledoc.Repository
	logger *slog.Logger
}

// New creates a new Scanner instance.
func New(repo simpledoc.Repository, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{repo: repo, logger: logger}
}

// ScanOptions configures the scan operation.
type ScanOptions struct {
	// Filter selects documents; AfterID and Limit are managed by the scanner
	Filter simpledoc.DocumentFilter

	// Processor defines the processing logic (required unless DryRun is true)
	Processor VersionProcessor

	// CurrentOnly restricts the scan to each document's current version
	CurrentOnly bool

	// BatchSize controls how many documents and versions are read at once (default: 100)
	BatchSize int

	// DryRun if true, doesn't process versions, just counts them
	DryRun bool

	// OnProgress is called after each document batch (optional)
	OnProgress func(processed, failed int64)
}

// Failure names a version that failed processing.
type Failure struct {
	DocumentID uuid.UUID `json:"document_id"`
	Sequence   int64     `json:"sequence"`
	Error      string    `json:"error"`
}

// ScanResult contains statistics about the scan operation.
type ScanResult struct {
	DocumentsFound int64     `json:"documents_found"`
	TotalFound     int64     `json:"total_found"`
	TotalProcessed int64     `json:"total_processed"`
	TotalFailed    int64     `json:"total_failed"`
	Failures       []Failure `json:"failures,omitempty"`
}

// Scan pages through documents matching the filter and processes each of
// their versions in sequence order. A failing version is recorded and the
// scan continues; only store errors and cancellation abort it.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	result := &ScanResult{}

	if !opts.DryRun && opts.Processor == nil {
		return result, errors.New("processor is required when DryRun is false")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	filter := opts.Filter
	filter.Limit = opts.BatchSize
	filter.AfterID = nil
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var docs []*simpledoc.Document
		err := s.repo.View(ctx, func(tx simpledoc.ReadTx) error {
			var err error
			docs, err = tx.ListDocuments(ctx, filter)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("failed to list documents: %w", err)
		}
		if len(docs) == 0 {
			break
		}
		result.DocumentsFound += int64(len(docs))

		for _, doc := range docs {
			if err := s.scanDocument(ctx, doc, opts, result); err != nil {
				return result, err
			}
		}

		if opts.OnProgress != nil {
			opts.OnProgress(result.TotalProcessed, result.TotalFailed)
		}
		if len(docs) < opts.BatchSize {
			break
		}
		last := docs[len(docs)-1].ID
		filter.AfterID = &last
	}

	s.logger.Info("scan finished",
		"documents", result.DocumentsFound,
		"versions", result.TotalFound,
		"processed", result.TotalProcessed,
		"failed", result.TotalFailed)
	return result, nil
}

func (s *Scanner) scanDocument(ctx context.Context, doc *simpledoc.Document, opts ScanOptions, result *ScanResult) error {
	after := int64(0)
	if opts.CurrentOnly {
		after = doc.CurrentSequence - 1
	}
	for {
		var versions []*simpledoc.Version
		err := s.repo.View(ctx, func(tx simpledoc.ReadTx) error {
			var err error
			versions, err = tx.ListVersions(ctx, doc.ID, after, opts.BatchSize)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to list versions of %s: %w", doc.ID, err)
		}

		for _, v := range versions {
			if opts.CurrentOnly && v.Sequence != doc.CurrentSequence {
				continue
			}
			result.TotalFound++
			if opts.DryRun {
				result.TotalProcessed++
				continue
			}
			if err := opts.Processor.Process(ctx, doc, v); err != nil {
				result.TotalFailed++
				result.Failures = append(result.Failures, Failure{DocumentID: doc.ID, Sequence: v.Sequence, Error: err.Error()})
				s.logger.Warn("version failed processing", "document_id", doc.ID, "sequence", v.Sequence, "err", err)
				continue
			}
			result.TotalProcessed++
		}

		if opts.CurrentOnly || len(versions) < opts.BatchSize {
			return nil
		}
		after = versions[len(versions)-1].Sequence
	}
}

// ForEach processes every version of every document matching filter with fn.
func (s *Scanner) ForEach(ctx context.Context, filter simpledoc.DocumentFilter, fn ProcessorFunc) (*ScanResult, error) {
	return s.Scan(ctx, ScanOptions{Filter: filter, Processor: fn})
}
