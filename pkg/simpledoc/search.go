package simpledoc

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/google/uuid"
)

const maxSearchLimit = 500

// Search evaluates the query in three stages against one read snapshot:
// structural filters in the store, token matching on the survivors, then
// read visibility. Visibility always runs last and only on documents that
// passed the other stages, so nothing about hidden documents reaches the
// page. Candidates are pulled in batches and cancellation is checked between
// batches; a cancelled search returns no results.
//
// Cursors encode the sort key of the last returned result. A cursor from a
// different query or principal fails with ErrStaleCursor. After store
// mutations a cursor stays usable; documents that became invisible are
// skipped and newly added documents appear only where they sort after the
// cursor.
func (s *service) Search(ctx context.Context, principal Principal, query SearchQuery) (*SearchPage, error) {
	start := time.Now()
	if err := validateRequest(principal); err != nil {
		return nil, err
	}
	if err := validateRequest(query); err != nil {
		return nil, err
	}

	limit := query.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}

	fingerprint := queryFingerprint(principal, query)
	var after *cursorKey
	if query.Cursor != "" {
		key, err := decodeCursor(query.Cursor, fingerprint)
		if err != nil {
			return nil, err
		}
		after = key
	}

	ranked, err := s.rank(ctx, principal, query)
	if err != nil {
		return nil, err
	}

	i := 0
	if after != nil {
		i = sort.Search(len(ranked), func(i int) bool {
			return rankLess(*after, summaryKey(ranked[i]))
		})
	}
	end := i + limit
	if end > len(ranked) {
		end = len(ranked)
	}

	page := &SearchPage{Results: ranked[i:end]}
	if end < len(ranked) && end > i {
		key := summaryKey(ranked[end-1])
		key.Fingerprint = fingerprint
		page.NextCursor = encodeCursor(key)
	}

	s.metrics.searched(start, len(page.Results))
	return page, nil
}

// rank returns every visible match in result order.
func (s *service) rank(ctx context.Context, principal Principal, query SearchQuery) ([]*DocumentSummary, error) {
	tokens := QueryTokens(query.Text)
	filter := structuralFilter(query)
	filter.Limit = s.searchBatchSize

	var results []*DocumentSummary
	err := s.view(ctx, func(ctx context.Context, tx ReadTx) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := tx.ListDocuments(ctx, filter)
			if err != nil {
				return err
			}

			for _, doc := range batch {
				score, ok := BuildIndexEntry(doc).Score(tokens)
				if !ok {
					continue
				}
				caps, err := resolveCapabilities(ctx, tx, principal, doc)
				if err != nil {
					return err
				}
				if !caps.Has(CapabilityRead) {
					continue
				}
				if doc.Deleted && !canSeeDeleted(principal, doc, caps) {
					continue
				}
				results = append(results, summarize(doc, score))
			}

			if len(batch) < filter.Limit {
				return nil
			}
			last := batch[len(batch)-1].ID
			filter.AfterID = &last
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return rankLess(summaryKey(results[i]), summaryKey(results[j]))
	})
	return results, nil
}

func structuralFilter(q SearchQuery) DocumentFilter {
	deleted := q.Status == DocumentStatusDeleted
	return DocumentFilter{
		CreatedFrom: q.CreatedFrom,
		CreatedTo:   q.CreatedTo,
		FileTypes:   NormalizeFileTypes(q.FileTypes),
		SizeMin:     q.SizeMin,
		SizeMax:     q.SizeMax,
		Deleted:     &deleted,
		Tags:        NormalizeTags(q.Tags),
	}
}

func summarize(doc *Document, score int) *DocumentSummary {
	return &DocumentSummary{
		ID:               doc.ID,
		OwnerID:          doc.OwnerID,
		Name:             doc.Metadata.Name,
		FileType:         doc.Metadata.FileType,
		Size:             doc.Metadata.Size,
		Tags:             append([]string(nil), doc.Metadata.Tags...),
		CurrentSequence:  doc.CurrentSequence,
		CurrentVersionAt: doc.CurrentVersionAt,
		Deleted:          doc.Deleted,
		Score:            score,
	}
}

// SearchAll walks every page of the query. Each range starts from the first page.
func (s *service) SearchAll(ctx context.Context, principal Principal, query SearchQuery) iter.Seq2[*DocumentSummary, error] {
	return func(yield func(*DocumentSummary, error) bool) {
		q := query
		q.Cursor = ""
		if q.Limit == 0 {
			q.Limit = maxSearchLimit
		}
		for {
			page, err := s.Search(ctx, principal, q)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, r := range page.Results {
				if !yield(r, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			q.Cursor = page.NextCursor
		}
	}
}

func (s *service) SaveSearch(ctx context.Context, req SaveSearchRequest) (*SavedSearch, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := validateRequest(req.Query); err != nil {
		return nil, err
	}

	query := req.Query
	query.Cursor = ""
	saved := &SavedSearch{
		ID:            uuid.New(),
		PrincipalID:   req.Principal.ID,
		Name:          req.Name,
		Query:         query,
		CreatedAt:     s.clock(),
		SchemaVersion: SchemaVersion,
	}
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveSearch(ctx, saved)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *service) ListSavedSearches(ctx context.Context, principal Principal) ([]*SavedSearch, error) {
	if err := validateRequest(principal); err != nil {
		return nil, err
	}
	var searches []*SavedSearch
	err := s.view(ctx, func(ctx context.Context, tx ReadTx) error {
		var err error
		searches, err = tx.ListSavedSearches(ctx, principal.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return searches, nil
}
