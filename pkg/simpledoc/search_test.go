package simpledoc_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

func resultIDs(results []*simpledoc.DocumentSummary) []uuid.UUID {
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestSearchVisibility(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	quarterly := createDoc(t, svc, alice, "Quarterly Report.pdf", "q", "finance")
	draft := createDoc(t, svc, alice, "report draft.txt", "d")
	createDoc(t, svc, alice, "notes.txt", "n")
	grant(t, svc, alice, draft.ID, "bob", simpledoc.CapabilityRead)

	page, err := svc.Search(ctx, alice, simpledoc.SearchQuery{Text: "report"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{quarterly.ID, draft.ID}, resultIDs(page.Results))
	assert.Empty(t, page.NextCursor)

	page, err = svc.Search(ctx, bob, simpledoc.SearchQuery{Text: "report"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{draft.ID}, resultIDs(page.Results))

	page, err = svc.Search(ctx, carol, simpledoc.SearchQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Results)

	// every token must match
	page, err = svc.Search(ctx, alice, simpledoc.SearchQuery{Text: "report finance"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{quarterly.ID}, resultIDs(page.Results))
}

func TestSearchRanking(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	substring := createDoc(t, svc, alice, "budgets.xlsx", "a")
	older := createDoc(t, svc, alice, "budget 2023.xlsx", "b")
	newer := createDoc(t, svc, alice, "budget 2024.xlsx", "c")
	tagged := createDoc(t, svc, alice, "plan.xlsx", "d", "budget")

	_, err := svc.CreateVersion(ctx, simpledoc.CreateVersionRequest{
		Principal: alice, DocumentID: substring.ID, BlobHandle: mustHandle(t, svc, substring.ID),
		Comment: "budget review",
	})
	require.NoError(t, err)

	page, err := svc.Search(ctx, alice, simpledoc.SearchQuery{Text: "Budget"})
	require.NoError(t, err)
	require.Len(t, page.Results, 4)

	// exact matches first, most recently versioned first among equals
	assert.Equal(t, []uuid.UUID{tagged.ID, newer.ID, older.ID, substring.ID}, resultIDs(page.Results))
	assert.Greater(t, page.Results[0].Score, page.Results[3].Score)
}

func mustHandle(t *testing.T, svc simpledoc.Service, docID uuid.UUID) string {
	t.Helper()
	v, err := svc.GetVersion(context.Background(), alice, docID, 1)
	require.NoError(t, err)
	return v.BlobHandle
}

func TestSearchFilters(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	pdf, _, err := svc.CreateDocument(ctx, simpledoc.CreateDocumentRequest{
		Principal: alice, Name: "contract", FileType: "PDF", Tags: []string{"Legal", "2024"},
		Content: strings.NewReader("twelve bytes"),
	})
	require.NoError(t, err)
	txt, _, err := svc.CreateDocument(ctx, simpledoc.CreateDocumentRequest{
		Principal: alice, Name: "memo", FileType: "txt", Tags: []string{"legal"},
		Content: strings.NewReader("tiny"),
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		query simpledoc.SearchQuery
		want  []uuid.UUID
	}{
		{"file type", simpledoc.SearchQuery{FileTypes: []string{".pdf"}}, []uuid.UUID{pdf.ID}},
		{"tags all required", simpledoc.SearchQuery{Tags: []string{"LEGAL", "2024"}}, []uuid.UUID{pdf.ID}},
		{"size range", simpledoc.SearchQuery{SizeMax: ptr(int64(5))}, []uuid.UUID{txt.ID}},
		{"created after", simpledoc.SearchQuery{CreatedFrom: ptr(txt.CreatedAt)}, []uuid.UUID{txt.ID}},
		{"created before", simpledoc.SearchQuery{CreatedTo: ptr(pdf.CreatedAt)}, []uuid.UUID{pdf.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.Search(ctx, alice, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resultIDs(page.Results))
		})
	}

	_, err = svc.Search(ctx, alice, simpledoc.SearchQuery{Status: "archived"})
	assert.ErrorIs(t, err, simpledoc.ErrInvalidRequest)
}

func TestSearchDeletedStatus(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	doc := createDoc(t, svc, alice, "gone.txt", "x")
	grant(t, svc, alice, doc.ID, "bob", simpledoc.CapabilityRead)
	require.NoError(t, svc.DeleteDocument(ctx, alice, doc.ID))

	page, err := svc.Search(ctx, alice, simpledoc.SearchQuery{Text: "gone"})
	require.NoError(t, err)
	assert.Empty(t, page.Results)

	page, err = svc.Search(ctx, alice, simpledoc.SearchQuery{Text: "gone", Status: simpledoc.DocumentStatusDeleted})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.True(t, page.Results[0].Deleted)

	page, err = svc.Search(ctx, bob, simpledoc.SearchQuery{Text: "gone", Status: simpledoc.DocumentStatusDeleted})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
}

func TestSearchCursor(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	for _, name := range []string{"alpha log", "beta log", "gamma log", "delta log", "epsilon log"} {
		createDoc(t, svc, alice, name, name)
	}

	full, err := svc.Search(ctx, alice, simpledoc.SearchQuery{Text: "log"})
	require.NoError(t, err)
	require.Len(t, full.Results, 5)

	var paged []uuid.UUID
	query := simpledoc.SearchQuery{Text: "log", Limit: 2}
	pages := 0
	for {
		page, err := svc.Search(ctx, alice, query)
		require.NoError(t, err)
		paged = append(paged, resultIDs(page.Results)...)
		pages++
		if page.NextCursor == "" {
			break
		}
		query.Cursor = page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, resultIDs(full.Results), paged)

	first, err := svc.Search(ctx, alice, simpledoc.SearchQuery{Text: "log", Limit: 2})
	require.NoError(t, err)
	require.NotEmpty(t, first.NextCursor)

	// different query, different principal, garbage
	_, err = svc.Search(ctx, alice, simpledoc.SearchQuery{Text: "beta", Limit: 2, Cursor: first.NextCursor})
	assert.ErrorIs(t, err, simpledoc.ErrStaleCursor)
	_, err = svc.Search(ctx, bob, simpledoc.SearchQuery{Text: "log", Limit: 2, Cursor: first.NextCursor})
	assert.ErrorIs(t, err, simpledoc.ErrStaleCursor)
	_, err = svc.Search(ctx, alice, simpledoc.SearchQuery{Text: "log", Limit: 2, Cursor: "%%%"})
	assert.ErrorIs(t, err, simpledoc.ErrStaleCursor)

	// a changed limit keeps the cursor valid
	rest, err := svc.Search(ctx, alice, simpledoc.SearchQuery{Text: "log", Limit: 10, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, resultIDs(full.Results)[2:], resultIDs(rest.Results))
}

func TestSearchAll(t *testing.T) {
	svc := setupTestService(t, simpledoc.WithSearchBatchSize(2))
	ctx := context.Background()
	for _, name := range []string{"a log", "b log", "c log"} {
		createDoc(t, svc, alice, name, name)
	}

	var ids []uuid.UUID
	for r, err := range svc.SearchAll(ctx, alice, simpledoc.SearchQuery{Text: "log", Limit: 1}) {
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	assert.Len(t, ids, 3)
}

func TestSavedSearches(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	saved, err := svc.SaveSearch(ctx, simpledoc.SaveSearchRequest{
		Principal: alice, Name: "finance", Query: simpledoc.SearchQuery{Text: "report", Cursor: "abc"},
	})
	require.NoError(t, err)
	assert.Empty(t, saved.Query.Cursor)

	_, err = svc.SaveSearch(ctx, simpledoc.SaveSearchRequest{
		Principal: alice, Name: "finance", Query: simpledoc.SearchQuery{Text: "other"},
	})
	assert.ErrorIs(t, err, simpledoc.ErrConflict)

	_, err = svc.SaveSearch(ctx, simpledoc.SaveSearchRequest{Principal: bob, Name: "finance"})
	require.NoError(t, err)

	list, err := svc.ListSavedSearches(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "report", list[0].Query.Text)
}
