package presets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

func TestNewDevelopment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dev-data")
	svc, cleanup, err := NewDevelopment(WithDevStorage(dir))
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	ctx := context.Background()
	owner := simpledoc.Principal{ID: "dev"}
	doc, _, err := svc.CreateDocument(ctx, simpledoc.CreateDocumentRequest{
		Principal: owner, Name: "test.txt", Content: strings.NewReader("Hello Development!"),
	})
	require.NoError(t, err)

	rc, _, err := svc.OpenVersion(ctx, owner, doc.ID, 0)
	require.NoError(t, err)
	rc.Close()

	_, err = os.Stat(dir)
	require.NoError(t, err)

	cleanup()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "storage directory should be removed after cleanup")
}

func TestNewTesting(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		svc := NewTesting(t)
		page, err := svc.Search(context.Background(), simpledoc.Principal{ID: FixtureOwner}, simpledoc.SearchQuery{})
		require.NoError(t, err)
		assert.Empty(t, page.Results)
	})

	t.Run("fixtures", func(t *testing.T) {
		svc := NewTesting(t, WithTestFixtures())
		ctx := context.Background()

		page, err := svc.Search(ctx, simpledoc.Principal{ID: FixtureOwner}, simpledoc.SearchQuery{})
		require.NoError(t, err)
		assert.Len(t, page.Results, len(fixtures))

		page, err = svc.Search(ctx, simpledoc.Principal{ID: FixtureOwner}, simpledoc.SearchQuery{Text: "report"})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.Equal(t, "Quarterly Report.pdf", page.Results[0].Name)

		// fixtures are private to their owner
		page, err = svc.Search(ctx, simpledoc.Principal{ID: "someone"}, simpledoc.SearchQuery{})
		require.NoError(t, err)
		assert.Empty(t, page.Results)
	})

	t.Run("isolated", func(t *testing.T) {
		NewTesting(t, WithTestFixtures())
		b := NewTesting(t)
		page, err := b.Search(context.Background(), simpledoc.Principal{ID: FixtureOwner}, simpledoc.SearchQuery{})
		require.NoError(t, err)
		assert.Empty(t, page.Results)
	})
}

func TestNewProductionRejectsMemory(t *testing.T) {
	t.Setenv("DATABASE_URL", "memory")
	t.Setenv("STORAGE_URL", "memory://")
	t.Setenv("ENVIRONMENT", "development")

	_, err := NewProduction(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}
