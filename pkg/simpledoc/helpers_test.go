package simpledoc_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-document/pkg/simpledoc"
	"github.com/tendant/simple-document/pkg/simpledoc/repo/memory"
	memorystorage "github.com/tendant/simple-document/pkg/simpledoc/storage/memory"
)

var (
	alice = simpledoc.Principal{ID: "alice"}
	bob   = simpledoc.Principal{ID: "bob"}
	carol = simpledoc.Principal{ID: "carol"}
)

// testClock advances one second on every read so ordering by time is
// deterministic.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestService(t *testing.T, opts ...simpledoc.Option) simpledoc.Service {
	t.Helper()
	return setupServiceWithRepo(t, memory.New(), opts...)
}

func setupServiceWithRepo(t *testing.T, repo simpledoc.Repository, opts ...simpledoc.Option) simpledoc.Service {
	t.Helper()
	options := []simpledoc.Option{
		simpledoc.WithRepository(repo),
		simpledoc.WithBlobStore(memorystorage.New()),
		simpledoc.WithClock(newTestClock().Now),
		simpledoc.WithLogger(quietLogger()),
	}
	svc, err := simpledoc.New(append(options, opts...)...)
	require.NoError(t, err)
	return svc
}

func createDoc(t *testing.T, svc simpledoc.Service, owner simpledoc.Principal, name, content string, tags ...string) *simpledoc.Document {
	t.Helper()
	doc, _, err := svc.CreateDocument(context.Background(), simpledoc.CreateDocumentRequest{
		Principal: owner,
		Name:      name,
		Tags:      tags,
		Content:   strings.NewReader(content),
	})
	require.NoError(t, err)
	return doc
}

func grant(t *testing.T, svc simpledoc.Service, actor simpledoc.Principal, docID uuid.UUID, to string, caps ...simpledoc.Capability) {
	t.Helper()
	_, err := svc.Grant(context.Background(), simpledoc.GrantRequest{
		Actor:        actor,
		DocumentID:   docID,
		Grantee:      simpledoc.Grantee{Kind: simpledoc.GranteePrincipal, ID: to},
		Capabilities: simpledoc.NewCapabilitySet(caps...),
	})
	require.NoError(t, err)
}

func collectVersions(t *testing.T, svc simpledoc.Service, p simpledoc.Principal, docID uuid.UUID) []*simpledoc.Version {
	t.Helper()
	var out []*simpledoc.Version
	for v, err := range svc.ListVersions(context.Background(), p, docID) {
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

// faultyRepo wraps a repository and injects failures into write
// transactions once armed.
type faultyRepo struct {
	simpledoc.Repository

	conflicts      atomic.Int32 // remaining AppendVersion conflicts to inject
	appendAttempts atomic.Int32
	updates        atomic.Int32
	failActivity   atomic.Bool
	blockViews     atomic.Bool
}

func (r *faultyRepo) View(ctx context.Context, fn func(tx simpledoc.ReadTx) error) error {
	if r.blockViews.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.Repository.View(ctx, fn)
}

func (r *faultyRepo) Update(ctx context.Context, fn func(tx simpledoc.Tx) error) error {
	r.updates.Add(1)
	return r.Repository.Update(ctx, func(tx simpledoc.Tx) error {
		return fn(&faultyTx{Tx: tx, repo: r})
	})
}

type faultyTx struct {
	simpledoc.Tx
	repo *faultyRepo
}

func (t *faultyTx) AppendVersion(ctx context.Context, v *simpledoc.Version) error {
	t.repo.appendAttempts.Add(1)
	if t.repo.conflicts.Load() > 0 {
		t.repo.conflicts.Add(-1)
		return fmt.Errorf("version %d: %w", v.Sequence, simpledoc.ErrConflict)
	}
	return t.Tx.AppendVersion(ctx, v)
}

func (t *faultyTx) AppendActivity(ctx context.Context, e *simpledoc.ActivityEntry) error {
	if t.repo.failActivity.Load() {
		return fmt.Errorf("activity table unavailable")
	}
	return t.Tx.AppendActivity(ctx, e)
}

// countingBlobStore counts calls into the wrapped store.
type countingBlobStore struct {
	simpledoc.BlobStore
	puts  atomic.Int32
	stats atomic.Int32
}

func (c *countingBlobStore) Put(ctx context.Context, r io.Reader) (*simpledoc.BlobInfo, error) {
	c.puts.Add(1)
	return c.BlobStore.Put(ctx, r)
}

func (c *countingBlobStore) Stat(ctx context.Context, handle string) (*simpledoc.BlobInfo, error) {
	c.stats.Add(1)
	return c.BlobStore.Stat(ctx, handle)
}

// countActivity returns how many of the document's entries have action and result.
func countActivity(t *testing.T, svc simpledoc.Service, owner simpledoc.Principal, docID uuid.UUID, action simpledoc.ActivityAction, result simpledoc.ActivityResult) int {
	t.Helper()
	entries, err := svc.ListActivity(context.Background(), simpledoc.ActivityQuery{Principal: owner, DocumentID: docID})
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Action == action && e.Result == result {
			n++
		}
	}
	return n
}

func ptr[T any](v T) *T {
	return &v
}
