// Package presets builds ready-to-use services for common setups.
package presets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/tendant/simple-document/pkg/simpledoc"
	"github.com/tendant/simple-document/pkg/simpledoc/config"
	memoryrepo "github.com/tendant/simple-document/pkg/simpledoc/repo/memory"
	fsstorage "github.com/tendant/simple-document/pkg/simpledoc/storage/fs"
	memorystorage "github.com/tendant/simple-document/pkg/simpledoc/storage/memory"
)

// FixtureOwner owns the documents seeded by WithTestFixtures.
const FixtureOwner = "fixture-owner"

// NewDevelopment creates a service configured for local development.
//
// Features:
//   - In-memory repository (instant startup, no setup required)
//   - Filesystem blob storage at ./dev-data/
//   - Debug logging to stderr
//
// The returned cleanup function removes the storage directory.
//
// Example:
//
//	svc, cleanup, err := presets.NewDevelopment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func NewDevelopment(opts ...DevelopmentOption) (simpledoc.Service, func(), error) {
	cfg := &devConfig{
		storageDir: "./dev-data",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	fsBackend, err := fsstorage.New(fsstorage.Config{BaseDir: cfg.storageDir})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	options := []simpledoc.Option{
		simpledoc.WithRepository(memoryrepo.New()),
		simpledoc.WithBlobStore(fsBackend),
		simpledoc.WithLogger(logger),
	}
	svc, err := simpledoc.New(append(options, cfg.extra...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}

	cleanup := func() {
		os.RemoveAll(cfg.storageDir)
	}
	return svc, cleanup, nil
}

// NewTesting creates a service for unit and integration tests: in-memory
// repository and blobs, discarded logs. Each call is isolated, so tests may
// run in parallel.
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    svc := presets.NewTesting(t)
//	    // ...
//	}
func NewTesting(t testing.TB, opts ...TestingOption) simpledoc.Service {
	t.Helper()
	cfg := &testConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	options := []simpledoc.Option{
		simpledoc.WithRepository(memoryrepo.New()),
		simpledoc.WithBlobStore(memorystorage.New()),
		simpledoc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	svc, err := simpledoc.New(append(options, cfg.extra...)...)
	if err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}

	if cfg.fixtures {
		if err := seedFixtures(context.Background(), svc); err != nil {
			t.Fatalf("failed to seed fixtures: %v", err)
		}
	}
	return svc
}

// NewProduction creates a service from the environment (see config.Env).
// Memory repositories and memory blob storage are rejected.
func NewProduction(ctx context.Context, opts ...config.Option) (simpledoc.Service, error) {
	cfg, err := config.Load(append([]config.Option{config.WithEnv()}, opts...)...)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseType == "memory" {
		return nil, fmt.Errorf("production preset requires a postgres DATABASE_URL (memory not allowed in production)")
	}
	if cfg.Storage.Type == "memory" {
		return nil, fmt.Errorf("production preset requires persistent storage (s3 or fs, not memory)")
	}
	return cfg.BuildService(ctx)
}

var fixtures = []struct {
	name    string
	tags    []string
	content string
}{
	{"Quarterly Report.pdf", []string{"finance"}, "q3 numbers"},
	{"meeting notes.txt", []string{"notes"}, "agenda"},
	{"roadmap.md", []string{"planning", "product"}, "# Roadmap"},
}

func seedFixtures(ctx context.Context, svc simpledoc.Service) error {
	owner := simpledoc.Principal{ID: FixtureOwner}
	for _, f := range fixtures {
		_, _, err := svc.CreateDocument(ctx, simpledoc.CreateDocumentRequest{
			Principal: owner,
			Name:      f.name,
			Tags:      f.tags,
			Content:   strings.NewReader(f.content),
		})
		if err != nil {
			return fmt.Errorf("fixture %s: %w", f.name, err)
		}
	}
	return nil
}

type devConfig struct {
	storageDir string
	extra      []simpledoc.Option
}

type testConfig struct {
	fixtures bool
	extra    []simpledoc.Option
}

// DevelopmentOption is a functional option for NewDevelopment
type DevelopmentOption func(*devConfig)

// WithDevStorage sets the development storage directory
func WithDevStorage(dir string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.storageDir = dir
	}
}

// WithDevServiceOptions appends service options
func WithDevServiceOptions(opts ...simpledoc.Option) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.extra = append(cfg.extra, opts...)
	}
}

// TestingOption is a functional option for NewTesting
type TestingOption func(*testConfig)

// WithTestFixtures seeds a few documents owned by FixtureOwner
func WithTestFixtures() TestingOption {
	return func(cfg *testConfig) {
		cfg.fixtures = true
	}
}

// WithTestServiceOptions appends service options, e.g. a fixed clock
func WithTestServiceOptions(opts ...simpledoc.Option) TestingOption {
	return func(cfg *testConfig) {
		cfg.extra = append(cfg.extra, opts...)
	}
}
