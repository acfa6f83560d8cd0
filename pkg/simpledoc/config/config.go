package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-document/pkg/simpledoc"
	"github.com/tendant/simple-document/pkg/simpledoc/auth"
	"github.com/tendant/simple-document/pkg/simpledoc/repo/memory"
	repopg "github.com/tendant/simple-document/pkg/simpledoc/repo/postgres"
	fsstorage "github.com/tendant/simple-document/pkg/simpledoc/storage/fs"
	memorystorage "github.com/tendant/simple-document/pkg/simpledoc/storage/memory"
	s3storage "github.com/tendant/simple-document/pkg/simpledoc/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:            "8080",
		Environment:     "development",
		DatabaseType:    "memory",
		DBSchema:        "document",
		Storage:         StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}},
		StoreTimeout:    5 * time.Second,
		SearchBatchSize: 200,
		TokenTTL:        time.Hour,
		EnableMetrics:   true,
	}
}

// ServerConfig represents configuration for the simple-document service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: document)

	// Blob storage
	Storage StorageBackendConfig

	// Engine tuning
	StoreTimeout    time.Duration
	SearchBatchSize int

	// Roles that receive every capability on every document at startup
	AdminRoles []string

	// Authentication
	JWTSecret string
	TokenTTL  time.Duration

	EnableMetrics bool
}

// StorageBackendConfig represents configuration for the blob store
type StorageBackendConfig struct {
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.Storage.Type {
	case "memory", "fs", "s3":
	default:
		return fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}

	if c.StoreTimeout <= 0 {
		return errors.New("store_timeout must be positive")
	}
	if c.SearchBatchSize <= 0 {
		return errors.New("search_batch_size must be positive")
	}

	if c.Environment == "production" && c.JWTSecret == "" {
		return errors.New("jwt_secret is required in production")
	}

	return nil
}

// BuildService creates a Service from the configuration and grants every
// configured admin role full capabilities on all documents. Extra options
// are applied after the configured ones.
func (c *ServerConfig) BuildService(ctx context.Context, extra ...simpledoc.Option) (simpledoc.Service, error) {
	repo, store, err := c.BuildStores(ctx)
	if err != nil {
		return nil, err
	}
	options := []simpledoc.Option{
		simpledoc.WithRepository(repo),
		simpledoc.WithBlobStore(store),
		simpledoc.WithStoreTimeout(c.StoreTimeout),
		simpledoc.WithSearchBatchSize(c.SearchBatchSize),
	}
	options = append(options, extra...)

	svc, err := simpledoc.New(options...)
	if err != nil {
		return nil, err
	}

	for _, role := range c.AdminRoles {
		if _, err := svc.BootstrapRole(ctx, role, simpledoc.FullCapabilities); err != nil {
			return nil, fmt.Errorf("failed to bootstrap admin role %s: %w", role, err)
		}
		slog.Info("admin role bootstrapped", "role", role)
	}

	return svc, nil
}

// BuildStores creates the configured repository and blob store.
func (c *ServerConfig) BuildStores(ctx context.Context) (simpledoc.Repository, simpledoc.BlobStore, error) {
	repo, err := c.buildRepository(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build repository: %w", err)
	}
	store, err := c.buildStorageBackend()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}
	return repo, store, nil
}

// BuildAuthenticator returns a token authenticator when a JWT secret is
// configured, or nil when authentication is left to the caller.
func (c *ServerConfig) BuildAuthenticator() (*auth.TokenAuthenticator, error) {
	if c.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewTokenAuthenticator(c.JWTSecret)
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (simpledoc.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pool, err := OpenPostgres(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// OpenPostgres creates a pgx pool whose sessions use schema as search_path.
func OpenPostgres(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres. It fails if the schema
// (when provided) cannot be selected.
func PingPostgres(ctx context.Context, databaseURL, schema string) error {
	pool, err := OpenPostgres(ctx, databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates the BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend() (simpledoc.BlobStore, error) {
	config := c.Storage
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/blobs"),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			KeyPrefix:              getString(config.Config, "key_prefix", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
