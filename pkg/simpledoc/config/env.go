package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Env is the environment surface read by WithEnv.
//
//	PORT              - Server port (default: "8080")
//	ENVIRONMENT       - development, production, testing
//	DATABASE_URL      - "memory" (default) or "postgresql://..."
//	DB_SCHEMA         - Postgres search_path schema (default: "document")
//	STORAGE_URL       - "memory://" (default), "file:///path" or
//	                    "s3://bucket?region=..&endpoint=..&path_style=true&prefix=.."
//	STORE_TIMEOUT     - per-call store deadline, e.g. "5s"
//	SEARCH_BATCH_SIZE - documents scanned per search batch
//	ADMIN_ROLES       - comma separated roles granted every capability
//	JWT_SECRET        - HS256 signing secret for bearer tokens
//	TOKEN_TTL         - lifetime of issued tokens, e.g. "1h"
//	ENABLE_METRICS    - expose Prometheus metrics
type Env struct {
	Port            string        `env:"PORT" env-description:"HTTP listen port"`
	Environment     string        `env:"ENVIRONMENT" env-description:"development, production or testing"`
	DatabaseURL     string        `env:"DATABASE_URL" env-description:"memory or postgresql:// connection string"`
	DBSchema        string        `env:"DB_SCHEMA" env-description:"Postgres schema"`
	StorageURL      string        `env:"STORAGE_URL" env-description:"memory://, file:///path or s3://bucket"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" env-description:"per-call store deadline"`
	SearchBatchSize int           `env:"SEARCH_BATCH_SIZE" env-description:"documents scanned per search batch"`
	AdminRoles      []string      `env:"ADMIN_ROLES" env-separator:"," env-description:"roles granted every capability"`
	JWTSecret       string        `env:"JWT_SECRET" env-description:"HS256 token secret"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" env-description:"issued token lifetime"`
	EnableMetrics   string        `env:"ENABLE_METRICS" env-description:"expose Prometheus metrics"`
}

// Usage describes the environment variables WithEnv reads.
func Usage() string {
	var env Env
	text, err := cleanenv.GetDescription(&env, nil)
	if err != nil {
		return err.Error()
	}
	return text
}

// WithEnv applies environment variable overrides. Unset variables leave the
// current value in place.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env Env
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return env.apply(c)
	}
}

func (e Env) apply(c *ServerConfig) error {
	if e.Port != "" {
		c.Port = e.Port
	}
	if e.Environment != "" {
		c.Environment = e.Environment
	}
	if e.DBSchema != "" {
		c.DBSchema = e.DBSchema
	}
	if err := applyDatabaseURL(e.DatabaseURL, c); err != nil {
		return err
	}
	if err := applyStorageURL(e.StorageURL, c); err != nil {
		return err
	}
	if e.StoreTimeout != 0 {
		c.StoreTimeout = e.StoreTimeout
	}
	if e.SearchBatchSize != 0 {
		c.SearchBatchSize = e.SearchBatchSize
	}
	if roles := splitRoles(e.AdminRoles); len(roles) > 0 {
		c.AdminRoles = roles
	}
	if e.JWTSecret != "" {
		c.JWTSecret = e.JWTSecret
	}
	if e.TokenTTL != 0 {
		c.TokenTTL = e.TokenTTL
	}
	if e.EnableMetrics != "" {
		enabled, err := strconv.ParseBool(e.EnableMetrics)
		if err != nil {
			return fmt.Errorf("invalid boolean for ENABLE_METRICS: %w", err)
		}
		c.EnableMetrics = enabled
	}
	return nil
}

func splitRoles(raw []string) []string {
	var roles []string
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// applyDatabaseURL auto-detects the database type from the URL
func applyDatabaseURL(dbURL string, c *ServerConfig) error {
	switch {
	case dbURL == "":
		return nil
	case dbURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
	}
	return nil
}

// applyStorageURL parses STORAGE_URL into the blob store configuration
func applyStorageURL(storageURL string, c *ServerConfig) error {
	switch {
	case storageURL == "":
		return nil
	case storageURL == "memory" || storageURL == "memory://":
		c.Storage = StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}}
		return nil
	case strings.HasPrefix(storageURL, "file://"):
		path := strings.TrimPrefix(storageURL, "file://")
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		c.Storage = StorageBackendConfig{Type: "fs", Config: map[string]interface{}{"base_dir": path}}
		return nil
	case strings.HasPrefix(storageURL, "s3://"):
		return applyS3Storage(storageURL, c)
	}
	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", storageURL)
}

// applyS3Storage configures S3 storage from URL
// Format: s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true
func applyS3Storage(raw string, c *ServerConfig) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}

	backend := StorageBackendConfig{
		Type: "s3",
		Config: map[string]interface{}{
			"bucket": u.Host,
			"region": "us-east-1",
		},
	}
	q := u.Query()
	for param, key := range map[string]string{
		"region":     "region",
		"endpoint":   "endpoint",
		"prefix":     "key_prefix",
		"path_style": "use_path_style",
		"create":     "create_bucket_if_not_exist",
		"sse":        "sse_algorithm",
	} {
		if v := q.Get(param); v != "" {
			backend.Config[key] = v
		}
	}
	if _, ok := backend.Config["sse_algorithm"]; ok {
		backend.Config["enable_sse"] = true
	}

	// Check for AWS credentials in environment
	if accessKey, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok && accessKey != "" {
		backend.Config["access_key_id"] = accessKey
	}
	if secretKey, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok && secretKey != "" {
		backend.Config["secret_access_key"] = secretKey
	}
	if region, ok := os.LookupEnv("AWS_REGION"); ok && region != "" && q.Get("region") == "" {
		backend.Config["region"] = region
	}

	c.Storage = backend
	return nil
}
