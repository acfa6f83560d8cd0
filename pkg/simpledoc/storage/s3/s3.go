package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-document/pkg/simpledoc"
	"github.com/tendant/simple-document/pkg/simpledoc/storage"
)

const backendName = "s3"

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	KeyPrefix       string // Optional prefix for blob keys
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the simpledoc.BlobStore interface
type Backend struct {
	client *s3.Client
	bucket string
	config Config
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	backend := &Backend{
		client: s3.NewFromConfig(awsCfg, s3Options...),
		bucket: config.Bucket,
		config: config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}
	if b.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err = b.client.CreateBucket(ctx, input)
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if err != nil && !errors.As(err, &owned) && !errors.As(err, &exists) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// isNotFound recognizes the missing-object and missing-bucket errors S3 and
// MinIO return, including the bare "NotFound" code HEAD requests produce.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

func (b *Backend) key(handle string) string {
	return path.Join(b.config.KeyPrefix, handle[:2], handle)
}

// Put spools the content to a temporary file to learn its handle, then
// uploads it unless an object with that handle already exists.
func (b *Backend) Put(ctx context.Context, reader io.Reader) (*simpledoc.BlobInfo, error) {
	tmp, err := os.CreateTemp("", "simpledoc-blob-*")
	if err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Op: "put", Err: err}
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	digest := storage.NewDigest(reader)
	if _, err := io.Copy(tmp, digest); err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Op: "put", Err: err}
	}
	handle := digest.Handle()
	info := &simpledoc.BlobInfo{Handle: handle, Size: digest.Size(), Checksum: handle}

	if _, err := b.Stat(ctx, handle); err == nil {
		return info, nil
	} else if !errors.Is(err, simpledoc.ErrBlobNotFound) {
		return nil, err
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "put", Err: err}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(handle)),
		Body:   tmp,
	}
	if b.config.EnableSSE {
		switch b.config.SSEAlgorithm {
		case "AES256":
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		case "aws:kms":
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			if b.config.SSEKMSKeyID != "" {
				input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
			}
		}
	}

	uploader := manager.NewUploader(b.client)
	if _, err := uploader.Upload(ctx, input); err != nil {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "put", Err: err}
	}
	return info, nil
}

// Get opens the content stored under handle
func (b *Backend) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	if !storage.ValidHandle(handle) {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "get", Err: simpledoc.ErrBlobNotFound}
	}
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(handle)),
	})
	if err != nil {
		if isNotFound(err) {
			err = simpledoc.ErrBlobNotFound
		}
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "get", Err: err}
	}
	return result.Body, nil
}

// Stat describes the content stored under handle
func (b *Backend) Stat(ctx context.Context, handle string) (*simpledoc.BlobInfo, error) {
	if !storage.ValidHandle(handle) {
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "stat", Err: simpledoc.ErrBlobNotFound}
	}
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(handle)),
	})
	if err != nil {
		if isNotFound(err) {
			err = simpledoc.ErrBlobNotFound
		}
		return nil, &simpledoc.StorageError{Backend: backendName, Handle: handle, Op: "stat", Err: err}
	}
	return &simpledoc.BlobInfo{Handle: handle, Size: aws.ToInt64(result.ContentLength), Checksum: handle}, nil
}
