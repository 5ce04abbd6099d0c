// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/netSkope/splist-mirror/internal/config"
	"github.com/netSkope/splist-mirror/internal/util"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// Max retries for S3 operations
	maxS3Retries = 5
	// Initial retry delay
	initialRetryDelay = 1 * time.Second
	// Part size used by the manager for large documents
	partSize = 10 * 1024 * 1024
)

// API is the subset of the S3 client used by the Uploader.
type API interface {
	manager.UploadAPIClient
	s3.HeadObjectAPIClient
}

// Uploader archives files from the local mirror to S3. Keys mirror the
// path below the local root.
type Uploader struct {
	uploader   *manager.Uploader
	client     API
	fs         afero.Fs
	bucket     string
	prefix     string
	root       string
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewUploader creates a new S3 uploader using the default credential chain.
func NewUploader(ctx context.Context, cfg *config.Config, fs afero.Fs, logger *zap.Logger) (*Uploader, error) {
	awsCfg, err := util.LoadAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Support custom endpoint via environment variable (for LocalStack)
	endpoint := os.Getenv("AWS_ENDPOINT_URL")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for LocalStack
		}
	})
	if endpoint != "" {
		logger.Info("Using custom S3 endpoint", zap.String("endpoint", endpoint))
	}

	return NewUploaderWithClient(client, cfg.S3Bucket, cfg.S3Prefix, cfg.LocalRoot, fs, logger), nil
}

// NewUploaderWithClient creates an uploader on top of an existing client.
func NewUploaderWithClient(client API, bucket, prefix, root string, fs afero.Fs, logger *zap.Logger) *Uploader {
	return &Uploader{
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = 3
		}),
		client:     client,
		fs:         fs,
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		root:       filepath.Clean(root),
		retryDelay: initialRetryDelay,
		logger:     logger,
	}
}

// KeyFor returns the object key for a file below the local root.
func (u *Uploader) KeyFor(localPath string) (string, error) {
	rel, err := filepath.Rel(u.root, localPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s below %s: %w", localPath, u.root, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside of %s", localPath, u.root)
	}
	if u.prefix == "" {
		return rel, nil
	}
	return path.Join(u.prefix, rel), nil
}

// Archive uploads localPath under its mirror key.
func (u *Uploader) Archive(ctx context.Context, localPath string) error {
	key, err := u.KeyFor(localPath)
	if err != nil {
		return err
	}
	return u.UploadFileWithRetry(ctx, localPath, key)
}

// EnsureArchived uploads localPath unless its key is already present in the
// bucket. It reports whether an upload took place.
func (u *Uploader) EnsureArchived(ctx context.Context, localPath string) (bool, error) {
	key, err := u.KeyFor(localPath)
	if err != nil {
		return false, err
	}
	exists, err := u.ObjectExists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	u.logger.Info("Archiving file missing from S3", zap.String("s3_key", key))
	if err := u.UploadFileWithRetry(ctx, localPath, key); err != nil {
		return false, err
	}
	return true, nil
}

// ObjectExists reports whether key is present in the bucket.
func (u *Uploader) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check s3 object %s: %w", key, err)
}

// UploadFile uploads a file to S3 with automatic multipart for large files.
func (u *Uploader) UploadFile(ctx context.Context, localPath, s3Key string) error {
	file, err := u.fs.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	u.logger.Debug("Uploading file to S3",
		zap.String("file", localPath),
		zap.String("s3_key", s3Key),
		zap.Int64("size", fileInfo.Size()))

	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(s3Key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	u.logger.Info("File uploaded successfully",
		zap.String("s3_key", s3Key),
		zap.Int64("size", fileInfo.Size()))

	return nil
}

// UploadFileWithRetry uploads a file with retry logic.
func (u *Uploader) UploadFileWithRetry(ctx context.Context, localPath, s3Key string) error {
	var lastErr error
	delay := u.retryDelay

	for attempt := 1; attempt <= maxS3Retries; attempt++ {
		err := u.UploadFile(ctx, localPath, s3Key)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < maxS3Retries {
			u.logger.Warn("Upload failed, retrying",
				zap.String("file", localPath),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", maxS3Retries),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = delay * 2 // Exponential backoff
		}
	}

	return fmt.Errorf("upload failed after %d attempts: %w", maxS3Retries, lastErr)
}
