/*
Package storage issues presigned URLs for attachment uploads and downloads against an
S3-compatible bucket, and confirms that uploaded objects exist.
*/
package storage

import (
	"context"
	"errors"
	"time"

	"relaychat/internal/configs"
)

// ErrStorageFailed is returned when the storage backend rejects or fails a request.
var ErrStorageFailed = errors.New("object storage request failed")

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Region defaults to "auto", which S3-compatible providers accept.
	Region string
}

// ConfigFrom extracts the storage settings from the application configuration.
func ConfigFrom(cfg *configs.AppConfig) ServiceConfig {
	return ServiceConfig{
		S3BucketName:      cfg.S3BucketName,
		S3Endpoint:        cfg.S3Endpoint,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
	}
}

// StorageService defines the public interface for the file storage service.
type StorageService interface {
	// PresignUpload generates a pre-signed URL for uploading a file.
	PresignUpload(
		ctx context.Context,
		key string,
		mimeType string,
		fileSize int64,
		duration time.Duration,
	) (string, error)

	// PresignDownload generates a pre-signed URL for downloading a file.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)

	// ObjectExists reports whether an object with the given key has been uploaded.
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// NewStorageService is the factory function for StorageService.
// It initializes and returns a concrete implementation based on the provided configuration.
func NewStorageService(ctx context.Context, cfg ServiceConfig) (StorageService, error) {
	// Currently, only S3 compatible implementations are supported.
	return newS3Client(ctx, cfg)
}
