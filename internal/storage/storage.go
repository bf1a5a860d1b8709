package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/hlsmill/hlsmill/internal/config"
	"github.com/hlsmill/hlsmill/internal/metrics"
)

// Storage provides object storage operations over the input bucket (source
// uploads) and the output bucket (packaged HLS trees).
type Storage struct {
	client       *minio.Client
	inputBucket  string
	outputBucket string
}

// New creates a storage client and ensures both buckets exist.
func New(cfg config.StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	ctx := context.Background()
	for _, bucket := range []string{cfg.InputBucket, cfg.OutputBucket} {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
		}
		if !exists {
			err = client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region})
			if err != nil {
				return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
	}

	return &Storage{
		client:       client,
		inputBucket:  cfg.InputBucket,
		outputBucket: cfg.OutputBucket,
	}, nil
}

// ResolveURI splits an object URI into bucket and key. Bare keys resolve
// against the input bucket.
func (s *Storage) ResolveURI(uri string) (bucket, key string, err error) {
	if uri == "" {
		return "", "", fmt.Errorf("empty object URI")
	}
	if !strings.HasPrefix(uri, "s3://") {
		return s.inputBucket, strings.TrimPrefix(uri, "/"), nil
	}

	trimmed := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed object URI %q", uri)
	}
	return parts[0], parts[1], nil
}

// DownloadFile downloads the object behind uri to the local filesystem.
func (s *Storage) DownloadFile(ctx context.Context, uri, localPath string) error {
	bucket, key, err := s.ResolveURI(uri)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := s.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		metrics.RecordStorageOperation("download", "error", time.Since(start).Seconds(), 0)
		return fmt.Errorf("failed to download %s: %w", uri, err)
	}

	var size int64
	if info, err := os.Stat(localPath); err == nil {
		size = info.Size()
	}
	metrics.RecordStorageOperation("download", "success", time.Since(start).Seconds(), size)

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("bytes", size).
		Msg("Object downloaded")

	return nil
}

// UploadDir uploads every file under localDir to the output bucket, keyed
// as keyPrefix plus the file's path relative to localDir. Returns how many
// files were uploaded.
func (s *Storage) UploadDir(ctx context.Context, localDir, keyPrefix string) (int, error) {
	start := time.Now()

	items, err := collectUploads(localDir, keyPrefix)
	if err != nil {
		metrics.RecordStorageOperation("upload_dir", "error", time.Since(start).Seconds(), 0)
		return 0, fmt.Errorf("failed to scan %s: %w", localDir, err)
	}

	var bytes int64
	for _, item := range items {
		bytes += item.size
	}

	count, err := s.uploadAll(ctx, items)
	if err != nil {
		metrics.RecordStorageOperation("upload_dir", "error", time.Since(start).Seconds(), bytes)
		return count, err
	}

	metrics.RecordStorageOperation("upload_dir", "success", time.Since(start).Seconds(), bytes)

	log.Info().
		Str("bucket", s.outputBucket).
		Str("prefix", keyPrefix).
		Int("files", count).
		Int64("bytes", bytes).
		Msg("Output tree uploaded")

	return count, nil
}

// MoveToCompleted relocates a processed input from its pending/ prefix to
// completed/ within its own bucket and returns the new URI. Inputs outside
// pending/ are left where they are.
func (s *Storage) MoveToCompleted(ctx context.Context, uri string) (string, error) {
	bucket, key, err := s.ResolveURI(uri)
	if err != nil {
		return "", err
	}

	newKey := completedKey(key)
	if newKey == key {
		log.Debug().Str("key", key).Msg("Input not under pending/, leaving in place")
		return uri, nil
	}

	start := time.Now()
	_, err = s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: newKey},
		minio.CopySrcOptions{Bucket: bucket, Object: key},
	)
	if err != nil {
		metrics.RecordStorageOperation("move", "error", time.Since(start).Seconds(), 0)
		return "", fmt.Errorf("failed to copy %s to %s: %w", key, newKey, err)
	}

	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		metrics.RecordStorageOperation("move", "error", time.Since(start).Seconds(), 0)
		return "", fmt.Errorf("failed to remove %s after copy: %w", key, err)
	}

	metrics.RecordStorageOperation("move", "success", time.Since(start).Seconds(), 0)

	newURI := fmt.Sprintf("s3://%s/%s", bucket, newKey)
	log.Info().
		Str("from", key).
		Str("to", newKey).
		Msg("Input moved to completed")

	return newURI, nil
}

// OutputURI is where a video's master playlist lands after upload.
func (s *Storage) OutputURI(videoID string) string {
	return fmt.Sprintf("s3://%s/videos/%s/manifest/master.m3u8", s.outputBucket, videoID)
}

// Ping verifies the output bucket is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.outputBucket)
	if err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	if !exists {
		return fmt.Errorf("output bucket %s does not exist", s.outputBucket)
	}
	return nil
}

// completedKey rewrites the first pending/ path element to completed/.
func completedKey(key string) string {
	return strings.Replace(key, "pending/", "completed/", 1)
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := filepath.Ext(filePath)
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
