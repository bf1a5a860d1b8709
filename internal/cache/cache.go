package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hlsmill/hlsmill/internal/metrics"
	"github.com/hlsmill/hlsmill/pkg/models"
)

const (
	progressTTL = 24 * time.Hour
	reportTTL   = 72 * time.Hour
	failureTTL  = 72 * time.Hour

	// lockTTL must outlive the slowest plausible job so a crashed worker's
	// lock eventually clears.
	lockTTL = 2 * time.Hour
)

// Cache publishes job state to Redis for pollers and holds per-video
// processing locks.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Progress is the poller-visible completion state of a running job.
type Progress struct {
	Succeeded int       `json:"succeeded"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetJobProgress publishes the monotonic completion count for a video.
func (c *Cache) SetJobProgress(ctx context.Context, videoID string, succeeded, total int) error {
	data, err := json.Marshal(Progress{
		Succeeded: succeeded,
		Total:     total,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	key := fmt.Sprintf("progress:%s", videoID)
	return c.client.Set(ctx, key, data, progressTTL).Err()
}

// GetJobProgress retrieves a video's progress. A miss returns nil.
func (c *Cache) GetJobProgress(ctx context.Context, videoID string) (*Progress, error) {
	key := fmt.Sprintf("progress:%s", videoID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			metrics.RecordCacheAccess("progress", false)
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get progress from cache: %w", err)
	}
	metrics.RecordCacheAccess("progress", true)

	var progress Progress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}

	return &progress, nil
}

// SetJobReport publishes a finished job's full report.
func (c *Cache) SetJobReport(ctx context.Context, videoID string, report *models.JobReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	key := fmt.Sprintf("report:%s", videoID)
	return c.client.Set(ctx, key, data, reportTTL).Err()
}

// GetJobReport retrieves a video's report. A miss returns nil.
func (c *Cache) GetJobReport(ctx context.Context, videoID string) (*models.JobReport, error) {
	key := fmt.Sprintf("report:%s", videoID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			metrics.RecordCacheAccess("report", false)
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get report from cache: %w", err)
	}
	metrics.RecordCacheAccess("report", true)

	var report models.JobReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return &report, nil
}

// SetFailureReason records why a video's job failed.
func (c *Cache) SetFailureReason(ctx context.Context, videoID, reason string) error {
	key := fmt.Sprintf("failure:%s", videoID)
	return c.client.Set(ctx, key, reason, failureTTL).Err()
}

// GetFailureReason retrieves a video's failure reason. A miss returns "".
func (c *Cache) GetFailureReason(ctx context.Context, videoID string) (string, error) {
	key := fmt.Sprintf("failure:%s", videoID)
	reason, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil // Cache miss
		}
		return "", fmt.Errorf("failed to get failure reason from cache: %w", err)
	}
	return reason, nil
}

// AcquireProcessingLock takes the per-video lock. Returns false when
// another worker already holds it.
func (c *Cache) AcquireProcessingLock(ctx context.Context, videoID string) (bool, error) {
	key := fmt.Sprintf("processing:%s", videoID)
	return c.client.SetNX(ctx, key, "locked", lockTTL).Result()
}

// ReleaseProcessingLock drops the per-video lock.
func (c *Cache) ReleaseProcessingLock(ctx context.Context, videoID string) error {
	key := fmt.Sprintf("processing:%s", videoID)
	return c.client.Del(ctx, key).Err()
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
