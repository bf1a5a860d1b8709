package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hlsmill/hlsmill/internal/metrics"
)

// DefaultInterval is how often the collector samples its sources.
const DefaultInterval = 10 * time.Second

// JobSource reports how many jobs the worker is processing right now.
type JobSource interface {
	InProgress() int
}

// QueueSource reports the depth of the pending request queue.
type QueueSource interface {
	GetQueueDepth() (int, error)
}

// Snapshot is the last set of readings taken by the collector.
type Snapshot struct {
	InProgress  int       `json:"in_progress"`
	QueueDepth  int       `json:"queue_depth"`
	LastUpdated time.Time `json:"last_updated"`
}

// Collector polls the worker and the queue on a fixed interval and mirrors
// the readings into the job gauges.
type Collector struct {
	jobs     JobSource
	queue    QueueSource
	interval time.Duration

	mu   sync.RWMutex
	last Snapshot
}

// NewCollector creates a collector. A nil queue source is allowed; queue
// depth then stays at zero.
func NewCollector(jobs JobSource, queue QueueSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		jobs:     jobs,
		queue:    queue,
		interval: interval,
	}
}

// Start begins sampling until the context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last.InProgress = c.jobs.InProgress()

	if c.queue != nil {
		depth, err := c.queue.GetQueueDepth()
		if err != nil {
			// Keep the previous depth; a broker hiccup should not zero the gauge.
			log.Warn().Err(err).Msg("Failed to read queue depth")
		} else {
			c.last.QueueDepth = depth
		}
	}

	c.last.LastUpdated = time.Now()
	metrics.UpdateJobMetrics(c.last.InProgress, c.last.QueueDepth)
}

// Snapshot returns a copy of the most recent readings.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
