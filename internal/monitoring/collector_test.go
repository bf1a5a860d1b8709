package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJobs struct {
	n int
}

func (s *stubJobs) InProgress() int { return s.n }

type stubQueue struct {
	depth int
	err   error
}

func (s *stubQueue) GetQueueDepth() (int, error) { return s.depth, s.err }

func TestCollectorSample(t *testing.T) {
	jobs := &stubJobs{n: 3}
	queue := &stubQueue{depth: 7}
	c := NewCollector(jobs, queue, time.Minute)

	c.sample()

	snap := c.Snapshot()
	assert.Equal(t, 3, snap.InProgress)
	assert.Equal(t, 7, snap.QueueDepth)
	assert.False(t, snap.LastUpdated.IsZero())
}

func TestCollectorQueueErrorKeepsLastDepth(t *testing.T) {
	jobs := &stubJobs{n: 1}
	queue := &stubQueue{depth: 5}
	c := NewCollector(jobs, queue, time.Minute)

	c.sample()
	require.Equal(t, 5, c.Snapshot().QueueDepth)

	queue.err = errors.New("channel closed")
	queue.depth = 0
	c.sample()

	assert.Equal(t, 5, c.Snapshot().QueueDepth)
}

func TestCollectorNilQueueSource(t *testing.T) {
	c := NewCollector(&stubJobs{n: 2}, nil, time.Minute)

	c.sample()

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.InProgress)
	assert.Equal(t, 0, snap.QueueDepth)
}

func TestCollectorStartSamplesUntilCancelled(t *testing.T) {
	jobs := &stubJobs{n: 4}
	c := NewCollector(jobs, &stubQueue{depth: 2}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	require.Eventually(t, func() bool {
		snap := c.Snapshot()
		return snap.InProgress == 4 && snap.QueueDepth == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNewCollectorDefaultInterval(t *testing.T) {
	c := NewCollector(&stubJobs{}, nil, 0)
	assert.Equal(t, DefaultInterval, c.interval)
}
