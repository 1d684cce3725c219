package transcode

import (
	"context"
	"fmt"
	"sync"

	"driftcast/internal/models"
)

// MemoryQueue is an in-process Queue for development and tests. Deliveries
// mimic the broker's at-least-once semantics: Retry puts the job back with
// the attempt bumped, Park moves it to a parked list.
type MemoryQueue struct {
	mu     sync.Mutex
	jobs   chan queuedJob
	parked []models.TranscodeJob
	closed bool
}

type queuedJob struct {
	job     models.TranscodeJob
	attempt int
}

// NewMemoryQueue constructs a queue buffering up to capacity jobs.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{jobs: make(chan queuedJob, capacity)}
}

func (m *MemoryQueue) Enqueue(ctx context.Context, job models.TranscodeJob) error {
	return m.push(ctx, queuedJob{job: job, attempt: 1})
}

func (m *MemoryQueue) push(ctx context.Context, entry queuedJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// The lock spans the send so a racing Close cannot shut the channel
	// mid-push; the default arm keeps the send from ever blocking under it.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("queue closed")
	}
	select {
	case m.jobs <- entry:
		return nil
	default:
		return fmt.Errorf("queue full")
	}
}

func (m *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	deliveries := make(chan Delivery)
	go func() {
		defer close(deliveries)
		for {
			select {
			case entry, ok := <-m.jobs:
				if !ok {
					return
				}
				select {
				case deliveries <- m.adapt(ctx, entry):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return deliveries, nil
}

func (m *MemoryQueue) adapt(ctx context.Context, entry queuedJob) Delivery {
	return Delivery{
		Job:     entry.job,
		Attempt: entry.attempt,
		ack:     func() error { return nil },
		retry: func() error {
			return m.push(ctx, queuedJob{job: entry.job, attempt: entry.attempt + 1})
		},
		park: func() error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.parked = append(m.parked, entry.job)
			return nil
		},
	}
}

// Parked returns jobs that exhausted their attempts.
func (m *MemoryQueue) Parked() []models.TranscodeJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	parked := make([]models.TranscodeJob, len(m.parked))
	copy(parked, m.parked)
	return parked
}

// Depth reports the number of jobs waiting for a consumer.
func (m *MemoryQueue) Depth() int {
	return len(m.jobs)
}

func (m *MemoryQueue) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	return nil
}
