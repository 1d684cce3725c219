// Package transcode turns finished broadcast captures into HLS renditions.
// Jobs travel through a durable queue with at-least-once delivery; the worker
// tolerates redelivery and parks jobs that keep failing.
package transcode

import (
	"context"

	"driftcast/internal/models"
)

// Delivery is one received job plus its acknowledgement hooks. Exactly one of
// Ack, Retry, or Park must be called per delivery.
type Delivery struct {
	Job     models.TranscodeJob
	Attempt int

	ack   func() error
	retry func() error
	park  func() error
}

// Ack marks the job done and removes it from the queue.
func (d Delivery) Ack() error {
	return d.ack()
}

// Retry requeues the job with the attempt counter bumped.
func (d Delivery) Retry() error {
	return d.retry()
}

// Park moves the job to the parked queue for operator inspection and stops
// retrying it.
func (d Delivery) Park() error {
	return d.park()
}

// Queue is the transport for transcode jobs.
type Queue interface {
	// Enqueue publishes a job. Safe for concurrent use.
	Enqueue(ctx context.Context, job models.TranscodeJob) error
	// Consume returns a channel of deliveries. The channel closes when the
	// context is cancelled or the connection is lost.
	Consume(ctx context.Context) (<-chan Delivery, error)
	// Close releases the underlying connection.
	Close() error
}
