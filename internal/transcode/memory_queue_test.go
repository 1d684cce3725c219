package transcode

import (
	"context"
	"sync"
	"testing"

	"driftcast/internal/models"
)

func TestMemoryQueueEnqueueAfterCloseFails(t *testing.T) {
	queue := NewMemoryQueue(4)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Enqueue(context.Background(), models.TranscodeJob{StreamKey: "live_abc"}); err == nil {
		t.Fatal("enqueue after close succeeded")
	}
}

func TestMemoryQueueCloseDuringEnqueueDoesNotPanic(t *testing.T) {
	queue := NewMemoryQueue(2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				// Errors (full or closed) are expected; a send on the
				// closed channel would panic instead.
				queue.Enqueue(ctx, models.TranscodeJob{StreamKey: "live_abc"})
			}
		}()
	}
	queue.Close()
	wg.Wait()
}

func TestMemoryQueueFull(t *testing.T) {
	queue := NewMemoryQueue(1)
	ctx := context.Background()
	if err := queue.Enqueue(ctx, models.TranscodeJob{StreamKey: "live_abc"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := queue.Enqueue(ctx, models.TranscodeJob{StreamKey: "live_abc"}); err == nil {
		t.Fatal("enqueue into a full queue succeeded")
	}
	if queue.Depth() != 1 {
		t.Fatalf("depth = %d", queue.Depth())
	}
}
