package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"driftcast/internal/models"
)

// EnqueueCapture queues an HLS job for the capture file if it exists. A
// missing capture is not an error: the broadcast produced nothing worth
// keeping, so the caller just logs and moves on.
func EnqueueCapture(ctx context.Context, queue Queue, capturePath, streamKey string) (bool, error) {
	if _, err := os.Stat(capturePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat capture: %w", err)
	}
	job := models.TranscodeJob{
		Kind:       models.JobKindTranscodeHLS,
		StreamKey:  streamKey,
		SourcePath: capturePath,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := queue.Enqueue(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}
