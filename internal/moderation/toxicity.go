package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const classifierTimeout = 3 * time.Second

// Classifier scores message text for toxicity.
type Classifier interface {
	// Classify returns true when the text should be rejected. Errors are
	// handled fail-open by the pipeline.
	Classify(ctx context.Context, text string) (bool, error)
}

// HTTPClassifier calls an external scoring service.
type HTTPClassifier struct {
	endpoint  string
	threshold float64
	client    *http.Client
}

// NewHTTPClassifier targets the given scoring endpoint. Scores at or above
// threshold are toxic.
func NewHTTPClassifier(endpoint string, threshold float64) *HTTPClassifier {
	if threshold <= 0 {
		threshold = 0.8
	}
	return &HTTPClassifier{
		endpoint:  strings.TrimSpace(endpoint),
		threshold: threshold,
		client:    &http.Client{Timeout: classifierTimeout},
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Toxic bool    `json:"toxic"`
	Score float64 `json:"score"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (bool, error) {
	if c.endpoint == "" {
		return false, nil
	}
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return false, fmt.Errorf("encode request: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, classifierTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return false, err
	}
	defer func() {
		io.Copy(io.Discard, response.Body)
		response.Body.Close()
	}()
	if response.StatusCode != http.StatusOK {
		return false, fmt.Errorf("classifier returned %s", response.Status)
	}
	var result classifyResponse
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return result.Toxic || result.Score >= c.threshold, nil
}

// StaticClassifier returns a fixed verdict, used in tests and when no
// classifier endpoint is configured.
type StaticClassifier struct {
	Toxic bool
	Err   error
}

func (s StaticClassifier) Classify(ctx context.Context, text string) (bool, error) {
	return s.Toxic, s.Err
}
