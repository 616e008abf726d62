package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"proctord/pkg/interfaces"
	"proctord/pkg/types"
)

// Client calls the external face-detection / head-pose service over HTTP.
// The service is opaque and may be slow or briefly unavailable; every call
// is bounded by the configured timeout and any failure surfaces as
// ErrDetectorUnavailable so the evaluator treats the frame as inconclusive.
type Client struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewClient creates a detector client for the given endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		timeout:  timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// response mirrors the service's JSON body.
type response struct {
	FaceCount int     `json:"face_count"`
	Deviation float64 `json:"deviation"`
}

// EvaluateFrame implements interfaces.FrameDetector.
func (c *Client) EvaluateFrame(ctx context.Context, frame []byte) (*types.FrameResult, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame payload")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to build detector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and transport failures are inconclusive, never a violation.
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDetectorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: detector returned status %d", interfaces.ErrDetectorUnavailable, resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: invalid detector response: %v", interfaces.ErrDetectorUnavailable, err)
	}
	if body.FaceCount < 0 {
		return nil, fmt.Errorf("%w: negative face count", interfaces.ErrDetectorUnavailable)
	}

	return &types.FrameResult{
		FaceCount: body.FaceCount,
		Deviation: body.Deviation,
	}, nil
}
