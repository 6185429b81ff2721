package facematch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPDetector calls an external detection sidecar that runs the actual
// CV model. The sidecar receives a raw image and returns bounding boxes
// with embedding descriptors.
type HTTPDetector struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDetector creates a detector client for the sidecar at baseURL.
func NewHTTPDetector(baseURL string) *HTTPDetector {
	return &HTTPDetector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type detectResponse struct {
	Detections []struct {
		Box struct {
			X      float64 `json:"x"`
			Y      float64 `json:"y"`
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"box"`
		Descriptor []float32 `json:"descriptor"`
	} `json:"detections"`
}

// Detect posts the frame to the sidecar and returns its detections.
func (d *HTTPDetector) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/v1/detect", bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect request failed: status %d", resp.StatusCode)
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}

	detections := make([]Detection, 0, len(out.Detections))
	for _, det := range out.Detections {
		d := Detection{Descriptor: det.Descriptor}
		d.Box.X = det.Box.X
		d.Box.Y = det.Box.Y
		d.Box.Width = det.Box.Width
		d.Box.Height = det.Box.Height
		detections = append(detections, d)
	}
	return detections, nil
}
