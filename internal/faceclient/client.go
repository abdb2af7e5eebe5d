package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/capture"
)

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
	// MockIdentity is what Skip mode reports for every analysed frame; empty means no faces.
	MockIdentity string
	// Threshold is the maximum match distance accepted as a known identity.
	Threshold float64
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL:   baseURL,
		Skip:      skip,
		Threshold: 0.40,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

type identifyRequest struct {
	ImageURL  string  `json:"image_url,omitempty"`
	ImageB64  string  `json:"image_b64,omitempty"`
	Threshold float64 `json:"threshold"`
}

type identifyFace struct {
	Identity   string   `json:"identity"`
	Distance   *float64 `json:"distance"`
	Confidence *float64 `json:"confidence"`
	BBox       []int    `json:"bbox"`
}

// Identify matches every face in the frame against the enrolled gallery.
// Faces that match nobody come back with attendance.UnknownIdentity.
func (c *Client) Identify(ctx context.Context, frame capture.Frame) ([]attendance.Detection, error) {
	if c.Skip {
		if c.MockIdentity == "" {
			return nil, nil
		}
		return []attendance.Detection{{
			Identity:   c.MockIdentity,
			Confidence: 95.0,
			BBox:       attendance.BBox{W: 120, H: 120},
		}}, nil
	}
	if frame.ImageURL == "" && len(frame.Data) == 0 {
		return nil, fmt.Errorf("frame %d has no image", frame.Seq)
	}

	payload := identifyRequest{ImageURL: frame.ImageURL, Threshold: c.Threshold}
	if frame.ImageURL == "" {
		payload.ImageB64 = base64.StdEncoding.EncodeToString(frame.Data)
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/identify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Faces []identifyFace `json:"faces"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	detections := make([]attendance.Detection, 0, len(out.Faces))
	for _, f := range out.Faces {
		detections = append(detections, c.toDetection(f))
	}
	return detections, nil
}

func (c *Client) toDetection(f identifyFace) attendance.Detection {
	d := attendance.Detection{Identity: f.Identity, BBox: attendance.BBox{W: 120, H: 120}}
	if len(f.BBox) == 4 {
		d.BBox = attendance.BBox{X: f.BBox[0], Y: f.BBox[1], W: f.BBox[2], H: f.BBox[3]}
	}

	switch {
	case f.Confidence != nil:
		d.Confidence = *f.Confidence
	case f.Distance != nil:
		d.Confidence = math.Max(0, math.Round((1-*f.Distance)*1000)/10)
	}

	if d.Identity == "" || (f.Distance != nil && *f.Distance > c.Threshold) {
		d.Identity = attendance.UnknownIdentity
	}
	return d
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}
