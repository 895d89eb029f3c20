package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/errors"
)

const (
	httpScorerUserAgent = "FireSentinel-Go https://github.com/firesentinel/firesentinel-go"
	maxScoreResponse    = 64 * 1024
)

// scoreResponse is the inference service's reply for one frame.
type scoreResponse struct {
	Confidence float64 `json:"confidence"`
	Region     *Region `json:"region,omitempty"`
}

// HTTPScorer submits frames to an external inference service over HTTP.
// The service receives the raw encoded frame and replies with a confidence
// and optional bounding box.
type HTTPScorer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPScorer creates a scorer for the configured inference endpoint.
// Per-frame deadlines are enforced by the caller's context, typically via
// TimeoutScorer.
func NewHTTPScorer(settings conf.DetectorSettings) *HTTPScorer {
	return &HTTPScorer{
		endpoint: settings.Endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Score posts the frame to the inference service and decodes its verdict.
func (s *HTTPScorer) Score(ctx context.Context, frame Frame) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(frame.Data))
	if err != nil {
		return Result{}, errors.New(err).
			Component("detector").
			Category(errors.CategoryValidation).
			Context("endpoint", s.endpoint).
			Build()
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("User-Agent", httpScorerUserAgent)
	req.Header.Set("X-Camera-ID", frame.CameraID)
	req.Header.Set("X-Frame-Width", strconv.Itoa(frame.Width))
	req.Header.Set("X-Frame-Height", strconv.Itoa(frame.Height))

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, errors.New(err).
			Component("detector").
			Category(errors.CategoryNetwork).
			Context("endpoint", s.endpoint).
			Context("camera_id", frame.CameraID).
			Build()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScoreResponse))
	if err != nil {
		return Result{}, errors.New(err).
			Component("detector").
			Category(errors.CategoryNetwork).
			Context("camera_id", frame.CameraID).
			Build()
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, errors.Newf("inference service returned status %d", resp.StatusCode).
			Component("detector").
			Category(errors.CategoryHTTP).
			Context("endpoint", s.endpoint).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var decoded scoreResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, errors.New(err).
			Component("detector").
			Category(errors.CategoryDetector).
			Context("camera_id", frame.CameraID).
			Build()
	}

	if decoded.Confidence < 0 || decoded.Confidence > 1 {
		return Result{}, errors.New(fmt.Errorf("confidence %f outside [0,1]", decoded.Confidence)).
			Component("detector").
			Category(errors.CategoryDetector).
			Context("camera_id", frame.CameraID).
			Build()
	}

	return Result{Confidence: decoded.Confidence, Region: decoded.Region}, nil
}
