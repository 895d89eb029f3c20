// Package detector defines the scoring interface between camera frames and
// the analysis pipeline. The model backend is opaque to the rest of the
// system; the pipeline only sees a confidence score per frame.
package detector

import (
	"context"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/errors"
)

// Frame is a single decoded image handed to the scorer.
type Frame struct {
	CameraID  string
	Timestamp time.Time
	Data      []byte
	Width     int
	Height    int
}

// Region is the bounding box of the detected area in frame coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result is the scorer's verdict for one frame.
type Result struct {
	Confidence float64
	Region     *Region
}

// Scorer produces a smoke/fire confidence in [0,1] for a frame. A returned
// error means the frame could not be scored; the caller treats it as
// transient and moves on to the next frame.
type Scorer interface {
	Score(ctx context.Context, frame Frame) (Result, error)
}

// TimeoutScorer wraps a Scorer with a hard per-frame deadline. A slow or
// wedged backend must never stall the capture loop.
type TimeoutScorer struct {
	inner   Scorer
	timeout time.Duration
}

// NewTimeoutScorer wraps inner with the given deadline.
func NewTimeoutScorer(inner Scorer, timeout time.Duration) *TimeoutScorer {
	return &TimeoutScorer{inner: inner, timeout: timeout}
}

type scoreOutcome struct {
	result Result
	err    error
}

// Score runs the inner scorer under a deadline. On timeout the inner call
// is abandoned and a timeout-category error is returned.
func (t *TimeoutScorer) Score(ctx context.Context, frame Frame) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	outcome := make(chan scoreOutcome, 1)
	go func() {
		result, err := t.inner.Score(ctx, frame)
		outcome <- scoreOutcome{result: result, err: err}
	}()

	select {
	case o := <-outcome:
		if o.err != nil {
			return Result{}, errors.New(o.err).
				Component("detector").
				Category(errors.CategoryDetector).
				Context("camera_id", frame.CameraID).
				Build()
		}
		return o.result, nil
	case <-ctx.Done():
		return Result{}, errors.New(ctx.Err()).
			Component("detector").
			Category(errors.CategoryTimeout).
			Context("camera_id", frame.CameraID).
			Context("timeout", t.timeout.String()).
			Build()
	}
}
