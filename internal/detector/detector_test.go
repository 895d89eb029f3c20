package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/firesentinel/firesentinel-go/internal/errors"
)

type stubScorer struct {
	result Result
	err    error
	delay  time.Duration
}

func (s *stubScorer) Score(ctx context.Context, _ Frame) (Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestTimeoutScorerPassesThroughResult(t *testing.T) {
	inner := &stubScorer{result: Result{Confidence: 0.91, Region: &Region{X: 10, Y: 20, Width: 30, Height: 40}}}
	scorer := NewTimeoutScorer(inner, time.Second)

	result, err := scorer.Score(context.Background(), Frame{CameraID: "cam-1"})
	require.NoError(t, err)
	assert.InDelta(t, 0.91, result.Confidence, 1e-9)
	require.NotNil(t, result.Region)
	assert.Equal(t, 10, result.Region.X)
}

func TestTimeoutScorerTimesOut(t *testing.T) {
	inner := &stubScorer{delay: 500 * time.Millisecond}
	scorer := NewTimeoutScorer(inner, 20*time.Millisecond)

	start := time.Now()
	_, err := scorer.Score(context.Background(), Frame{CameraID: "cam-1"})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 200*time.Millisecond, "timeout must bound the call")

	var enhanced *ferrors.EnhancedError
	require.ErrorAs(t, err, &enhanced)
	assert.Equal(t, ferrors.CategoryTimeout, enhanced.Category)
}

func TestTimeoutScorerWrapsBackendError(t *testing.T) {
	backendErr := errors.New("model not loaded")
	inner := &stubScorer{err: backendErr}
	scorer := NewTimeoutScorer(inner, time.Second)

	_, err := scorer.Score(context.Background(), Frame{CameraID: "cam-2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, backendErr)

	var enhanced *ferrors.EnhancedError
	require.ErrorAs(t, err, &enhanced)
	assert.Equal(t, ferrors.CategoryDetector, enhanced.Category)
}
