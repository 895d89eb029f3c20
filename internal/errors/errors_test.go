package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderSetsMetadata(t *testing.T) {
	base := NewStd("connection refused")

	err := New(base).
		Component("mqtt").
		Category(CategoryMQTT).
		Context("broker", "tcp://localhost:1883").
		Priority(PriorityHigh).
		Build()

	assert.Equal(t, "connection refused", err.Error())
	assert.Equal(t, "mqtt", err.Component)
	assert.Equal(t, CategoryMQTT, err.Category)
	assert.Equal(t, PriorityHigh, err.Priority)
	assert.Equal(t, "tcp://localhost:1883", err.GetContext("broker"))
	assert.Nil(t, err.GetContext("missing"))
	assert.False(t, err.Timestamp.IsZero())
}

func TestBuilderDefaults(t *testing.T) {
	err := Newf("camera %s offline", "CAM_001").Build()

	assert.Equal(t, "camera CAM_001 offline", err.Error())
	assert.Equal(t, ComponentUnknown, err.Component)
	assert.Equal(t, CategoryGeneric, err.Category)
}

func TestPriorityValidation(t *testing.T) {
	err := New(NewStd("x")).Priority("urgent-ish").Build()
	assert.Equal(t, PriorityMedium, err.Priority, "unknown priority falls back to medium")

	err = New(NewStd("x")).Priority("").Build()
	assert.Empty(t, err.Priority)
}

func TestIsMatchesByCategory(t *testing.T) {
	a := New(NewStd("first")).Category(CategoryDatabase).Build()
	b := New(NewStd("second")).Category(CategoryDatabase).Build()
	c := New(NewStd("third")).Category(CategoryNetwork).Build()

	assert.True(t, Is(a, b), "same category must match")
	assert.False(t, Is(a, c), "different category must not match")
}

func TestUnwrapPreservesChain(t *testing.T) {
	sentinel := NewStd("sentinel")
	wrapped := fmt.Errorf("outer: %w", sentinel)
	enhanced := New(wrapped).Category(CategoryDetector).Build()

	assert.True(t, Is(enhanced, sentinel))

	var ee *EnhancedError
	require.True(t, As(enhanced, &ee))
	assert.Equal(t, CategoryDetector, ee.Category)
}

func TestHasCategory(t *testing.T) {
	err := New(NewStd("no rows")).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("lookup: %w", err)

	assert.True(t, HasCategory(wrapped, CategoryNotFound))
	assert.False(t, HasCategory(wrapped, CategoryDatabase))
	assert.False(t, HasCategory(NewStd("plain"), CategoryNotFound))
	assert.False(t, HasCategory(nil, CategoryNotFound))
}

type capturingReporter struct {
	mu     sync.Mutex
	errors []*EnhancedError
}

func (r *capturingReporter) ReportError(ee *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, ee)
}

func (r *capturingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func TestTelemetryReporterReceivesBuiltErrors(t *testing.T) {
	reporter := &capturingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	New(NewStd("boom")).Category(CategorySystem).Build()
	require.Equal(t, 1, reporter.count())

	SetTelemetryReporter(nil)
	New(NewStd("quiet")).Category(CategorySystem).Build()
	assert.Equal(t, 1, reporter.count(), "disabled reporter must not receive errors")
}
