package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/errors"
)

func newTestClient(t *testing.T) *client {
	t.Helper()
	settings := &conf.Settings{}
	settings.Main.Name = "firesentinel-test"
	settings.MQTT.Broker = "tcp://broker.invalid:1883"
	settings.MQTT.Topic = "firesentinel/alerts"
	c, ok := NewClient(settings).(*client)
	require.True(t, ok)
	t.Cleanup(c.Disconnect)
	return c
}

func TestPublishNotConnected(t *testing.T) {
	c := newTestClient(t)

	err := c.Publish(context.Background(), []byte(`{"tier":"P1"}`))
	require.Error(t, err)

	var enhanced *errors.EnhancedError
	require.True(t, errors.As(err, &enhanced))
	assert.Equal(t, errors.CategoryMQTT, enhanced.Category)
}

func TestConnectInvalidBrokerURL(t *testing.T) {
	c := newTestClient(t)
	c.config.Broker = "://not-a-url"

	err := c.Connect(context.Background())
	require.Error(t, err)

	var enhanced *errors.EnhancedError
	require.True(t, errors.As(err, &enhanced))
	assert.Equal(t, errors.CategoryValidation, enhanced.Category)
}

func TestConnectUnresolvableHost(t *testing.T) {
	c := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// .invalid is reserved and never resolves.
	err := c.Connect(ctx)
	require.Error(t, err)
	assert.False(t, c.IsConnected())
}

func TestConnectCooldown(t *testing.T) {
	c := newTestClient(t)
	c.lastConnAttempt = time.Now()

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection attempt too recent")
}

func TestDisconnectIdempotent(t *testing.T) {
	c := newTestClient(t)
	c.Disconnect()
	c.Disconnect()
}
