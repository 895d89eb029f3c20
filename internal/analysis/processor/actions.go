package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/firesentinel/firesentinel-go/internal/datastore"
)

// AlertPublisher publishes an alert payload to an external broker. The
// MQTT client implements it; tests use fakes.
type AlertPublisher interface {
	Publish(ctx context.Context, payload []byte) error
	IsConnected() bool
}

// MQTTAction publishes one alert record to the broker through the retry
// queue, so broker outages do not lose alert events.
type MQTTAction struct {
	Publisher AlertPublisher
	Record    datastore.AlertRecord
}

// Execute implements jobqueue.Action.
func (a *MQTTAction) Execute(ctx context.Context, _ any) error {
	payload, err := json.Marshal(&a.Record)
	if err != nil {
		return fmt.Errorf("failed to marshal alert for mqtt: %w", err)
	}
	if err := a.Publisher.Publish(ctx, payload); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}
	return nil
}

// GetDescription labels the action in queue statistics.
func (a *MQTTAction) GetDescription() string {
	return fmt.Sprintf("mqtt publish for alert %s", a.Record.ID)
}
