// interfaces.go defines the store interface consumed by the pipeline and
// the UI boundary.
package datastore

import (
	"context"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/conf"
)

// AckOutcome is the result of an acknowledge call.
type AckOutcome int

const (
	// AckApplied means this call transitioned the record to acknowledged.
	AckApplied AckOutcome = iota
	// AckAlreadyAcknowledged means the record was acknowledged earlier;
	// concurrent UI races are expected, so this is not an error.
	AckAlreadyAcknowledged
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error

	Create(ctx context.Context, record *AlertRecord) error
	Get(ctx context.Context, id string) (*AlertRecord, error)
	Update(ctx context.Context, record *AlertRecord) error
	Acknowledge(ctx context.Context, id, by string) (AckOutcome, error)
	MarkFalsePositive(ctx context.Context, id string, falsePositive bool) error
	ListRecent(ctx context.Context, limit int, filter AlertFilter) ([]AlertRecord, error)
	Statistics(ctx context.Context, window time.Duration) (*Statistics, error)

	SaveSystemEvent(ctx context.Context, event *SystemEvent) error
	ListSystemEvents(ctx context.Context, limit int, kind string) ([]SystemEvent, error)

	Cleanup(ctx context.Context, maxAge time.Duration) (int64, error)
}

// New creates a store for whichever output backend is enabled. SQLite wins
// when both are configured.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{DataStore: DataStore{Settings: settings}}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{DataStore: DataStore{Settings: settings}}
	default:
		return nil
	}
}
