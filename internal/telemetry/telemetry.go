// Package telemetry reports enhanced errors to Sentry when the operator
// has opted in. Reporting is disabled by default and no events leave the
// host unless a DSN is configured.
package telemetry

import (
	"fmt"
	"time"

	sentry "github.com/getsentry/sentry-go"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/errors"
	"github.com/firesentinel/firesentinel-go/internal/logging"
)

const flushTimeout = 2 * time.Second

type sentryReporter struct{}

// ReportError forwards an enhanced error to Sentry with its component,
// category and context attached as tags and extras.
func (sentryReporter) ReportError(ee *errors.EnhancedError) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for k, v := range ee.Context {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(ee.Err)
	})
}

// Init initializes Sentry and hooks it into the errors package. A disabled
// or empty configuration is not an error; telemetry simply stays off.
func Init(settings *conf.SentrySettings, version string) error {
	if settings == nil || !settings.Enabled || settings.DSN == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Release:          fmt.Sprintf("firesentinel@%s", version),
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("initializing sentry: %w", err)
	}

	errors.SetTelemetryReporter(sentryReporter{})
	if logger := logging.ForService("telemetry"); logger != nil {
		logger.Info("error telemetry enabled")
	}
	return nil
}

// Flush drains pending events, used during shutdown.
func Flush() {
	sentry.Flush(flushTimeout)
}
