package validate

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firesentinel/firesentinel-go/internal/conf"
)

// Command creates a command that validates the loaded configuration and
// prints a summary without starting the pipeline.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long:  "Check the loaded configuration for problems and print a summary of what the pipeline would run with.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.ValidateSettings(settings); err != nil {
				var ve conf.ValidationErrors
				if errors.As(err, &ve) {
					for _, msg := range ve.Errors {
						fmt.Printf("invalid: %s\n", msg)
					}
					return fmt.Errorf("%d configuration problem(s) found", len(ve.Errors))
				}
				return err
			}

			printSummary(settings)
			return nil
		},
	}
}

func printSummary(settings *conf.Settings) {
	fmt.Println("configuration OK")

	t := settings.Detection.Thresholds
	fmt.Printf("thresholds: immediate_alert=%.2f review_queue=%.2f log_only=%.2f min_gap=%.2f\n",
		t.ImmediateAlert, t.ReviewQueue, t.LogOnly, t.MinGap)

	enabled := 0
	for _, stream := range settings.Camera.Streams {
		if stream.Enabled {
			enabled++
		}
	}
	fmt.Printf("cameras: %d configured, %d enabled\n", len(settings.Camera.Streams), enabled)

	providers := 0
	for _, p := range settings.Notification.Providers {
		if p.Enabled {
			providers++
		}
	}
	fmt.Printf("notification providers: %d enabled\n", providers)

	switch {
	case settings.Output.MySQL.Enabled:
		fmt.Printf("store: mysql %s@%s:%s/%s\n",
			settings.Output.MySQL.Username, settings.Output.MySQL.Host,
			settings.Output.MySQL.Port, settings.Output.MySQL.Database)
	case settings.Output.SQLite.Enabled:
		fmt.Printf("store: sqlite %s\n", settings.Output.SQLite.Path)
	default:
		fmt.Println("store: disabled")
	}

	if settings.MQTT.Enabled {
		fmt.Printf("mqtt: %s topic %s\n", settings.MQTT.Broker, settings.MQTT.Topic)
	}
	if settings.WebServer.Enabled {
		fmt.Printf("api: listening on %s\n", settings.WebServer.Listen)
	}
	if settings.Telemetry.Enabled {
		fmt.Printf("telemetry: listening on %s\n", settings.Telemetry.Listen)
	}
}
