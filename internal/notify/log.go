package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogDispatcher writes alerts to the log. It is the default when no
// delivery channel is configured.
type LogDispatcher struct {
	logger zerolog.Logger
}

func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (d *LogDispatcher) Deliver(ctx context.Context, destination, text string) error {
	d.logger.Info().Str("destination", destination).Str("text", text).Msg("Alert")
	return nil
}

func (d *LogDispatcher) Close() error {
	return nil
}
