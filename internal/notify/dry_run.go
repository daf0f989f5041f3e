package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// DryRunNotifier logs run events without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, event RunEvent) error {
	entry := n.logger.Info().
		Str("kind", string(event.Kind)).
		Str("environment", event.Environment).
		Bool("ok", event.OK()).
		Int("phases", len(event.Phases)).
		Int("built", len(event.Built)).
		Int("failed", len(event.Failed))
	if event.Error != "" {
		entry = entry.Str("error", event.Error)
	}
	entry.Msg("[DRY-RUN] Would notify: " + event.Summary())
	return nil
}
