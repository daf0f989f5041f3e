package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"kind":"{{ .Event.Kind }}","environment":"{{ .Environment }}","ok":{{ .OK }},"summary":{{ toJson .Summary }},"event":{{ toJson .Event }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Environment string
	OK          bool
	Summary     string
	Event       RunEvent
	GeneratedAt time.Time
}

// WebhookNotifier sends run events to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *httpPoster
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// It returns nil when no URL is configured.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newHTTPPoster(logger, "webhook", webhookURL, "application/json", defaultTiming),
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, event RunEvent) error {
	if n == nil {
		return nil
	}

	generated := event.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
		event.GeneratedAt = generated
	}
	payload := WebhookPayload{
		Environment: environmentKey(event),
		OK:          event.OK(),
		Summary:     event.Summary(),
		Event:       event,
		GeneratedAt: generated,
	}

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}

	if err := n.poster.post(ctx, payload.Environment, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("environment", payload.Environment).
		Str("kind", string(event.Kind)).
		Msg("webhook notification sent")

	return nil
}
