package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for header, context and phase blocks in each message
	slackReservedBlocks = 3
	slackMaxFailures    = slackMaxBlocks - slackReservedBlocks
	fingerprintPrefix   = 12
)

type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, event RunEvent) error {
	messages := buildSlackMessages(event)
	payloads := make([][]byte, 0, len(messages))
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		payloads = append(payloads, payload)
	}

	if err := n.poster.post(ctx, environmentKey(event), payloads...); err != nil {
		return err
	}

	n.logger.Debug().
		Str("environment", event.Environment).
		Str("kind", string(event.Kind)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func (n *SlackNotifier) postOnce(ctx context.Context, payload []byte) error {
	return n.poster.postOnce(ctx, payload)
}

// buildSlackMessages renders the event, splitting build failures across
// messages so no message exceeds Slack's block limit.
func buildSlackMessages(event RunEvent) []slack.WebhookMessage {
	failures := event.Failed
	if len(failures) <= slackMaxFailures {
		return []slack.WebhookMessage{buildSlackMessage(event, failures, 1, 1)}
	}

	total := len(failures)
	chunkTotal := (total + slackMaxFailures - 1) / slackMaxFailures
	messages := make([]slack.WebhookMessage, 0, chunkTotal)
	for i := 0; i < total; i += slackMaxFailures {
		end := i + slackMaxFailures
		if end > total {
			end = total
		}
		partIndex := (i / slackMaxFailures) + 1
		messages = append(messages, buildSlackMessage(event, failures[i:end], partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(event RunEvent, failures []BuildFailure, partIndex, partTotal int) slack.WebhookMessage {
	summary := event.Summary()
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", statusIcon(event)+" "+summary, false, false))

	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Environment: *%s*", environmentKey(event)), false, false),
	}
	if event.Fingerprint != "" {
		fp := event.Fingerprint
		if len(fp) > fingerprintPrefix {
			fp = fp[:fingerprintPrefix]
		}
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Compose: `%s`", fp), false, false))
	}
	blocks := []slack.Block{header, slack.NewContextBlock("", contextElements...)}

	if partIndex == 1 {
		if text := formatPhases(event); text != "" {
			blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", text, false, false), nil, nil))
		}
	}
	for _, failure := range failures {
		blocks = append(blocks, buildFailureBlock(failure))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func formatPhases(event RunEvent) string {
	var lines []string
	for _, phase := range event.Phases {
		lines = append(lines, fmt.Sprintf("• %s: `%s` (%s)", phase.Phase, phase.Outcome, phase.Duration.Round(time.Second)))
	}
	if event.Kind == EventBuild && len(event.Built) > 0 {
		lines = append(lines, fmt.Sprintf("*Built:* %s", strings.Join(event.Built, ", ")))
	}
	if event.Error != "" {
		lines = append(lines, fmt.Sprintf("*Error:* %s", event.Error))
	}
	return strings.Join(lines, "\n")
}

func buildFailureBlock(failure BuildFailure) slack.Block {
	title := slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*%s*: build failed", failure.Service), false, false)
	var fields []*slack.TextBlockObject
	if diag := lastLines(failure.Diagnostic, 5); diag != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "```"+diag+"```", false, false))
	}
	return slack.NewSectionBlock(title, fields, nil)
}

func statusIcon(event RunEvent) string {
	if event.OK() {
		return "✅"
	}
	return "❌"
}

func environmentKey(event RunEvent) string {
	if event.Environment == "" {
		return "default"
	}
	return event.Environment
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
