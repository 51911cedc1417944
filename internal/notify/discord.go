package notify

import (
	"context"
	"net/http"
	"time"
)

// DiscordSender delivers run-lifecycle events to a Discord channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// discordColors maps event types to embed accent colors: green for finished
// runs, red for failures, amber for collector trouble.
var discordColors = map[string]int{
	EventRunFinished:    0x2ecc71,
	EventRunFailed:      0xe74c3c,
	EventCollectorError: 0xf39c12,
}

// Send posts the event as a single embed so summaries render with a title
// and an event-type footer instead of one flat content string.
func (d *DiscordSender) Send(ctx context.Context, ev Event) error {
	embed := map[string]any{
		"title":       ev.Title,
		"description": ev.Body,
		"footer":      map[string]any{"text": "mmlab · " + ev.Type},
	}
	if color, ok := discordColors[ev.Type]; ok {
		embed["color"] = color
	}
	payload := map[string]any{
		"embeds": []any{embed},
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, payload)
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
