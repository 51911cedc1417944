package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TelegramSender delivers run-lifecycle events to a Telegram chat via the
// Bot API sendMessage endpoint.
type TelegramSender struct {
	sendURL string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		sendURL: "https://api.telegram.org/bot" + token + "/sendMessage",
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the event as a single message. The event type is carried as a
// bracketed tag so alerts are scannable in the chat history; plain-text
// parse mode avoids escaping run output.
func (t *TelegramSender) Send(ctx context.Context, ev Event) error {
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     fmt.Sprintf("mmlab [%s] %s\n%s", ev.Type, ev.Title, ev.Body),
		"disable_web_page_preview": true,
	}
	return postJSON(ctx, t.client, "telegram", t.sendURL, payload)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
