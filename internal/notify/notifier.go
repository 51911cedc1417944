// Package notify delivers run-lifecycle notifications (run finished, run
// failed, collector stopped) to the configured channels. Each sender renders
// the event in its channel's native format; the notifier filters by event
// type so operators receive only the alerts they care about.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Event types emitted by the platform.
const (
	EventRunFinished    = "run_finished"
	EventRunFailed      = "run_failed"
	EventCollectorError = "collector_error"
)

// Event is one run-lifecycle notification.
type Event struct {
	// Type is one of the Event* constants (free-form types also pass the
	// filter when configured).
	Type  string
	Title string
	Body  string
}

// Sender renders and delivers an Event over one channel.
type Sender interface {
	Send(ctx context.Context, ev Event) error
	// Name identifies the channel (e.g. "telegram") for logging.
	Name() string
}

// Notifier dispatches events to one or more Senders, filtered by an allowed
// set of event types. An empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// events whose type appears in events are forwarded by Notify; an empty list
// allows all types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the event to every sender if its type passes the filter.
func (n *Notifier) Notify(ctx context.Context, eventType, title, body string) error {
	if len(n.events) > 0 && !n.events[eventType] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", eventType),
		)
		return nil
	}
	return n.dispatch(ctx, Event{Type: eventType, Title: title, Body: body})
}

// NotifyAll delivers the event regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, eventType, title, body string) error {
	return n.dispatch(ctx, Event{Type: eventType, Title: title, Body: body})
}

// dispatch fans the event out to every sender. A failing sender does not
// block delivery to the others; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, ev Event) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, ev); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", ev.Type),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", ev.Type),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// postJSON is the shared HTTP delivery path for the webhook-style senders.
func postJSON(ctx context.Context, client *http.Client, name, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, string(detail))
	}
	return nil
}
