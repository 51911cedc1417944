package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	events []Event
	fail   bool
}

func (f *fakeSender) Send(ctx context.Context, ev Event) error {
	if f.fail {
		return errors.New("channel down")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifyFiltersByEventType(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventRunFinished}, slog.Default())

	require.NoError(t, n.Notify(context.Background(), EventRunFailed, "nope", ""))
	require.NoError(t, n.Notify(context.Background(), EventRunFinished, "yes", "pnl=1"))

	require.Len(t, s.events, 1)
	assert.Equal(t, EventRunFinished, s.events[0].Type)
	assert.Equal(t, "yes", s.events[0].Title)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	require.NoError(t, n.Notify(context.Background(), "custom_event", "t", "b"))
	assert.Len(t, s.events, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventRunFinished}, slog.Default())

	require.NoError(t, n.NotifyAll(context.Background(), EventCollectorError, "t", "b"))
	assert.Len(t, s.events, 1)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &fakeSender{name: "bad", fail: true}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.Default())

	err := n.Notify(context.Background(), EventRunFinished, "t", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.events, 1, "second sender still delivers")
}

func TestNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, slog.Default())
	assert.NoError(t, n.Notify(context.Background(), EventRunFinished, "t", "b"))
}
