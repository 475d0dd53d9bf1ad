package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	got    []Notification
	err    error
	closed bool
}

func (f *fakeNotifier) Notify(_ context.Context, n Notification) error {
	f.got = append(f.got, n)
	return f.err
}

func (f *fakeNotifier) Close() error {
	f.closed = true
	return nil
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	n := NewLogNotifier(logger)

	require.NoError(t, n.Notify(context.Background(), Notification{
		Title:   "gaze pipeline unavailable",
		Body:    "listen tcp: address in use",
		Urgency: UrgencyCritical,
	}))
	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "gaze pipeline unavailable")
	assert.Contains(t, out, "urgency=critical")
}

func TestMulti(t *testing.T) {
	a := &fakeNotifier{}
	b := &fakeNotifier{err: errors.New("bus gone")}
	m := Multi{a, b}

	err := m.Notify(context.Background(), Notification{Title: "x"})
	assert.ErrorContains(t, err, "bus gone")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNewDisabledLogsOnly(t *testing.T) {
	n := New(Config{Enabled: false}, nil)
	_, ok := n.(*LogNotifier)
	assert.True(t, ok)
	assert.NoError(t, n.Notify(context.Background(), Notification{Title: "hello"}))
	assert.NoError(t, n.Close())
}

func TestNewWithoutSessionBusFallsBack(t *testing.T) {
	t.Setenv("DBUS_SESSION_BUS_ADDRESS", "unix:path=/nonexistent/proctord-test-bus")
	n := New(Config{Enabled: true, AppName: "proctord"}, nil)
	_, ok := n.(*LogNotifier)
	assert.True(t, ok)
}

func TestUrgencyString(t *testing.T) {
	assert.Equal(t, "low", UrgencyLow.String())
	assert.Equal(t, "normal", UrgencyNormal.String())
	assert.Equal(t, "critical", UrgencyCritical.String())
	assert.Equal(t, "unknown", Urgency(9).String())
}
