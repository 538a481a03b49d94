package actuator

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/straightup/internal/publish"
	"github.com/srg/straightup/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestConsole(t *testing.T) {
	var out bytes.Buffer
	sound := true
	c := NewConsole(&out, WithoutColor(), WithBell(func() bool { return sound }))

	require.NoError(t, c.ShowMonitoringNotification())
	require.NoError(t, c.ShowMonitoringNotification())
	require.NoError(t, c.Vibrate(200*time.Millisecond))
	sound = false
	require.NoError(t, c.ShowAlertNotification())
	require.NoError(t, c.CancelMonitoringNotification())
	require.NoError(t, c.CancelMonitoringNotification())

	testutils.NewTextAsserter(t).Assert(out.String(), `
* Monitoring posture: StraightUp is active
~ vibrate 200ms`+"\a"+`
! Bad posture detected: Please straighten your back
* Monitoring posture stopped
`)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, msg publish.Message) error {
	return m.Called(msg.Action, msg.DurationMs).Error(0)
}

func (m *mockPublisher) Close() error { return nil }

func TestBroker(t *testing.T) {
	p := &mockPublisher{}
	p.On("Publish", publish.ActionVibrate, int64(300)).Return(nil).Once()
	p.On("Publish", publish.ActionAlert, int64(0)).Return(errors.New("broker down")).Once()

	b := NewBroker(p, time.Second)
	require.NoError(t, b.Vibrate(300*time.Millisecond))
	assert.ErrorContains(t, b.ShowAlertNotification(), "forward alert_notification: broker down")
	p.AssertExpectations(t)
}

type countingActuator struct {
	calls int
	err   error
}

func (c *countingActuator) Vibrate(time.Duration) error         { c.calls++; return c.err }
func (c *countingActuator) ShowAlertNotification() error        { c.calls++; return c.err }
func (c *countingActuator) ShowMonitoringNotification() error   { c.calls++; return c.err }
func (c *countingActuator) CancelMonitoringNotification() error { c.calls++; return c.err }

func TestMulti_RunsAllAndJoinsErrors(t *testing.T) {
	failing := &countingActuator{err: errors.New("no display")}
	ok := &countingActuator{}
	m := Multi{failing, ok}

	err := m.ShowAlertNotification()
	assert.ErrorContains(t, err, "no display")
	assert.Equal(t, 1, ok.calls, "a failing actuator MUST not short-circuit the others")
	assert.NoError(t, Multi{ok}.Vibrate(time.Millisecond))
}
