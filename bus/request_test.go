package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorjacobs/go-vallox/vallox"
)

func TestRequest_ReadLifecycle(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRead(vallox.RegisterFanSpeed)
	assert.Equal(t, Idle, r.State)

	require.NoError(t, r.Send(start, time.Second))
	assert.Equal(t, Sent, r.State)
	assert.Equal(t, 1, r.Attempts)
	assert.Equal(t, start, r.Issued)

	// Not yet due.
	assert.Equal(t, Sent, r.Expire(start.Add(500*time.Millisecond), 3))

	assert.Equal(t, TimedOut, r.Expire(start.Add(time.Second), 3))
	assert.ErrorIs(t, r.Err, ErrTimeout)
	assert.False(t, r.Terminal())

	require.NoError(t, r.Send(start.Add(time.Second), time.Second))
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, start, r.Issued)

	assert.Equal(t, Matched, r.Match(0x07, 3))
	assert.True(t, r.Terminal())
	assert.NoError(t, r.Err)

	assert.Error(t, r.Send(start, time.Second), "matched request cannot be resent")
}

func TestRequest_FailsAfterMaxAttempts(t *testing.T) {
	now := time.Now()
	r := NewRead(0x29)

	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, r.Send(now, time.Millisecond))
		now = now.Add(time.Millisecond)
		r.Expire(now, 3)
	}

	assert.Equal(t, Failed, r.State)
	assert.True(t, r.Terminal())
	assert.ErrorIs(t, r.Err, ErrVariableUnavailable)
	assert.ErrorIs(t, r.Err, ErrTimeout)
}

func TestRequest_WriteNeedsConfirmation(t *testing.T) {
	v, ok := vallox.DefaultRegistry().Lookup("fan_speed")
	require.True(t, ok)

	r := NewWrite(v, vallox.LabelValue("3"))
	require.NoError(t, r.Send(time.Now(), time.Second))

	// The device still reports speed 2.
	assert.Equal(t, TimedOut, r.Match(0x03, 2))
	assert.ErrorIs(t, r.Err, ErrNotConfirmed)

	require.NoError(t, r.Send(time.Now(), time.Second))
	assert.Equal(t, Matched, r.Match(0x07, 2))
}

func TestRequest_Answers(t *testing.T) {
	r := NewRead(0x29)
	reply := vallox.Telegram{Sender: vallox.Mainboard1, Receiver: vallox.ThisPanel, Variable: 0x29, Data: 0x01}

	assert.False(t, r.Answers(reply, vallox.Mainboard1, vallox.ThisPanel), "idle request answers nothing")

	require.NoError(t, r.Send(time.Now(), time.Second))
	assert.True(t, r.Answers(reply, vallox.Mainboard1, vallox.ThisPanel))

	other := reply
	other.Variable = 0x2A
	assert.False(t, r.Answers(other, vallox.Mainboard1, vallox.ThisPanel))

	broadcast := reply
	broadcast.Receiver = vallox.AllPanels
	assert.False(t, r.Answers(broadcast, vallox.Mainboard1, vallox.ThisPanel))

	poll := vallox.PollRequest(vallox.Mainboard1, vallox.ThisPanel, 0x29)
	assert.False(t, r.Answers(poll, vallox.Mainboard1, vallox.ThisPanel))
}

func TestRequest_Cancel(t *testing.T) {
	r := NewRead(0x29)
	require.NoError(t, r.Send(time.Now(), time.Second))

	r.Cancel(ErrTransportLost)
	assert.Equal(t, Failed, r.State)
	assert.ErrorIs(t, r.Err, ErrTransportLost)
}
