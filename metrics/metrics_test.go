package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorjacobs/go-vallox/bus"
	"github.com/victorjacobs/go-vallox/state"
	"github.com/victorjacobs/go-vallox/vallox"
)

func TestObserver(t *testing.T) {
	m := New(nil)

	m.FrameReceived([]byte{0x01, 0x11, 0x22, 0x29, 0x01, 0x5e}, nil)
	m.FrameReceived([]byte{0x01, 0x11, 0x22, 0x29, 0x01, 0x00}, errors.New("checksum"))
	m.FrameSent([]byte{0x01, 0x22, 0x11, 0x00, 0x29, 0x5d})
	m.FrameSent([]byte{0x01, 0x22, 0x11, 0x00, 0x29, 0x5d})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesInvalid))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesSent))

	ok := bus.NewRead(vallox.RegisterFanSpeed)
	ok.State = bus.Matched
	ok.Issued = time.Now().Add(-20 * time.Millisecond)
	failed := bus.NewRead(vallox.RegisterStatus)
	failed.State = bus.Failed
	failed.Issued = time.Now()

	m.RequestDone(ok)
	m.RequestDone(failed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("read", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("read", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requestLatency))
}

func TestRecorder(t *testing.T) {
	m := New(nil)

	m.StatePublished("fan_speed")
	m.StatePublished("fan_speed")
	m.CommandHandled("fan_speed", nil)
	m.CommandHandled("fan_speed", vallox.ErrOutOfRange)
	m.AvailabilityChanged(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published.WithLabelValues("fan_speed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.available))

	m.AvailabilityChanged(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.available))
}

func TestValues(t *testing.T) {
	store := state.NewStore(vallox.DefaultRegistry())
	require.NoError(t, store.UpdateRegister(vallox.RegisterTempInside, 0xA2, time.Now()))
	require.NoError(t, store.UpdateRegister(vallox.RegisterFanSpeed, 0x07, time.Now()))
	m := New(store)

	expected := `
# HELP vallox_value Last value read from the device. Switches are 0 or 1, options report their raw code.
# TYPE vallox_value gauge
vallox_value{entity="fan_speed"} 7
vallox_value{entity="temperature_inside"} 21
# HELP vallox_values_stale Values not refreshed since the last connection loss.
# TYPE vallox_values_stale gauge
vallox_values_stale 0
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "vallox_value", "vallox_values_stale"))

	store.MarkAllStale()
	count, err := testutil.GatherAndCount(m.Registry(), "vallox_value", "vallox_values_stale")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.FrameSent(nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "vallox_frames_sent_total 1")
}
