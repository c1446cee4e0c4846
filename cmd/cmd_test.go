package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorjacobs/go-vallox/capture"
	"github.com/victorjacobs/go-vallox/vallox"
)

func TestLoopSafely(t *testing.T) {
	restartDelay = time.Millisecond
	defer func() { restartDelay = time.Second }()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan error)
	go func() {
		done <- loopSafely(ctx, "test", func(ctx context.Context) error {
			switch calls.Add(1) {
			case 1:
				panic("boom")
			case 2:
				return errors.New("failed")
			default:
				<-ctx.Done()
				return nil
			}
		})
	}()

	assert.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunSafely(t *testing.T) {
	err := runSafely(context.Background(), func(context.Context) error {
		panic("boom")
	})
	assert.EqualError(t, err, "panic: boom")
}

func TestDescribe(t *testing.T) {
	registry := vallox.DefaultRegistry()

	poll := vallox.PollRequest(vallox.ThisPanel, vallox.Mainboard1, vallox.RegisterFanSpeed)
	assert.Equal(t, poll.String(), describe(registry, poll))

	reply := vallox.Telegram{Sender: vallox.Mainboard1, Receiver: vallox.ThisPanel, Variable: vallox.RegisterFanSpeed, Data: 0x07}
	assert.Equal(t, reply.String()+"  fan_speed=3", describe(registry, reply))

	status := vallox.Telegram{Sender: vallox.Mainboard1, Receiver: vallox.AllPanels, Variable: vallox.RegisterStatus, Data: 0x01}
	got := describe(registry, status)
	assert.Contains(t, got, "power=ON")
	assert.Contains(t, got, "rh_mode=OFF")

	unknown := vallox.Telegram{Sender: vallox.Mainboard1, Receiver: vallox.ThisPanel, Variable: 0x7E, Data: 0x01}
	assert.Equal(t, unknown.String(), describe(registry, unknown))
}

func TestMonitor(t *testing.T) {
	registry := vallox.DefaultRegistry()
	reply := vallox.Telegram{Sender: vallox.Mainboard1, Receiver: vallox.ThisPanel, Variable: vallox.RegisterTempInside, Data: 0xA2}

	var stream []byte
	stream = append(stream, 0xFF, 0x00)
	stream = append(stream, reply.Encode()...)

	var capt bytes.Buffer
	w := capture.NewWriter(&capt)
	var out bytes.Buffer

	err := monitor(context.Background(), bytes.NewReader(stream), registry, w, &out)
	assert.ErrorIs(t, err, io.EOF)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "temperature_inside=21")
	assert.Contains(t, out.String(), "[ERROR]")

	records, err := capture.ReadAll(&capt)
	require.NoError(t, err)
	require.Equal(t, len(lines), len(records))
	assert.True(t, records[len(records)-1].Valid)
	assert.False(t, records[0].Valid)
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	w := capture.NewWriter(&buf)

	poll := vallox.PollRequest(vallox.ThisPanel, vallox.Mainboard1, vallox.RegisterFanSpeed)
	reply := vallox.Telegram{Sender: vallox.Mainboard1, Receiver: vallox.ThisPanel, Variable: vallox.RegisterFanSpeed, Data: 0x07}
	require.NoError(t, w.Write(capture.Sent, poll.Encode(), true))
	require.NoError(t, w.Write(capture.Received, reply.Encode(), true))
	require.NoError(t, w.Write(capture.Received, []byte{0x01, 0x02}, false))

	var out bytes.Buffer
	require.NoError(t, dump(&buf, vallox.DefaultRegistry(), &out))

	text := out.String()
	assert.Contains(t, text, "# session "+w.Session())
	assert.Contains(t, text, "tx 01 22 11 00 29 5d")
	assert.Contains(t, text, "fan_speed=3")
	assert.Contains(t, text, "invalid")
	assert.Contains(t, text, "3 frames, 1 invalid")
	assert.Equal(t, 1, strings.Count(text, "# session"))
}
