package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorjacobs/go-vallox/vallox"
)

func variable(t *testing.T, id string) *vallox.Variable {
	t.Helper()
	v, ok := vallox.DefaultRegistry().Lookup(id)
	require.True(t, ok, id)
	return v
}

func TestFormatValue(t *testing.T) {
	tenths := &vallox.Variable{ID: "tenths", Kind: vallox.Numeric, Precision: 1}

	tests := []struct {
		v     *vallox.Variable
		value vallox.Value
		want  string
	}{
		{variable(t, "temperature_inside"), vallox.NumberValue(21), "21"},
		{variable(t, "temperature_outside"), vallox.NumberValue(-5), "-5"},
		{tenths, vallox.NumberValue(20.5), "20.5"},
		{tenths, vallox.NumberValue(3), "3.0"},
		{variable(t, "power"), vallox.BoolValue(true), "ON"},
		{variable(t, "power"), vallox.BoolValue(false), "OFF"},
		{variable(t, "fan_speed"), vallox.LabelValue("4"), "4"},
		{variable(t, "fault_code"), vallox.Value{Kind: vallox.Enumerated, Code: 0x42, Label: "0x42", Unrecognized: true}, "0x42"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.v, tt.value))
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		id      string
		payload string
		want    vallox.Value
	}{
		{"heating_target", "21", vallox.NumberValue(21)},
		{"heating_target", " 19.5 ", vallox.NumberValue(19.5)},
		{"power", "ON", vallox.BoolValue(true)},
		{"power", "off", vallox.BoolValue(false)},
		{"power", "1", vallox.BoolValue(true)},
		{"power", "false", vallox.BoolValue(false)},
		{"fan_speed", "3", vallox.LabelValue("3")},
		{"fan_speed", "9", vallox.LabelValue("9")},
	}

	for _, tt := range tests {
		got, err := ParseCommand(variable(t, tt.id), tt.payload)
		require.NoError(t, err, "%v %q", tt.id, tt.payload)
		assert.Equal(t, tt.want, got, "%v %q", tt.id, tt.payload)
	}
}

func TestParseCommand_CaseInsensitiveOption(t *testing.T) {
	v := &vallox.Variable{ID: "mode", Kind: vallox.Enumerated, Labels: map[byte]string{0: "Auto", 1: "Manual"}}

	got, err := ParseCommand(v, "manual")
	require.NoError(t, err)
	assert.Equal(t, vallox.LabelValue("Manual"), got)
}

func TestParseCommand_Invalid(t *testing.T) {
	tests := []struct {
		id      string
		payload string
	}{
		{"heating_target", "warm"},
		{"heating_target", "NaN"},
		{"heating_target", "+Inf"},
		{"heating_target", ""},
		{"power", "yes"},
		{"power", ""},
		{"fan_speed", "  "},
	}

	for _, tt := range tests {
		_, err := ParseCommand(variable(t, tt.id), tt.payload)
		assert.ErrorIs(t, err, ErrInvalidCommand, "%v %q", tt.id, tt.payload)
	}
}
