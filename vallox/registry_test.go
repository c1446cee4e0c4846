package vallox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fanSpeedRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := NewRegistry(Variable{
		ID:       "fan_speed",
		Name:     "Fan speed",
		Register: 0x01,
		Kind:     Numeric,
		Scale:    1,
		Min:      1,
		Max:      8,
		Entity:   NumberEntity,
	})
	require.NoError(t, err)
	return r
}

func TestRegistry_FanSpeedExample(t *testing.T) {
	r := fanSpeedRegistry(t)

	value, err := r.DecodeValue("fan_speed", 0x05)
	require.NoError(t, err)
	assert.Equal(t, NumberValue(5), value)

	raw, err := r.EncodeValue("fan_speed", NumberValue(3), nil)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), raw)
}

func TestRegistry_NumericSuspect(t *testing.T) {
	r := fanSpeedRegistry(t)

	value, err := r.DecodeValue("fan_speed", 0x0C)
	require.NoError(t, err)
	assert.Equal(t, 12.0, value.Number)
	assert.True(t, value.Suspect)

	_, err = r.EncodeValue("fan_speed", NumberValue(12), nil)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestRegistry_ScaleRoundTrip(t *testing.T) {
	r, err := NewRegistry(
		Variable{ID: "linear", Register: 0x40, Kind: Numeric, Scale: 1, Min: 0, Max: 255},
		Variable{ID: "half", Register: 0x41, Kind: Numeric, Scale: 0.5, Offset: -20, Precision: 1, Min: -20, Max: 107.5},
		Variable{ID: "tenth", Register: 0x42, Kind: Numeric, Scale: 0.1, Precision: 1, Min: 0, Max: 25.5},
	)
	require.NoError(t, err)

	for _, id := range []string{"linear", "half", "tenth"} {
		for raw := 0; raw < 256; raw++ {
			value, err := r.DecodeValue(id, byte(raw))
			require.NoError(t, err)

			back, err := r.EncodeValue(id, value, nil)
			require.NoError(t, err, "%s raw 0x%02x", id, raw)
			require.Equal(t, byte(raw), back, "%s raw 0x%02x", id, raw)
		}
	}
}

func TestRegistry_CurveRoundTrip(t *testing.T) {
	r := DefaultRegistry()
	v, ok := r.Lookup("heating_target")
	require.True(t, ok)

	for raw := 0; raw < 256; raw++ {
		value, err := v.Decode(byte(raw))
		require.NoError(t, err)
		if value.Suspect {
			continue
		}

		back, err := v.Encode(value, nil)
		require.NoError(t, err)

		// The curve is not injective; the first raw value with the same
		// temperature is used.
		again, err := v.Decode(back)
		require.NoError(t, err)
		assert.Equal(t, value.Number, again.Number)
	}
}

func TestRegistry_Temperature(t *testing.T) {
	r := DefaultRegistry()

	value, err := r.DecodeValue("temperature_inside", 0xA2)
	require.NoError(t, err)
	assert.Equal(t, 21.0, value.Number)
	assert.False(t, value.Suspect)

	_, err = r.EncodeValue("temperature_inside", NumberValue(21), nil)
	assert.ErrorIs(t, err, ErrReadOnlyVariable)

	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, "temperature_inside", encErr.Variable)
}

func TestRegistry_Humidity(t *testing.T) {
	r := DefaultRegistry()

	value, err := r.DecodeValue("rh1", 0x99)
	require.NoError(t, err)
	assert.Equal(t, 50.0, value.Number)

	value, err = r.DecodeValue("rh1", 0x00)
	require.NoError(t, err)
	assert.True(t, value.Suspect)
}

func TestRegistry_Bits(t *testing.T) {
	r := DefaultRegistry()

	decoded := r.Decode(RegisterStatus, 0x09)
	require.Len(t, decoded, 8)

	on := map[string]bool{}
	for _, d := range decoded {
		require.NoError(t, d.Err)
		on[d.Variable.ID] = d.Value.On
	}
	assert.True(t, on["power"])
	assert.True(t, on["heating_mode"])
	assert.False(t, on["rh_mode"])
	assert.False(t, on["fault"])

	current := byte(0x09)
	raw, err := r.EncodeValue("rh_mode", BoolValue(true), &current)
	require.NoError(t, err)
	assert.Equal(t, byte(0x0D), raw)

	raw, err = r.EncodeValue("power", BoolValue(false), &current)
	require.NoError(t, err)
	assert.Equal(t, byte(0x08), raw)

	_, err = r.EncodeValue("power", BoolValue(false), nil)
	assert.ErrorIs(t, err, ErrValueUnknown)

	_, err = r.EncodeValue("fault", BoolValue(false), &current)
	assert.ErrorIs(t, err, ErrReadOnlyVariable)
}

func TestRegistry_BoostWritesActivateFlag(t *testing.T) {
	r := DefaultRegistry()
	v, _ := r.Lookup("boost")

	current := byte(0x00)
	raw, err := v.Encode(BoolValue(true), &current)
	require.NoError(t, err)
	assert.Equal(t, byte(0x20), raw)

	assert.True(t, v.Confirms(BoolValue(true), 0x40))
	assert.False(t, v.Confirms(BoolValue(true), 0x20))
}

func TestRegistry_Enumerated(t *testing.T) {
	r := DefaultRegistry()

	value, err := r.DecodeValue("fan_speed", 0x1F)
	require.NoError(t, err)
	assert.Equal(t, "5", value.Label)

	raw, err := r.EncodeValue("fan_speed", LabelValue("3"), nil)
	require.NoError(t, err)
	assert.Equal(t, byte(0x07), raw)

	_, err = r.EncodeValue("fan_speed", LabelValue("9"), nil)
	assert.ErrorIs(t, err, ErrOutOfRange)

	value, err = r.DecodeValue("fan_speed", 0x05)
	assert.ErrorIs(t, err, ErrUnknownEnumValue)
	assert.True(t, value.Unrecognized)
	assert.Equal(t, byte(0x05), value.Code)
	assert.Equal(t, "unrecognized(0x05)", value.String())
}

func TestRegistry_KindMismatch(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.EncodeValue("fan_speed", NumberValue(3), nil)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestRegistry_UnknownVariable(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.DecodeValue("nope", 0x01)
	assert.ErrorIs(t, err, ErrUnknownVariable)
	_, err = r.EncodeValue("nope", NumberValue(1), nil)
	assert.ErrorIs(t, err, ErrUnknownVariable)
	assert.Nil(t, r.Decode(0xEE, 0x01))
}

func TestRegistry_Registers(t *testing.T) {
	r := DefaultRegistry()
	registers := r.Registers()

	seen := map[byte]bool{}
	for _, reg := range registers {
		assert.False(t, seen[reg], "register 0x%02x listed twice", reg)
		seen[reg] = true
	}
	assert.Equal(t, RegisterStatus, registers[0])
	assert.Len(t, registers, 16)
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name string
		defs []Variable
	}{
		{"missing id", []Variable{{Register: 0x01, Kind: Numeric, Scale: 1}}},
		{"duplicate id", []Variable{
			{ID: "a", Register: 0x01, Kind: Numeric, Scale: 1, Max: 1},
			{ID: "a", Register: 0x02, Kind: Numeric, Scale: 1, Max: 1},
		}},
		{"poll register", []Variable{{ID: "a", Register: PollByte, Kind: Numeric, Scale: 1}}},
		{"no scale", []Variable{{ID: "a", Register: 0x01, Kind: Numeric}}},
		{"no mask", []Variable{{ID: "a", Register: 0x01, Kind: Bit}}},
		{"no labels", []Variable{{ID: "a", Register: 0x01, Kind: Enumerated}}},
		{"shared numeric register", []Variable{
			{ID: "a", Register: 0x01, Kind: Numeric, Scale: 1, Max: 1},
			{ID: "b", Register: 0x01, Kind: Bit, Mask: 0x01},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.defs...)
			assert.Error(t, err)
		})
	}
}

func TestVariable_Options(t *testing.T) {
	v, _ := DefaultRegistry().Lookup("fan_speed")
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8"}, v.Options())
}

func TestRegistry_CO2(t *testing.T) {
	r := DefaultRegistry()

	v, ok := r.Wide(RegisterCO2Low)
	require.True(t, ok)
	assert.Equal(t, "co2", v.ID)
	hi, _ := r.Wide(RegisterCO2High)
	assert.Same(t, v, hi)

	assert.NotContains(t, r.Registers(), RegisterCO2High)
	assert.NotContains(t, r.Registers(), RegisterCO2Low)
	assert.Nil(t, r.Decode(RegisterCO2High, 0x02))

	value := v.DecodeWide(0x02, 0x58)
	assert.Equal(t, 600.0, value.Number)
	assert.False(t, value.Suspect)
	assert.True(t, v.DecodeWide(0xFF, 0xFF).Suspect)

	_, err := r.DecodeValue("co2", 0x02)
	assert.ErrorIs(t, err, ErrValueUnknown)
	_, err = r.EncodeValue("co2", NumberValue(600), nil)
	assert.ErrorIs(t, err, ErrReadOnlyVariable)
}

func TestNewRegistry_WideValidation(t *testing.T) {
	wide := Variable{ID: "w", Register: 0x2B, LowRegister: 0x2C, Kind: Numeric, Scale: 1, Max: 5000, ReadOnly: true}

	_, err := NewRegistry(wide)
	require.NoError(t, err)

	writable := wide
	writable.ReadOnly = false
	_, err = NewRegistry(writable)
	assert.Error(t, err)

	_, err = NewRegistry(wide, Variable{ID: "low", Register: 0x2C, Kind: Numeric, Scale: 1, Max: 1})
	assert.Error(t, err)

	_, err = NewRegistry(Variable{ID: "high", Register: 0x2B, Kind: Numeric, Scale: 1, Max: 1}, wide)
	assert.Error(t, err)
}

func TestRegistry_BoostCannotBeSwitchedOff(t *testing.T) {
	v, _ := DefaultRegistry().Lookup("boost")

	current := byte(0x60)
	_, err := v.Encode(BoolValue(false), &current)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = v.Encode(BoolValue(false), nil)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
