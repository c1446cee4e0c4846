package vallox

import (
	"fmt"
	"math"
)

// Registry is the immutable set of variables known on the bus.
type Registry struct {
	variables  []*Variable
	byID       map[string]*Variable
	byRegister map[byte][]*Variable
	wide       map[byte]*Variable
	registers  []byte
}

// NewRegistry validates defs and indexes them. Registers are polled in the
// order they first appear.
func NewRegistry(defs ...Variable) (*Registry, error) {
	r := &Registry{
		byID:       make(map[string]*Variable, len(defs)),
		byRegister: make(map[byte][]*Variable),
		wide:       make(map[byte]*Variable),
	}

	for i := range defs {
		v := defs[i]
		if err := validate(&v); err != nil {
			return nil, err
		}
		if _, ok := r.byID[v.ID]; ok {
			return nil, fmt.Errorf("duplicate variable %q", v.ID)
		}
		if v.Register == PollByte {
			return nil, fmt.Errorf("variable %q: register 0x00 is reserved for polling", v.ID)
		}
		if other, ok := r.wide[v.Register]; ok {
			return nil, fmt.Errorf("variable %q: register 0x%02x already used by %q", v.ID, v.Register, other.ID)
		}

		r.variables = append(r.variables, &v)
		r.byID[v.ID] = &v

		if v.Wide() {
			for _, reg := range []byte{v.Register, v.LowRegister} {
				if others := r.byRegister[reg]; len(others) > 0 {
					return nil, fmt.Errorf("variable %q: register 0x%02x already used by %q", v.ID, reg, others[0].ID)
				}
				if other, ok := r.wide[reg]; ok {
					return nil, fmt.Errorf("variable %q: register 0x%02x already used by %q", v.ID, reg, other.ID)
				}
				r.wide[reg] = &v
			}
			continue
		}

		if others := r.byRegister[v.Register]; len(others) > 0 && (v.Kind != Bit || others[0].Kind != Bit) {
			return nil, fmt.Errorf("variable %q: register 0x%02x already used by %q", v.ID, v.Register, others[0].ID)
		}
		if _, seen := r.byRegister[v.Register]; !seen {
			r.registers = append(r.registers, v.Register)
		}
		r.byRegister[v.Register] = append(r.byRegister[v.Register], &v)
	}

	return r, nil
}

func validate(v *Variable) error {
	if v.ID == "" {
		return fmt.Errorf("variable for register 0x%02x has no id", v.Register)
	}
	if v.Wide() && v.Kind != Numeric {
		return fmt.Errorf("variable %q: only numeric variables can span two registers", v.ID)
	}
	switch v.Kind {
	case Numeric:
		if v.Curve == nil && v.Scale == 0 {
			return fmt.Errorf("variable %q: numeric without scale or curve", v.ID)
		}
		if v.Min > v.Max {
			return fmt.Errorf("variable %q: min %v above max %v", v.ID, v.Min, v.Max)
		}
		if v.Wide() && (v.Curve != nil || !v.ReadOnly || v.LowRegister == PollByte || v.LowRegister == v.Register) {
			return fmt.Errorf("variable %q: 16-bit readings need two distinct registers, a scale and no writes", v.ID)
		}
	case Bit:
		if v.Mask == 0 {
			return fmt.Errorf("variable %q: bit without mask", v.ID)
		}
	case Enumerated:
		if len(v.Labels) == 0 {
			return fmt.Errorf("variable %q: enumeration without labels", v.ID)
		}
	default:
		return fmt.Errorf("variable %q: unsupported kind %v", v.ID, v.Kind)
	}
	return nil
}

// Lookup returns the variable with the given id.
func (r *Registry) Lookup(id string) (*Variable, bool) {
	v, ok := r.byID[id]
	return v, ok
}

// ByRegister returns every variable carried by register.
func (r *Registry) ByRegister(register byte) []*Variable {
	return r.byRegister[register]
}

// Wide returns the 16-bit variable that register is one half of.
func (r *Registry) Wide(register byte) (*Variable, bool) {
	v, ok := r.wide[register]
	return v, ok
}

// Registers returns each distinct register once, in poll order. Halves of
// 16-bit variables are not included.
func (r *Registry) Registers() []byte {
	return append([]byte(nil), r.registers...)
}

// Variables returns all definitions in declaration order.
func (r *Registry) Variables() []*Variable {
	return append([]*Variable(nil), r.variables...)
}

// Decoded is one variable's interpretation of a register byte.
type Decoded struct {
	Variable *Variable
	Value    Value
	Err      error
}

// Decode interprets raw for every variable on register. It returns nil for
// registers the registry does not know.
func (r *Registry) Decode(register, raw byte) []Decoded {
	vars := r.byRegister[register]
	if len(vars) == 0 {
		return nil
	}

	decoded := make([]Decoded, 0, len(vars))
	for _, v := range vars {
		value, err := v.Decode(raw)
		decoded = append(decoded, Decoded{Variable: v, Value: value, Err: err})
	}
	return decoded
}

// DecodeValue interprets raw for the variable with the given id.
func (r *Registry) DecodeValue(id string, raw byte) (Value, error) {
	v, ok := r.byID[id]
	if !ok {
		return Value{}, &EncodingError{Variable: id, Err: ErrUnknownVariable}
	}
	return v.Decode(raw)
}

// EncodeValue turns value into the raw byte to write for the variable with
// the given id. current is the last raw byte read from its register, or nil.
func (r *Registry) EncodeValue(id string, value Value, current *byte) (byte, error) {
	v, ok := r.byID[id]
	if !ok {
		return 0, &EncodingError{Variable: id, Err: ErrUnknownVariable}
	}
	return v.Encode(value, current)
}

// Decode interprets a raw register byte. Out-of-range numbers are returned
// flagged Suspect. Unknown enumeration codes return ErrUnknownEnumValue
// together with a value carrying the code.
func (v *Variable) Decode(raw byte) (Value, error) {
	if v.Wide() {
		return Value{}, &EncodingError{Variable: v.ID, Err: ErrValueUnknown}
	}

	switch v.Kind {
	case Numeric:
		var n float64
		if v.Curve != nil {
			n = v.Curve[raw]
		} else {
			n = float64(raw)*v.Scale + v.Offset
		}
		n = round(n, v.Precision)

		value := NumberValue(n)
		value.Suspect = n < v.Min || n > v.Max
		return value, nil

	case Bit:
		return BoolValue(raw&v.Mask != 0), nil

	case Enumerated:
		if label, ok := v.Labels[raw]; ok {
			return Value{Kind: Enumerated, Code: raw, Label: label}, nil
		}
		value := Value{
			Kind:         Enumerated,
			Code:         raw,
			Label:        fmt.Sprintf("0x%02x", raw),
			Unrecognized: true,
		}
		return value, &EncodingError{Variable: v.ID, Err: ErrUnknownEnumValue}
	}

	return Value{}, &EncodingError{Variable: v.ID, Err: fmt.Errorf("unsupported kind %v", v.Kind)}
}

// DecodeWide combines both halves of a 16-bit reading.
func (v *Variable) DecodeWide(high, low byte) Value {
	n := round(float64(uint16(high)<<8|uint16(low))*v.Scale+v.Offset, v.Precision)

	value := NumberValue(n)
	value.Suspect = n < v.Min || n > v.Max
	return value
}

// Encode is the inverse of Decode. Bit variables need the current register
// byte so the other bits are preserved.
func (v *Variable) Encode(value Value, current *byte) (byte, error) {
	raw, err := v.encode(value, current)
	if err != nil {
		return 0, &EncodingError{Variable: v.ID, Err: err}
	}
	return raw, nil
}

func (v *Variable) encode(value Value, current *byte) (byte, error) {
	if v.ReadOnly {
		return 0, ErrReadOnlyVariable
	}
	if value.Kind != v.Kind {
		return 0, fmt.Errorf("%w: expected %v value, got %v", ErrOutOfRange, v.Kind, value.Kind)
	}

	switch v.Kind {
	case Numeric:
		n := round(value.Number, v.Precision)
		if math.IsNaN(n) || n < v.Min || n > v.Max {
			return 0, fmt.Errorf("%w: %v not within [%v, %v]", ErrOutOfRange, value.Number, v.Min, v.Max)
		}

		if v.Curve != nil {
			for raw, candidate := range v.Curve {
				if candidate == n {
					return byte(raw), nil
				}
			}
			return 0, fmt.Errorf("%w: no raw value maps to %v", ErrOutOfRange, n)
		}

		raw := math.Round((n - v.Offset) / v.Scale)
		if raw < 0 || raw > 255 {
			return 0, fmt.Errorf("%w: %v does not fit in a byte", ErrOutOfRange, value.Number)
		}
		return byte(raw), nil

	case Bit:
		if v.Momentary && !value.On {
			return 0, fmt.Errorf("%w: %v can only be switched on", ErrOutOfRange, v.ID)
		}
		if current == nil {
			return 0, ErrValueUnknown
		}
		mask := v.Mask
		if v.WriteMask != 0 {
			mask = v.WriteMask
		}
		raw := *current &^ mask
		if value.On {
			raw |= mask
		}
		return raw, nil

	case Enumerated:
		for code, label := range v.Labels {
			if label == value.Label {
				return code, nil
			}
		}
		return 0, fmt.Errorf("%w: %q is not one of %v", ErrOutOfRange, value.Label, v.Options())
	}

	return 0, fmt.Errorf("unsupported kind %v", v.Kind)
}

// Confirms reports whether raw, read back from the register after a write,
// shows the requested value.
func (v *Variable) Confirms(requested Value, raw byte) bool {
	got, err := v.Decode(raw)
	if err != nil {
		return false
	}

	switch v.Kind {
	case Bit:
		return got.On == requested.On
	case Enumerated:
		return got.Label == requested.Label
	default:
		return got.Number == round(requested.Number, v.Precision)
	}
}

func round(n float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(n*p) / p
}
