package vallox

import "fmt"

// Kind selects how a variable's raw byte is interpreted.
type Kind int

const (
	Numeric Kind = iota
	Bit
	Enumerated
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Bit:
		return "bit"
	case Enumerated:
		return "enumerated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entity is the Home Assistant component a variable is exposed as.
type Entity string

const (
	Sensor       Entity = "sensor"
	BinarySensor Entity = "binary_sensor"
	Switch       Entity = "switch"
	NumberEntity Entity = "number"
	Select       Entity = "select"
)

// Variable is the static definition of one semantic value on the bus.
type Variable struct {
	ID       string
	Name     string
	Register byte
	Kind     Kind

	// Numeric: value = raw*Scale + Offset, unless Curve is set, in which
	// case value = Curve[raw].
	Scale     float64
	Offset    float64
	Curve     *[256]float64
	Min       float64
	Max       float64
	Precision int

	// LowRegister, when set, makes the variable a 16-bit reading with the
	// high byte in Register. Such variables are only ever broadcast by the
	// device: they are read-only and never polled.
	LowRegister byte

	// Bit: value = raw&Mask != 0. Writes set WriteMask instead when it is
	// non-zero.
	Mask      byte
	WriteMask byte
	// Momentary bits can only be switched on. The device clears them itself.
	Momentary bool

	// Enumerated: raw code to label.
	Labels map[byte]string

	ReadOnly    bool
	Entity      Entity
	Unit        string
	DeviceClass string
	Icon        string
}

// Writable is the inverse of ReadOnly.
func (v *Variable) Writable() bool {
	return !v.ReadOnly
}

// Wide reports whether the variable spans two registers.
func (v *Variable) Wide() bool {
	return v.LowRegister != 0
}

// Options returns enumeration labels ordered by raw code.
func (v *Variable) Options() []string {
	options := make([]string, 0, len(v.Labels))
	for code := 0; code < 256; code++ {
		if label, ok := v.Labels[byte(code)]; ok {
			options = append(options, label)
		}
	}
	return options
}

// Value is a decoded variable value. Which field is meaningful depends on
// Kind.
type Value struct {
	Kind   Kind
	Number float64
	On     bool
	Code   byte
	Label  string

	// Suspect marks a numeric reading outside the variable's valid range.
	Suspect bool
	// Unrecognized marks an enumeration code with no label.
	Unrecognized bool
}

func NumberValue(n float64) Value {
	return Value{Kind: Numeric, Number: n}
}

func BoolValue(on bool) Value {
	return Value{Kind: Bit, On: on}
}

func LabelValue(label string) Value {
	return Value{Kind: Enumerated, Label: label}
}

func (v Value) String() string {
	switch v.Kind {
	case Numeric:
		return fmt.Sprintf("%v", v.Number)
	case Bit:
		return fmt.Sprintf("%v", v.On)
	case Enumerated:
		if v.Unrecognized {
			return fmt.Sprintf("unrecognized(0x%02x)", v.Code)
		}
		return v.Label
	default:
		return "?"
	}
}

// Equal compares the semantic content of two values, ignoring flags.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case Numeric:
		return v.Number == o.Number
	case Bit:
		return v.On == o.On
	default:
		return v.Code == o.Code && v.Label == o.Label
	}
}
