package bridge

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/victorjacobs/go-vallox/homeassistant"
	"github.com/victorjacobs/go-vallox/vallox"
)

// ErrInvalidCommand means a command payload could not be read as a value of
// the target variable's kind.
var ErrInvalidCommand = errors.New("bridge: invalid command")

var errQueueFull = errors.New("bridge: command queue full")

// FormatValue renders value the way it is published on the state topic.
func FormatValue(v *vallox.Variable, value vallox.Value) string {
	switch value.Kind {
	case vallox.Numeric:
		return strconv.FormatFloat(value.Number, 'f', v.Precision, 64)
	case vallox.Bit:
		if value.On {
			return homeassistant.PayloadOn
		}
		return homeassistant.PayloadOff
	default:
		return value.Label
	}
}

// ParseCommand reads a command payload into a value for v. Range checks are
// left to the registry.
func ParseCommand(v *vallox.Variable, payload string) (vallox.Value, error) {
	payload = strings.TrimSpace(payload)

	switch v.Kind {
	case vallox.Numeric:
		n, err := strconv.ParseFloat(payload, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return vallox.Value{}, fmt.Errorf("%w: %q is not a number", ErrInvalidCommand, payload)
		}
		return vallox.NumberValue(n), nil
	case vallox.Bit:
		switch strings.ToUpper(payload) {
		case homeassistant.PayloadOn, "1", "TRUE":
			return vallox.BoolValue(true), nil
		case homeassistant.PayloadOff, "0", "FALSE":
			return vallox.BoolValue(false), nil
		}
		return vallox.Value{}, fmt.Errorf("%w: %q is not ON or OFF", ErrInvalidCommand, payload)
	case vallox.Enumerated:
		if payload == "" {
			return vallox.Value{}, fmt.Errorf("%w: empty option", ErrInvalidCommand)
		}
		for _, option := range v.Options() {
			if option == payload {
				return vallox.LabelValue(option), nil
			}
		}
		for _, option := range v.Options() {
			if strings.EqualFold(option, payload) {
				return vallox.LabelValue(option), nil
			}
		}
		return vallox.LabelValue(payload), nil
	}

	return vallox.Value{}, fmt.Errorf("%w: unsupported kind %v", ErrInvalidCommand, v.Kind)
}
