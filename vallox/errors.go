package vallox

import (
	"errors"
	"fmt"
)

var (
	// ErrShortFrame means the window holds fewer than TelegramLength bytes.
	ErrShortFrame = errors.New("vallox: need more bytes")

	// ErrInvalidFrame is wrapped by every FrameError.
	ErrInvalidFrame = errors.New("vallox: invalid frame")

	ErrUnknownVariable  = errors.New("vallox: unknown variable")
	ErrOutOfRange       = errors.New("vallox: value out of range")
	ErrReadOnlyVariable = errors.New("vallox: variable is read-only")
	ErrUnknownEnumValue = errors.New("vallox: unknown enumeration value")

	// ErrValueUnknown is returned when a bit variable is written before its
	// register has been read, so the other bits cannot be preserved.
	ErrValueUnknown = errors.New("vallox: register value not known yet")
)

// FrameError describes a window of bytes that failed validation. Callers
// resynchronize by dropping one byte and retrying.
type FrameError struct {
	Frame  []byte
	Reason string
}

func newFrameError(frame []byte, format string, args ...interface{}) *FrameError {
	return &FrameError{
		Frame:  append([]byte(nil), frame...),
		Reason: fmt.Sprintf(format, args...),
	}
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("invalid frame % x: %v", e.Frame, e.Reason)
}

func (e *FrameError) Unwrap() error {
	return ErrInvalidFrame
}

// EncodingError ties a registry failure to the variable it concerns.
type EncodingError struct {
	Variable string
	Err      error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%v: %v", e.Variable, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
