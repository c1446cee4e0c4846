package bus

import "errors"

var (
	// ErrTimeout is one attempt going unanswered within the request timeout.
	ErrTimeout = errors.New("bus: no response")

	// ErrVariableUnavailable is reported once a request has used up all of
	// its attempts. It is never fatal to the session.
	ErrVariableUnavailable = errors.New("bus: variable unavailable")

	// ErrNotConfirmed means the register read back after a write did not
	// hold the written value.
	ErrNotConfirmed = errors.New("bus: write not confirmed")

	ErrTransportLost = errors.New("bus: transport lost")
	ErrNotOpen       = errors.New("bus: transport not open")
)
