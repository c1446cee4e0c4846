package bus

import (
	"fmt"
	"time"

	"github.com/victorjacobs/go-vallox/vallox"
)

type Op int

const (
	Read Op = iota
	Write
)

func (o Op) String() string {
	if o == Write {
		return "write"
	}
	return "read"
}

// RequestState is the position of a request in its lifecycle:
// Idle -> Sent -> Matched | TimedOut, TimedOut -> Sent | Failed.
type RequestState int

const (
	Idle RequestState = iota
	Sent
	Matched
	TimedOut
	Failed
)

func (s RequestState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sent:
		return "sent"
	case Matched:
		return "matched"
	case TimedOut:
		return "timed out"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request is the single outstanding conversation with the device. Writes
// carry the variable and value so the confirming read can be checked and the
// raw byte re-encoded against the latest register contents.
type Request struct {
	Register byte
	Op       Op
	Variable *vallox.Variable
	Value    vallox.Value
	Raw      byte

	State    RequestState
	Attempts int
	Issued   time.Time
	Err      error

	deadline time.Time
}

func NewRead(register byte) *Request {
	return &Request{Register: register, Op: Read}
}

func NewWrite(v *vallox.Variable, value vallox.Value) *Request {
	return &Request{Register: v.Register, Op: Write, Variable: v, Value: value}
}

// Send moves the request to Sent and starts the response timer.
func (r *Request) Send(now time.Time, timeout time.Duration) error {
	if r.State != Idle && r.State != TimedOut {
		return fmt.Errorf("request 0x%02x: cannot send in state %v", r.Register, r.State)
	}
	if r.Attempts == 0 {
		r.Issued = now
	}
	r.Attempts++
	r.State = Sent
	r.deadline = now.Add(timeout)
	return nil
}

// Deadline is when the current attempt times out.
func (r *Request) Deadline() time.Time {
	return r.deadline
}

// Answers reports whether t is the response to this request: sent by the
// device to us, carrying the requested register.
func (r *Request) Answers(t vallox.Telegram, device, self vallox.Address) bool {
	return r.State == Sent &&
		!t.IsPoll() &&
		t.Sender == device &&
		t.Receiver == self &&
		t.Variable == r.Register
}

// Match completes the attempt with the raw value read back. A read always
// matches; a write matches only when raw shows the requested value, otherwise
// the attempt counts as failed.
func (r *Request) Match(raw byte, maxAttempts int) RequestState {
	if r.Op == Read || r.Variable.Confirms(r.Value, raw) {
		r.State = Matched
		r.Err = nil
		return r.State
	}
	return r.fail(ErrNotConfirmed, maxAttempts)
}

// Expire times out the current attempt if its deadline has passed.
func (r *Request) Expire(now time.Time, maxAttempts int) RequestState {
	if r.State != Sent || now.Before(r.deadline) {
		return r.State
	}
	return r.fail(ErrTimeout, maxAttempts)
}

// Cancel abandons the request, e.g. when the transport goes away.
func (r *Request) Cancel(err error) {
	r.State = Failed
	r.Err = err
}

func (r *Request) fail(cause error, maxAttempts int) RequestState {
	if r.Attempts >= maxAttempts {
		r.State = Failed
		r.Err = fmt.Errorf("%w after %d attempts: %w", ErrVariableUnavailable, r.Attempts, cause)
		return r.State
	}
	r.State = TimedOut
	r.Err = cause
	return r.State
}

// Terminal reports whether the slot can be released.
func (r *Request) Terminal() bool {
	return r.State == Matched || r.State == Failed
}

func (r *Request) String() string {
	if r.Op == Write {
		return fmt.Sprintf("write %v=%v (0x%02x) [%v, attempt %d]", r.Variable.ID, r.Value, r.Raw, r.State, r.Attempts)
	}
	return fmt.Sprintf("read 0x%02x [%v, attempt %d]", r.Register, r.State, r.Attempts)
}
