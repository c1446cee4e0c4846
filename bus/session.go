package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/victorjacobs/go-vallox/state"
	"github.com/victorjacobs/go-vallox/vallox"
)

type Config struct {
	// Address is the panel address the bridge talks as.
	Address vallox.Address
	// Device is the mainboard being polled.
	Device vallox.Address

	Timeout      time.Duration
	MaxAttempts  int
	PollDelay    time.Duration
	PassInterval time.Duration

	// EchoToPanels repeats every write to the panel group on behalf of the
	// mainboard so wall panels show the new value right away.
	EchoToPanels bool

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Address:           vallox.ThisPanel,
		Device:            vallox.Mainboard1,
		Timeout:           500 * time.Millisecond,
		MaxAttempts:       3,
		PollDelay:         100 * time.Millisecond,
		PassInterval:      30 * time.Second,
		EchoToPanels:      true,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

type EventKind int

const (
	EventRequestFailed EventKind = iota
	EventWriteConfirmed
	EventPassComplete
	EventTransportLost
	EventTransportRestored
)

func (k EventKind) String() string {
	switch k {
	case EventRequestFailed:
		return "request failed"
	case EventWriteConfirmed:
		return "write confirmed"
	case EventPassComplete:
		return "pass complete"
	case EventTransportLost:
		return "transport lost"
	case EventTransportRestored:
		return "transport restored"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event tells the bridge about things the store alone cannot express.
type Event struct {
	Kind     EventKind
	Op       Op
	Register byte
	Variable string
	// Full marks the completion of a pass requested with RequestFullPass.
	Full bool
	Err  error
}

// Observer sees all bus traffic. Calls happen on the session goroutines and
// must not block.
type Observer interface {
	FrameReceived(frame []byte, err error)
	FrameSent(frame []byte)
	RequestDone(r *Request)
}

var (
	errStopped   = errors.New("bus: reader stopped")
	errRestarted = errors.New("bus: session restarted")
)

// Session owns the transport and keeps at most one request in flight.
type Session struct {
	cfg       Config
	registry  *vallox.Registry
	store     *state.Store
	dial      Dialer
	observers []Observer
	events    chan Event
	registers []byte

	// OnTransition, when set, is called after every request state change.
	OnTransition func(r *Request)

	mu       sync.Mutex
	writes   []*Request
	fullPass bool
	wake     chan struct{}

	// Owned by the Run goroutine.
	runs     int
	conn     Transport
	pending  *Request
	cursor   int
	nextPoll time.Time
	inFull   bool
	echoes   []vallox.Telegram
}

func NewSession(cfg Config, registry *vallox.Registry, store *state.Store, dial Dialer, observers ...Observer) *Session {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return &Session{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		dial:      dial,
		observers: observers,
		events:    make(chan Event, 256),
		registers: registry.Registers(),
		wake:      make(chan struct{}, 1),
	}
}

// Events delivers failures, confirmations, pass completions and transport
// changes.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Open dials the transport. Its error is the only fatal one; everything
// after it is retried by Run.
func (s *Session) Open(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.conn = conn
	s.RequestFullPass()
	return nil
}

// RequestFullPass polls every register once, right away, and reports an
// EventPassComplete with Full set when done.
func (s *Session) RequestFullPass() {
	s.mu.Lock()
	s.fullPass = true
	s.mu.Unlock()
	s.notify()
}

// Write validates value against the variable and queues it. Writes are sent
// in arrival order ahead of any scheduled poll. The outcome is reported as
// an event once the device has been read back.
func (s *Session) Write(id string, value vallox.Value) error {
	v, ok := s.registry.Lookup(id)
	if !ok {
		return &vallox.EncodingError{Variable: id, Err: vallox.ErrUnknownVariable}
	}

	var current *byte
	if raw, ok := s.store.Raw(v.Register); ok {
		current = &raw
	}
	if _, err := v.Encode(value, current); err != nil {
		return err
	}

	s.mu.Lock()
	s.writes = append(s.writes, NewWrite(v, value))
	s.mu.Unlock()
	s.notify()
	return nil
}

// QueuedWrites is the number of writes not yet sent.
func (s *Session) QueuedWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *Session) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the bus until ctx is done, reconnecting whenever the transport
// fails.
func (s *Session) Run(ctx context.Context) error {
	if s.conn == nil {
		return ErrNotOpen
	}

	s.runs++
	if s.runs > 1 {
		// An earlier run was cut short. Its reader may still hold bytes from
		// the old transport, so start over on a fresh one.
		s.conn.Close()
		s.lost(errRestarted)
		if !s.reconnect(ctx) {
			return nil
		}
	}

	for {
		err := s.serve(ctx, s.conn)
		s.conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		s.lost(err)

		if !s.reconnect(ctx) {
			return nil
		}
	}
}

// reconnect replaces the transport. It reports false once ctx is done.
func (s *Session) reconnect(ctx context.Context) bool {
	conn, err := s.redial(ctx)
	if err != nil {
		return false
	}
	s.conn = conn

	log.Info("Bus transport restored")
	s.emit(Event{Kind: EventTransportRestored})
	s.RequestFullPass()
	return true
}

func (s *Session) redial(ctx context.Context) (Transport, error) {
	delay := s.cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		conn, err := s.dial(ctx)
		if err == nil {
			return conn, nil
		}
		log.WithError(err).Warnf("Reconnecting to bus failed, retrying in %v", delay)

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

func (s *Session) lost(cause error) {
	log.WithError(cause).Error("Bus transport lost")

	s.inFull = false
	if p := s.pending; p != nil {
		p.Cancel(ErrTransportLost)
		s.transition(p)
		s.finish(p, time.Now())
	}
	s.echoes = nil

	n := s.store.MarkAllStale()
	log.Infof("Marked %d values stale", n)

	s.emit(Event{Kind: EventTransportLost, Err: fmt.Errorf("%w: %w", ErrTransportLost, cause)})
}

func (s *Session) serve(ctx context.Context, conn Transport) error {
	frames := make(chan vallox.Telegram, 16)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		errc <- Sniff(conn, func(frame []byte, t vallox.Telegram, err error) error {
			for _, o := range s.observers {
				o.FrameReceived(frame, err)
			}
			if err != nil {
				log.WithError(err).Debug("Resynchronizing")
				return nil
			}

			select {
			case frames <- t:
				return nil
			case <-stop:
				return errStopped
			}
		})
	}()

	for {
		if s.pending == nil {
			if err := s.dispatch(conn, time.Now()); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case t := <-frames:
			if err := s.handle(conn, t, time.Now()); err != nil {
				return err
			}
		case <-s.wake:
		case <-time.After(s.wait(time.Now())):
			if err := s.expire(conn, time.Now()); err != nil {
				return err
			}
		}
	}
}

// wait is how long the loop may sleep before it has something to do.
func (s *Session) wait(now time.Time) time.Duration {
	if s.pending != nil {
		return s.pending.Deadline().Sub(now)
	}

	s.mu.Lock()
	busy := len(s.writes) > 0 || s.fullPass
	s.mu.Unlock()
	if busy {
		return 0
	}

	if d := s.nextPoll.Sub(now); d > 0 {
		return d
	}
	return 0
}

// dispatch fills the empty slot: queued writes first, then the next poll
// once it is due.
func (s *Session) dispatch(conn Transport, now time.Time) error {
	s.mu.Lock()
	var next *Request
	if len(s.writes) > 0 {
		next = s.writes[0]
		s.writes = s.writes[1:]
	} else if s.fullPass {
		s.fullPass = false
		s.inFull = true
		s.cursor = 0
		s.nextPoll = now
	}
	s.mu.Unlock()

	if next == nil {
		if len(s.registers) == 0 {
			s.nextPoll = now.Add(s.cfg.PassInterval)
			return nil
		}
		if now.Before(s.nextPoll) {
			return nil
		}
		next = NewRead(s.registers[s.cursor])
	}

	return s.start(conn, next, now)
}

func (s *Session) start(conn Transport, r *Request, now time.Time) error {
	if err := r.Send(now, s.cfg.Timeout); err != nil {
		return err
	}
	s.pending = r
	return s.transmit(conn, r, now)
}

// transmit sends one attempt of r. Writes are re-encoded against the latest
// register contents so concurrent bit changes are not lost.
func (s *Session) transmit(conn Transport, r *Request, now time.Time) error {
	var telegrams []vallox.Telegram

	if r.Op == Write {
		var current *byte
		if raw, ok := s.store.Raw(r.Register); ok {
			current = &raw
		}
		raw, err := r.Variable.Encode(r.Value, current)
		if err != nil {
			r.Cancel(err)
			s.transition(r)
			s.finish(r, now)
			return nil
		}
		r.Raw = raw

		telegrams = append(telegrams, vallox.Telegram{
			Sender:   s.cfg.Address,
			Receiver: s.cfg.Device,
			Variable: r.Register,
			Data:     raw,
		})
		if s.cfg.EchoToPanels {
			telegrams = append(telegrams, vallox.Telegram{
				Sender:   s.cfg.Device,
				Receiver: vallox.AllPanels,
				Variable: r.Register,
				Data:     raw,
			})
		}
	}
	telegrams = append(telegrams, vallox.PollRequest(s.cfg.Address, s.cfg.Device, r.Register))

	s.transition(r)

	for _, t := range telegrams {
		frame := t.Encode()
		if _, err := conn.Write(frame); err != nil {
			return fmt.Errorf("send %v: %w", t, err)
		}
		s.remember(t)
		for _, o := range s.observers {
			o.FrameSent(frame)
		}
		log.Debugf("-> %v", t)
	}
	return nil
}

// remember keeps the last few telegrams we sent so that the copies heard
// back on the half-duplex line are not mistaken for device traffic.
func (s *Session) remember(t vallox.Telegram) {
	const keep = 8
	s.echoes = append(s.echoes, t)
	if len(s.echoes) > keep {
		s.echoes = s.echoes[len(s.echoes)-keep:]
	}
}

func (s *Session) isEcho(t vallox.Telegram) bool {
	for i, e := range s.echoes {
		if e == t {
			s.echoes = append(s.echoes[:i], s.echoes[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) handle(conn Transport, t vallox.Telegram, now time.Time) error {
	if s.isEcho(t) || t.Sender == s.cfg.Address {
		return nil
	}
	log.Debugf("<- %v", t)

	if t.IsPoll() {
		return nil
	}

	p := s.pending
	if p == nil || !p.Answers(t, s.cfg.Device, s.cfg.Address) {
		s.apply(t, now)
		return nil
	}

	s.apply(t, now)
	if p.Match(t.Data, s.cfg.MaxAttempts) == TimedOut {
		log.WithFields(log.Fields{
			"register": fmt.Sprintf("0x%02x", p.Register),
			"attempt":  p.Attempts,
		}).Warnf("Read back 0x%02x after writing 0x%02x, retrying", t.Data, p.Raw)
		return s.retry(conn, p, now)
	}
	s.transition(p)
	s.finish(p, now)
	return nil
}

func (s *Session) apply(t vallox.Telegram, now time.Time) {
	err := s.store.UpdateRegister(t.Variable, t.Data, now)
	switch {
	case err == nil:
	case errors.Is(err, vallox.ErrUnknownVariable):
		log.Debugf("Ignoring unknown register 0x%02x from %v", t.Variable, t.Sender)
	default:
		log.WithError(err).Warnf("Register 0x%02x decoded with errors", t.Variable)
	}
}

func (s *Session) expire(conn Transport, now time.Time) error {
	p := s.pending
	if p == nil {
		return nil
	}

	switch p.Expire(now, s.cfg.MaxAttempts) {
	case TimedOut:
		log.WithFields(log.Fields{
			"register": fmt.Sprintf("0x%02x", p.Register),
			"attempt":  p.Attempts,
		}).Debugf("%v timed out, retrying", p.Op)
		return s.retry(conn, p, now)
	case Failed:
		s.transition(p)
		s.finish(p, now)
	}
	return nil
}

func (s *Session) retry(conn Transport, p *Request, now time.Time) error {
	s.transition(p)
	if err := p.Send(now, s.cfg.Timeout); err != nil {
		return err
	}
	return s.transmit(conn, p, now)
}

// finish releases the slot and schedules the next poll.
func (s *Session) finish(p *Request, now time.Time) {
	s.pending = nil
	for _, o := range s.observers {
		o.RequestDone(p)
	}

	var id string
	if p.Variable != nil {
		id = p.Variable.ID
	}

	switch {
	case p.State == Failed:
		log.WithFields(log.Fields{
			"register": fmt.Sprintf("0x%02x", p.Register),
			"attempt":  p.Attempts,
		}).WithError(p.Err).Warnf("%v failed", p.Op)
		s.emit(Event{Kind: EventRequestFailed, Op: p.Op, Register: p.Register, Variable: id, Err: p.Err})
	case p.Op == Write:
		log.WithField("entity", id).Infof("Wrote %v", p.Value)
		s.emit(Event{Kind: EventWriteConfirmed, Op: Write, Register: p.Register, Variable: id})
	}

	if p.Op == Write {
		if gap := now.Add(s.cfg.PollDelay); s.nextPoll.Before(gap) {
			s.nextPoll = gap
		}
		return
	}

	s.cursor++
	if s.cursor < len(s.registers) {
		s.nextPoll = now.Add(s.cfg.PollDelay)
		return
	}

	s.cursor = 0
	s.nextPoll = now.Add(s.cfg.PassInterval)
	s.emit(Event{Kind: EventPassComplete, Full: s.inFull})
	if s.inFull {
		log.Info("Full poll pass complete")
	}
	s.inFull = false
}

func (s *Session) transition(r *Request) {
	if s.OnTransition != nil {
		s.OnTransition(r)
	}
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		log.Warnf("Dropping bus event %v, nobody is listening", e.Kind)
	}
}
