package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/victorjacobs/go-vallox/vallox"
)

// PairWindow is how close together both halves of a 16-bit reading must
// arrive to be combined.
const PairWindow = 2 * time.Second

// Entry is the latest known value of one variable.
type Entry struct {
	ID       string
	Register byte
	Value    vallox.Value
	Raw      byte
	Updated  time.Time
	Stale    bool
}

// Store holds the device state. It is the only place decoded values live and
// every method is safe for concurrent use.
type Store struct {
	registry *vallox.Registry

	mu      sync.Mutex
	entries map[string]*Entry
	raw     map[byte]byte
	halves  map[byte]time.Time
	dirty   map[string]struct{}
}

func NewStore(registry *vallox.Registry) *Store {
	return &Store{
		registry: registry,
		entries:  make(map[string]*Entry),
		raw:      make(map[byte]byte),
		halves:   make(map[byte]time.Time),
		dirty:    make(map[string]struct{}),
	}
}

// Update overwrites the value of id, marks it dirty and clears its stale flag.
func (s *Store) Update(id string, value vallox.Value, raw byte, ts time.Time) error {
	v, ok := s.registry.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %v", vallox.ErrUnknownVariable, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.set(v, value, raw, ts)
	return nil
}

// UpdateRegister decodes raw for every variable carried by register and
// stores the results in one step. Values with decode errors (unknown
// enumeration codes) are stored anyway and the errors returned.
func (s *Store) UpdateRegister(register, raw byte, ts time.Time) error {
	if v, ok := s.registry.Wide(register); ok {
		s.updateHalf(v, register, raw, ts)
		return nil
	}

	decoded := s.registry.Decode(register, raw)
	if decoded == nil {
		return fmt.Errorf("%w: register 0x%02x", vallox.ErrUnknownVariable, register)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, d := range decoded {
		s.set(d.Variable, d.Value, raw, ts)
		if d.Err != nil {
			errs = append(errs, d.Err)
		}
	}
	return errors.Join(errs...)
}

// updateHalf records one byte of a 16-bit reading. The value changes only
// once the other half has been seen within PairWindow.
func (s *Store) updateHalf(v *vallox.Variable, register, raw byte, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.raw[register] = raw
	s.halves[register] = ts

	other := v.LowRegister
	if register == v.LowRegister {
		other = v.Register
	}
	seen, ok := s.halves[other]
	if !ok {
		return
	}
	if d := ts.Sub(seen); d >= PairWindow || d <= -PairWindow {
		return
	}

	value := v.DecodeWide(s.raw[v.Register], s.raw[v.LowRegister])
	s.set(v, value, raw, ts)
}

func (s *Store) set(v *vallox.Variable, value vallox.Value, raw byte, ts time.Time) {
	e, ok := s.entries[v.ID]
	if !ok {
		e = &Entry{ID: v.ID, Register: v.Register}
		s.entries[v.ID] = e
	}
	e.Value = value
	e.Raw = raw
	e.Updated = ts
	e.Stale = false

	if !v.Wide() {
		s.raw[v.Register] = raw
	}
	s.dirty[v.ID] = struct{}{}
}

func (s *Store) Read(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Raw returns the last byte read from register.
func (s *Store) Raw(register byte) (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.raw[register]
	return raw, ok
}

// TakeDirty returns every entry changed since the previous call, in registry
// order, and clears the dirty set.
func (s *Store) TakeDirty() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dirty) == 0 {
		return nil
	}

	entries := make([]Entry, 0, len(s.dirty))
	for _, v := range s.registry.Variables() {
		if _, ok := s.dirty[v.ID]; ok {
			entries = append(entries, *s.entries[v.ID])
		}
	}
	s.dirty = make(map[string]struct{})
	return entries
}

// MarkAllStale flags every entry as stale without dropping its value. It
// returns the number of entries affected.
func (s *Store) MarkAllStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		e.Stale = true
	}
	// Halves heard before the outage never pair with ones heard after it.
	s.halves = make(map[byte]time.Time)
	return len(s.entries)
}

// MarkAllDirty queues every known entry for publication again.
func (s *Store) MarkAllDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.entries {
		s.dirty[id] = struct{}{}
	}
}

// Snapshot returns a copy of all entries in registry order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.entries))
	for _, v := range s.registry.Variables() {
		if e, ok := s.entries[v.ID]; ok {
			entries = append(entries, *e)
		}
	}
	return entries
}

// StaleCount is the number of entries not refreshed since the last
// MarkAllStale.
func (s *Store) StaleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.Stale {
			n++
		}
	}
	return n
}
