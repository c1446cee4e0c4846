// Package capture records bus traffic to CBOR files for later inspection.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/victorjacobs/go-vallox/bus"
	"github.com/victorjacobs/go-vallox/vallox"
)

type Direction uint8

const (
	Received Direction = iota
	Sent
)

func (d Direction) String() string {
	if d == Sent {
		return "tx"
	}
	return "rx"
}

// Record is one frame as it crossed the wire. Invalid frames keep the bytes
// that were rejected.
type Record struct {
	Session   string    `cbor:"1,keyasint"`
	Time      time.Time `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	Frame     []byte    `cbor:"4,keyasint"`
	Valid     bool      `cbor:"5,keyasint"`
}

func (r Record) String() string {
	prefix := fmt.Sprintf("%v %v % x", r.Time.Format("15:04:05.000"), r.Direction, r.Frame)
	if !r.Valid {
		return prefix + "  invalid"
	}
	t, err := vallox.Decode(r.Frame)
	if err != nil {
		return fmt.Sprintf("%v  %v", prefix, err)
	}
	return fmt.Sprintf("%v  %v", prefix, t)
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Writer appends records to a stream. It is a bus.Observer; write errors are
// kept and reported by Err instead of interrupting the bus.
type Writer struct {
	session string
	now     func() time.Time

	mu  sync.Mutex
	enc *cbor.Encoder
	n   int
	err error
}

var _ bus.Observer = (*Writer)(nil)

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		session: uuid.NewString(),
		now:     time.Now,
		enc:     encMode.NewEncoder(w),
	}
}

// Session identifies all records written by this writer.
func (w *Writer) Session() string {
	return w.session
}

func (w *Writer) Write(d Direction, frame []byte, valid bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}

	err := w.enc.Encode(Record{
		Session:   w.session,
		Time:      w.now(),
		Direction: d,
		Frame:     frame,
		Valid:     valid,
	})
	if err != nil {
		w.err = fmt.Errorf("capture: %w", err)
		return w.err
	}
	w.n++
	return nil
}

// Count is the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) FrameReceived(frame []byte, err error) {
	_ = w.Write(Received, frame, err == nil)
}

func (w *Writer) FrameSent(frame []byte) {
	_ = w.Write(Sent, frame, true)
}

func (w *Writer) RequestDone(*bus.Request) {}

type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture: %w", err)
	}
	return rec, nil
}

// ReadAll reads records until the end of the stream.
func ReadAll(r io.Reader) ([]Record, error) {
	reader := NewReader(r)

	var records []Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
