package vallox

import "errors"

// Scanner extracts telegrams from a continuous byte stream. The bus has no
// delimiter beyond the fixed frame length, so on a bad window the scanner
// drops a single byte and tries again from the next offset.
type Scanner struct {
	buf     []byte
	dropped int
}

// Feed appends bytes read from the transport.
func (s *Scanner) Feed(p []byte) {
	s.buf = append(s.buf, p...)
}

// Next returns the next telegram in the buffer. ErrShortFrame means the
// buffer is exhausted. A *FrameError means one byte was discarded; call Next
// again to continue.
func (s *Scanner) Next() (Telegram, error) {
	t, err := Decode(s.buf)
	switch {
	case err == nil:
		s.consume(TelegramLength)
		return t, nil
	case errors.Is(err, ErrShortFrame):
		return Telegram{}, err
	default:
		s.consume(1)
		s.dropped++
		return Telegram{}, err
	}
}

// Dropped is the number of bytes discarded while resynchronizing.
func (s *Scanner) Dropped() int {
	return s.dropped
}

// Buffered is the number of bytes waiting for a complete frame.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// Reset discards any partial frame, e.g. after the transport reconnects.
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
}

func (s *Scanner) consume(n int) {
	rest := copy(s.buf, s.buf[n:])
	s.buf = s.buf[:rest]
}
