package bus

import (
	"errors"
	"io"

	"github.com/victorjacobs/go-vallox/vallox"
)

// FrameFunc receives every frame seen on the wire. err is a
// *vallox.FrameError for windows that failed validation, in which case frame
// holds the rejected bytes. Returning an error stops Sniff.
type FrameFunc func(frame []byte, t vallox.Telegram, err error) error

// Sniff reads r until it fails, decoding telegrams and resynchronizing after
// bad bytes.
func Sniff(r io.Reader, fn FrameFunc) error {
	var (
		scanner vallox.Scanner
		buf     = make([]byte, 64)
	)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			scanner.Feed(buf[:n])

			for {
				t, err := scanner.Next()
				if errors.Is(err, vallox.ErrShortFrame) {
					break
				}

				var frame []byte
				var frameErr *vallox.FrameError
				if errors.As(err, &frameErr) {
					frame = frameErr.Frame
				} else {
					frame = t.Encode()
				}

				if err := fn(frame, t, err); err != nil {
					return err
				}
			}
		}

		if readErr != nil {
			return readErr
		}
	}
}
