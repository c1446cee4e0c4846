package bus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Transport is the raw byte link to the bus.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a fresh transport. The session calls it at startup and again
// after every transport loss.
type Dialer func(ctx context.Context) (Transport, error)

// SerialDialer opens an RS-485 adapter. The Vallox bus runs at 9600 8N1.
func SerialDialer(portName string, baudRate int) Dialer {
	return func(ctx context.Context) (Transport, error) {
		mode := &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}

		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", portName, err)
		}
		log.Infof("Opened serial port %s at %d baud", portName, baudRate)

		return port, nil
	}
}

// wsTransport reads a stream of bytes out of binary WebSocket messages, as
// sent by network serial bridges.
type wsTransport struct {
	conn *websocket.Conn
	buf  []byte
}

func (w *wsTransport) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
	}

	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsTransport) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsTransport) Close() error {
	return w.conn.Close()
}

// WebSocketDialer connects to a remote serial bridge at rawURL (ws:// or
// wss://).
func WebSocketDialer(rawURL string, header http.Header) Dialer {
	return func(ctx context.Context) (Transport, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, fmt.Errorf("unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, resp, err := dialer.DialContext(ctx, rawURL, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("websocket connection failed: %w", err)
		}
		log.Infof("Connected to serial bridge %s", u.Host)

		return &wsTransport{conn: conn}, nil
	}
}
