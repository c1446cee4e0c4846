package bus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorjacobs/go-vallox/vallox"
)

// serialBridge replays frames as binary messages and echoes back whatever
// it receives.
func serialBridge(t *testing.T, messages [][]byte, received chan<- []byte) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		for _, m := range messages {
			conn.WriteMessage(websocket.BinaryMessage, m)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func authHeader() http.Header {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("admin", "secret")
	return r.Header
}

func TestWebSocketTransport(t *testing.T) {
	reply := vallox.Telegram{Sender: vallox.Mainboard1, Receiver: vallox.ThisPanel, Variable: vallox.RegisterFanSpeed, Data: 0x07}.Encode()
	received := make(chan []byte, 1)
	srv := serialBridge(t, [][]byte{reply[:2], reply[2:]}, received)

	conn, err := WebSocketDialer(wsURL(srv), authHeader())(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, vallox.TelegramLength)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, reply, buf)

	poll := vallox.PollRequest(vallox.ThisPanel, vallox.Mainboard1, vallox.RegisterFanSpeed).Encode()
	n, err := conn.Write(poll)
	require.NoError(t, err)
	assert.Equal(t, len(poll), n)
	assert.Equal(t, poll, <-received)
}

func TestWebSocketDialer_Errors(t *testing.T) {
	srv := serialBridge(t, nil, make(chan []byte))

	_, err := WebSocketDialer(wsURL(srv), nil)(context.Background())
	assert.ErrorContains(t, err, "HTTP 401")

	_, err = WebSocketDialer(srv.URL, nil)(context.Background())
	assert.ErrorContains(t, err, "unsupported URL scheme")

	_, err = WebSocketDialer("ws://%zz", nil)(context.Background())
	assert.ErrorContains(t, err, "invalid URL")
}
