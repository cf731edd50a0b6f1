package wsconn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if conn.WriteMessage(mt, msg) != nil {
				return
			}
		}
	}))
}

func TestManager_ConnectAndSend(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	received := make(chan []byte, 1)
	m := New("test", wsURL, Config{
		ConnectTimeout: time.Second,
		PingInterval:   time.Hour,
		PongTimeout:    time.Second,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       50 * time.Millisecond,
	}, func(b []byte) { received <- b }, nil, nil)
	defer m.Close()

	require.NoError(t, m.Connect())
	require.True(t, m.IsConnected())

	require.NoError(t, m.Send(map[string]string{"hello": "world"}))

	select {
	case msg := <-received:
		require.Contains(t, string(msg), "hello")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestManager_SendWhenDisconnectedFails(t *testing.T) {
	m := New("test", "ws://127.0.0.1:1", DefaultConfig(), nil, nil, nil)
	err := m.Send(map[string]string{"x": "y"})
	require.Error(t, err)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "unknown", State(99).String())
}
