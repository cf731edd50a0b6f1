package userfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"triarbiter/internal/models"
	"triarbiter/internal/wsconn"
)

// readAndAck drains one request frame and acks it by id - onConnect blocks
// on this ack for both auth and subscribe (spec §4.4).
func readAndAck(t *testing.T, conn *websocket.Conn) {
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var req struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &req))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": req.ID, "method": "ack", "code": 0}))
}

func orderUpdateServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// drain and ack the auth + subscribe requests sent by onConnect
		readAndAck(t, conn)
		readAndAck(t, conn)

		push := map[string]interface{}{
			"method": "subscribe",
			"result": map[string]interface{}{
				"channel":         "user.order",
				"instrument_name": "BTC_USDT",
				"data": []map[string]interface{}{
					{
						"order_id":            "42",
						"status":              "FILLED",
						"cumulative_quantity": "0.001",
						"cumulative_value":    "60.0",
						"avg_price":           "60000",
					},
				},
			},
		}
		require.NoError(t, conn.WriteJSON(push))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestClient_PublishesOrderUpdate(t *testing.T) {
	srv := orderUpdateServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := New(Config{
		URL: wsURL, APIKey: "key", SecretKey: "secret",
		ReconnectConfig: wsconn.Config{
			ConnectTimeout: time.Second, PingInterval: time.Hour, PongTimeout: time.Second,
			InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond,
		},
	})
	defer c.Close()

	_, ch := c.Subscribe()
	require.NoError(t, c.Connect(context.Background()))

	select {
	case state := <-ch:
		require.Equal(t, "42", state.OrderID)
		require.Equal(t, models.OrderStatusFilled, state.Status)
		require.True(t, state.AvgPrice.Equal(decimal.NewFromInt(60000)))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order update")
	}
}

func authRejectingServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var req struct {
			ID int64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &req))
		require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": req.ID, "method": "public/auth", "code": 40101}))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

// TestClient_ConnectFailsOnAuthRejection verifies that an exchange-rejected
// public/auth response is never silently dropped: Connect must return a
// models.KindError{Kind: AUTH} so the caller (main.go) can treat it as
// fatal (spec §4.4, §7).
func TestClient_ConnectFailsOnAuthRejection(t *testing.T) {
	srv := authRejectingServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := New(Config{
		URL: wsURL, APIKey: "key", SecretKey: "secret",
		ReconnectConfig: wsconn.Config{
			ConnectTimeout: time.Second, PingInterval: time.Hour, PongTimeout: time.Second,
			InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond,
		},
	})
	defer c.Close()

	err := c.Connect(context.Background())
	require.Error(t, err)

	var kindErr *models.KindError
	require.ErrorAs(t, err, &kindErr)
	require.Equal(t, models.ErrorKindAuth, kindErr.Kind)
}
