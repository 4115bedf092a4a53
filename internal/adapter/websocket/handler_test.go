package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/racecontrol/internal/broadcast"
)

func newTestServer(t *testing.T, hub *broadcast.Hub, allowed []string) string {
	t.Helper()
	e := echo.New()
	h := NewHandler(hub, clockwork.NewRealClock(), NewCheckOrigin(allowed, false))
	e.GET("/ws", h.Serve)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *ws.Conn {
	t.Helper()
	conn, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForCount(t *testing.T, hub *broadcast.Hub, n int) {
	t.Helper()
	assert.Eventually(t, func() bool { return hub.Count() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ReceivesBroadcast(t *testing.T) {
	hub := broadcast.NewHub(nil)
	url := newTestServer(t, hub, []string{"*"})

	conn := dial(t, url)
	waitForCount(t, hub, 1)

	hub.Broadcast(`{"type":"session_started","session":{"name":"Round 1"}}`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ws.TextMessage, msgType)
	assert.JSONEq(t, `{"type":"session_started","session":{"name":"Round 1"}}`, string(data))
}

func TestHandler_ClientCloseDisconnects(t *testing.T) {
	hub := broadcast.NewHub(nil)
	url := newTestServer(t, hub, []string{"*"})

	conn := dial(t, url)
	waitForCount(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForCount(t, hub, 0)
}

func TestHandler_MultipleClients(t *testing.T) {
	hub := broadcast.NewHub(nil)
	url := newTestServer(t, hub, []string{"*"})

	a, b := dial(t, url), dial(t, url)
	waitForCount(t, hub, 2)

	hub.Broadcast("ping")

	for _, c := range []*ws.Conn{a, b} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "ping", string(data))
	}
}

func TestHandler_HubCloseSendsNormalClosure(t *testing.T) {
	hub := broadcast.NewHub(nil)
	url := newTestServer(t, hub, []string{"*"})

	conn := dial(t, url)
	waitForCount(t, hub, 1)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "got %v", err)
}

func TestHandler_RejectedOrigin(t *testing.T) {
	hub := broadcast.NewHub(nil)
	url := newTestServer(t, hub, []string{"https://control.example.com"})

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	conn, resp, err := ws.DefaultDialer.Dial(url, header)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.Count())
}

func TestSubscriber_SendAfterCloseFails(t *testing.T) {
	serverConn := make(chan *ws.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var up ws.Upgrader
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn <- c
	}))
	t.Cleanup(srv.Close)

	client := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	sub := newSubscriber(<-serverConn, clockwork.NewRealClock())
	assert.NotEmpty(t, sub.ID())

	require.NoError(t, sub.Send("one"))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	require.NoError(t, sub.Close("done"))
	assert.ErrorIs(t, sub.Send("two"), errSubscriberClosed)
	assert.ErrorIs(t, sub.Close("again"), errSubscriberClosed)

	_, _, err = client.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "got %v", err)
}
