package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/models"
)

func setupHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.AddClient(conn)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	return hub, conn
}

func TestNotifyReachesClient(t *testing.T) {
	hub, conn := setupHub(t)

	hub.Notify(models.Notification{Level: models.NotifySuccess, Message: "Successfully bought 1.00000000 Bitcoin for $100.00"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env struct {
		Type MessageType         `json:"type"`
		Data models.Notification `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, MessageNotification, env.Type)
	assert.Equal(t, models.NotifySuccess, env.Data.Level)
	assert.False(t, env.Data.At.IsZero())
}

func TestBroadcastDropsClosedClients(t *testing.T) {
	hub, conn := setupHub(t)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		hub.Broadcast(MessageMarket, map[string]int{"n": 1})
		return hub.ClientCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBroadcastDropsStalledClient(t *testing.T) {
	previous := writeWait
	writeWait = 200 * time.Millisecond
	t.Cleanup(func() { writeWait = previous })

	// The client never reads, so the socket buffers fill and writes stall.
	hub, _ := setupHub(t)
	payload := strings.Repeat("x", 1<<20)

	deadline := time.Now().Add(20 * time.Second)
	for hub.ClientCount() > 0 {
		require.True(t, time.Now().Before(deadline), "stalled client was never dropped")
		start := time.Now()
		hub.Broadcast(MessageMarket, payload)
		assert.Less(t, time.Since(start), 5*time.Second)
	}
}
