package trade

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *WSHub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Registration goes through the hub loop; wait until it lands.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, time.Second, 5*time.Millisecond)

	return conn
}

func TestWSHub_BroadcastReachesClient(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	conn := dialHub(t, hub)

	hub.Broadcast(WSMessage{Type: "tick", Data: map[string]string{"symbol": "AAPL"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"tick"`)
}

// Broadcasts and keepalive pings share one connection, so both must go
// through the per-client write mutex; interleaving them from different
// goroutines on a bare conn is a concurrent-write violation.
func TestWSHub_PingAndBroadcastShareWritePath(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	conn := dialHub(t, hub)

	var client *wsClient
	hub.mu.RLock()
	for c := range hub.clients {
		client = c
	}
	hub.mu.RUnlock()
	require.NotNil(t, client)

	// Drain the client side so server writes never stall on full buffers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				client.write(websocket.PingMessage, nil)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		hub.Broadcast(WSMessage{Type: "tick", Data: i})
	}
	wg.Wait()

	conn.Close()
	<-done
}
