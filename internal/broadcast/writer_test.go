package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}

func TestClientWriter_DeliversInOrder(t *testing.T) {
	server, client := newTestConnPair(t)

	cw := newClientWriter(server)
	t.Cleanup(cw.stop)

	for _, msg := range []string{"one", "two", "three"} {
		require.True(t, cw.enqueue([]byte(msg)))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range []string{"one", "two", "three"} {
		msgType, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, ws.TextMessage, msgType)
		assert.Equal(t, want, string(data))
	}
}

func TestClientWriter_PingFrame(t *testing.T) {
	server, client := newTestConnPair(t)

	cw := newClientWriter(server)
	t.Cleanup(cw.stop)

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		pinged <- struct{}{}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.True(t, cw.ping())

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("client never received ping")
	}
}

func TestClientWriter_FullBufferDrops(t *testing.T) {
	server, _ := newTestConnPair(t)

	// Not started, so nothing drains the buffer.
	cw := &clientWriter{
		connection:  server,
		sendChannel: make(chan outbound, messageBufferSize),
		doneChannel: make(chan struct{}),
	}

	for range messageBufferSize {
		require.True(t, cw.enqueue([]byte("x")))
	}
	assert.False(t, cw.enqueue([]byte("overflow")), "enqueue must not block on a full buffer")
	assert.False(t, cw.ping())
}

func TestClientWriter_EnqueueAfterStop(t *testing.T) {
	server, _ := newTestConnPair(t)

	cw := newClientWriter(server)
	cw.stop()

	assert.False(t, cw.enqueue([]byte("late")))
}

func TestClientWriter_StopIdempotent(t *testing.T) {
	server, _ := newTestConnPair(t)

	cw := newClientWriter(server)

	// Call stop multiple times - should not panic
	cw.stop()
	cw.stop()
	cw.stopGraceful(ws.CloseGoingAway, "bye")
}

func TestClientWriter_ConcurrentStop(t *testing.T) {
	server, _ := newTestConnPair(t)
	cw := newClientWriter(server)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.stop()
		}()
	}

	// Should complete without panic or deadlock
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent stop calls deadlocked")
	}
}

func TestClientWriter_GracefulStop(t *testing.T) {
	server, client := newTestConnPair(t)
	cw := newClientWriter(server)

	cw.stopGraceful(ws.CloseGoingAway, "server shutting down")

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()

	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "server shutting down", closeErr.Text)
}
