package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
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

func TestConnWriter_DeliversFrames(t *testing.T) {
	server, client := newTestConnPair(t)
	cw := newConnWriter(server, clockwork.NewRealClock(), 8, nil)
	t.Cleanup(cw.stop)

	dropped, ok := cw.enqueue([]byte(`{"type":"pong"}`))
	require.True(t, ok)
	assert.Equal(t, 0, dropped)

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(msg))
}

func TestConnWriter_DropsOldestOnOverflow(t *testing.T) {
	// No run goroutine: the queue fills exactly as enqueued so the
	// drop-oldest behaviour is observable deterministically.
	cw := &connWriter{
		clock:  clockwork.NewRealClock(),
		sendCh: make(chan []byte, 2),
		doneCh: make(chan struct{}),
	}

	for _, msg := range []string{"m1", "m2"} {
		dropped, ok := cw.enqueue([]byte(msg))
		require.True(t, ok)
		assert.Equal(t, 0, dropped)
	}

	dropped, ok := cw.enqueue([]byte("m3"))
	require.True(t, ok)
	assert.Equal(t, 1, dropped, "a full queue evicts the oldest frame")

	dropped, ok = cw.enqueue([]byte("m4"))
	require.True(t, ok)
	assert.Equal(t, 1, dropped)

	// The newest frames survive.
	assert.Equal(t, "m3", string(<-cw.sendCh))
	assert.Equal(t, "m4", string(<-cw.sendCh))
}

func TestConnWriter_EnqueueAfterStopIsRejected(t *testing.T) {
	server, _ := newTestConnPair(t)
	cw := newConnWriter(server, clockwork.NewRealClock(), 8, nil)

	cw.stop()
	assert.True(t, cw.isDead())

	_, ok := cw.enqueue([]byte("late"))
	assert.False(t, ok)
}

func TestConnWriter_CloseWithCodeFlushesQueuedFrames(t *testing.T) {
	server, client := newTestConnPair(t)
	cw := newConnWriter(server, clockwork.NewRealClock(), 8, nil)

	_, ok := cw.enqueue([]byte(`{"type":"error"}`))
	require.True(t, ok)
	cw.closeWithCode(CloseAuthFailure, "invalid authentication token")

	// The queued frame arrives ahead of the close frame.
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error"}`, string(msg))

	_, _, err = client.ReadMessage()
	require.Error(t, err)
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseAuthFailure, closeErr.Code)
}

func TestConnWriter_ReportsWriteFailureOnce(t *testing.T) {
	server, client := newTestConnPair(t)

	failures := make(chan error, 4)
	cw := newConnWriter(server, clockwork.NewRealClock(), 8, func(err error) {
		failures <- err
	})
	t.Cleanup(cw.stop)

	// Kill the transport underneath the writer.
	require.NoError(t, client.Close())
	require.NoError(t, server.Close())

	_, _ = cw.enqueue([]byte("doomed"))

	select {
	case err := <-failures:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("write failure was never reported")
	}
	assert.True(t, cw.isDead())
}
