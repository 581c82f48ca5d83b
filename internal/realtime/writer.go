package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const writeDeadline = 5 * time.Second

// connWriter owns all writes to one WebSocket connection. The hub enqueues
// frames without blocking; a dedicated goroutine drains the queue so a slow
// socket never stalls the hub loop. On overflow the oldest queued frames are
// dropped (best-effort delivery, drop-oldest).
type connWriter struct {
	conn     *websocket.Conn
	clock    clockwork.Clock
	sendCh   chan []byte
	doneCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	dead     atomic.Bool

	// onWriteError reports a failed write back into the hub. Called at most once.
	onWriteError func(err error)
}

func newConnWriter(conn *websocket.Conn, clock clockwork.Clock, bufferSize int, onWriteError func(err error)) *connWriter {
	cw := &connWriter{
		conn:         conn,
		clock:        clock,
		sendCh:       make(chan []byte, bufferSize),
		doneCh:       make(chan struct{}),
		onWriteError: onWriteError,
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *connWriter) run() {
	defer cw.wg.Done()
	defer cw.dead.Store(true)

	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				cw.dead.Store(true)
				if cw.onWriteError != nil {
					cw.onWriteError(err)
				}
				return
			}
		case <-cw.doneCh:
			cw.drain()
			return
		}
	}
}

// drain flushes frames already queued at shutdown so an error frame enqueued
// just before a close still reaches the client ahead of the close frame.
func (cw *connWriter) drain() {
	for {
		select {
		case msg := <-cw.sendCh:
			_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// enqueue queues one frame for delivery. It never blocks: when the queue is
// full the oldest entries are discarded to make room. Returns the number of
// dropped frames and whether msg was accepted (false once the writer died).
func (cw *connWriter) enqueue(msg []byte) (dropped int, ok bool) {
	if cw.dead.Load() {
		return 0, false
	}
	for {
		select {
		case cw.sendCh <- msg:
			return dropped, true
		default:
		}
		select {
		case <-cw.sendCh:
			dropped++
		default:
			// Queue drained between selects; retry the send.
		}
		if cw.dead.Load() {
			return dropped, false
		}
	}
}

// isDead reports whether the write goroutine has exited or a write failed,
// meaning the transport can no longer deliver. The cleanup sweeper uses this
// as its transport-readiness probe.
func (cw *connWriter) isDead() bool {
	return cw.dead.Load()
}

// stop tears the writer down without a close handshake (transport already gone).
func (cw *connWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneCh)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}

// closeWithCode performs a graceful close: the write goroutine is stopped
// first so the close frame is the last write on the connection.
func (cw *connWriter) closeWithCode(code int, reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneCh)
		cw.wg.Wait()

		msg := websocket.FormatCloseMessage(code, reason)
		_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
		_ = cw.conn.WriteMessage(websocket.CloseMessage, msg)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}
