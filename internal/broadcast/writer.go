package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeDeadline     = 5 * time.Second
	messageBufferSize = 32
)

type frameKind int

const (
	frameText frameKind = iota
	framePing
)

type outbound struct {
	kind frameKind
	data []byte
}

// clientWriter owns all writes to one socket.
// Socket deadlines use wall time; they guard real I/O, not protocol timing.
type clientWriter struct {
	connection  *websocket.Conn
	sendChannel chan outbound
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newClientWriter(connection *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		connection:  connection,
		sendChannel: make(chan outbound, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			if err := cw.write(msg); err != nil {
				// Closing unblocks the reader, which unregisters the connection.
				_ = cw.connection.Close()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

func (cw *clientWriter) write(msg outbound) error {
	cw.updateWriteDeadline()
	switch msg.kind {
	case framePing:
		return cw.connection.WriteMessage(websocket.PingMessage, nil)
	default:
		return cw.connection.WriteMessage(websocket.TextMessage, msg.data)
	}
}

// enqueue queues a text frame without blocking. It returns false when the
// buffer is full or the writer has stopped.
func (cw *clientWriter) enqueue(data []byte) bool {
	return cw.offer(outbound{kind: frameText, data: data})
}

func (cw *clientWriter) ping() bool {
	return cw.offer(outbound{kind: framePing})
}

func (cw *clientWriter) offer(msg outbound) bool {
	select {
	case <-cw.doneChannel:
		return false
	default:
	}

	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a WebSocket close frame with code and reason before closing.
func (cw *clientWriter) stopGraceful(code int, reason string) {
	cw.stopOnce.Do(func() {
		// Signal the run goroutine to exit first
		close(cw.doneChannel)

		// Wait for run goroutine to exit before writing close frame
		// This prevents concurrent writes to the WebSocket connection
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(code, reason)
		_ = cw.connection.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeDeadline))

		_ = cw.connection.Close()
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
}
