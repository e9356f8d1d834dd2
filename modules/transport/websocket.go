package transport

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/example/collab-realtime/domain/collab"
)

// FrameConn is the subset of a websocket connection the writer goroutine
// needs. *websocket.Conn from gofiber/contrib satisfies it.
type FrameConn interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WebSocketOptions configures a websocket transport.
type WebSocketOptions struct {
	QueueSize    int
	PingInterval time.Duration
	WriteWait    time.Duration
	// OnWriteError is called once when a write fails and the transport shuts
	// itself down.
	OnWriteError func(err error)
}

// WebSocket pushes envelopes to a websocket connection from a dedicated
// writer goroutine.
type WebSocket struct {
	conn FrameConn
	q    *queue
	opts WebSocketOptions

	done     chan struct{}
	reason   CloseReason
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket creates the transport and starts its writer goroutine.
func NewWebSocket(conn FrameConn, opts WebSocketOptions) *WebSocket {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 10 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	w := &WebSocket{
		conn: conn,
		q:    newQueue(opts.QueueSize),
		opts: opts,
		done: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writePump()
	return w
}

// Kind returns KindWebSocket.
func (w *WebSocket) Kind() string { return KindWebSocket }

// Send enqueues an envelope for the writer goroutine.
func (w *WebSocket) Send(env collab.Envelope, class Class) error {
	return w.q.push(env, class)
}

// Close stops the writer goroutine with a normal closure.
func (w *WebSocket) Close() error {
	return w.CloseWith(CloseNormal)
}

// CloseWith stops the writer goroutine. Frames already queued are flushed
// before a close frame carrying reason's code is written. Only the first call
// takes effect.
func (w *WebSocket) CloseWith(reason CloseReason) error {
	w.stopOnce.Do(func() {
		w.reason = reason
		w.q.close()
		close(w.done)
	})
	return nil
}

// Wait blocks until the writer goroutine has exited and the underlying
// connection is closed.
func (w *WebSocket) Wait() {
	w.wg.Wait()
}

// Pending returns the number of queued frames.
func (w *WebSocket) Pending() int { return w.q.len() }

// Dropped returns how many frames were discarded by backpressure.
func (w *WebSocket) Dropped() int64 { return w.q.dropped.Load() }

func (w *WebSocket) writePump() {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = w.conn.Close()
		w.wg.Done()
	}()

	for {
		select {
		case <-w.q.ready:
			if !w.flush() {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(w.opts.WriteWait)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				w.fail(err)
				return
			}
		case <-w.done:
			if w.flush() {
				deadline := time.Now().Add(w.opts.WriteWait)
				_ = w.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(w.reason.Code(), w.reason.String()), deadline)
			}
			return
		}
	}
}

// flush writes every queued envelope. It returns false after a write error.
func (w *WebSocket) flush() bool {
	for _, env := range w.q.drain(0) {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.opts.WriteWait))
		if err := w.conn.WriteJSON(env); err != nil {
			w.fail(err)
			return false
		}
	}
	return true
}

func (w *WebSocket) fail(err error) {
	_ = w.CloseWith(CloseInternalError)
	if w.opts.OnWriteError != nil {
		w.opts.OnWriteError(err)
	}
}
