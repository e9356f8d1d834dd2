// Package transport abstracts how envelopes reach a client. The websocket
// transport pushes frames from a writer goroutine; the poll transport keeps a
// mailbox that HTTP long-poll requests drain. Both share the same bounded
// queue and drop policy.
package transport

import (
	"errors"
	"fmt"

	"github.com/gofiber/contrib/websocket"

	"github.com/example/collab-realtime/domain/collab"
)

// Class tells the transport how important a frame is when the recipient is
// slow.
type Class int

const (
	// ClassControl frames (errors, acknowledgements, presence) are only dropped
	// when the queue is completely full.
	ClassControl Class = iota
	// ClassDurable frames carry persisted application messages.
	ClassDurable
	// ClassEphemeral frames (cursor, typing) are dropped first, once the queue
	// reaches its high-water mark.
	ClassEphemeral
)

// String returns the class name used in logs.
func (c Class) String() string {
	switch c {
	case ClassControl:
		return "control"
	case ClassDurable:
		return "durable"
	case ClassEphemeral:
		return "ephemeral"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ClassOf returns the delivery class of an envelope type.
func ClassOf(t collab.MessageType) Class {
	switch {
	case t.Ephemeral():
		return ClassEphemeral
	case t.Persistable():
		return ClassDurable
	}
	return ClassControl
}

// Transport kinds.
const (
	KindWebSocket = "websocket"
	KindPoll      = "poll"
)

// Transport errors. All of them wrap collab.ErrTransport.
var (
	ErrClosed    = fmt.Errorf("%w: transport closed", collab.ErrTransport)
	ErrQueueFull = fmt.Errorf("%w: send queue full", collab.ErrTransport)
	ErrDropped   = fmt.Errorf("%w: ephemeral frame dropped", collab.ErrTransport)
)

// CloseReason says why the server ended a session. Clients reconnect after
// any reason other than CloseNormal.
type CloseReason int

const (
	// CloseNormal ends a session the client asked to end, or one whose
	// handshake was rejected.
	CloseNormal CloseReason = iota
	// CloseGoingAway ends a session the server gave up on, e.g. a reaped
	// connection or a shutdown.
	CloseGoingAway
	// CloseInternalError ends a session after a failed write.
	CloseInternalError
)

// Code returns the websocket close code for r.
func (r CloseReason) Code() int {
	switch r {
	case CloseGoingAway:
		return websocket.CloseGoingAway
	case CloseInternalError:
		return websocket.CloseInternalServerErr
	}
	return websocket.CloseNormalClosure
}

// String returns the reason name used in logs.
func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "normal"
	case CloseGoingAway:
		return "going_away"
	case CloseInternalError:
		return "internal_error"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Transport delivers envelopes to one client. Send never blocks on the
// network; it enqueues or fails. Close is CloseWith(CloseNormal).
type Transport interface {
	Kind() string
	Send(env collab.Envelope, class Class) error
	Close() error
	CloseWith(reason CloseReason) error
}

// IsDrop reports whether err is a backpressure drop rather than a dead
// transport.
func IsDrop(err error) bool {
	return errors.Is(err, ErrDropped) || errors.Is(err, ErrQueueFull)
}
