// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"encoding/json"
	"sync"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/modules/transport"
)

// Recorder is a transport that records every envelope it is asked to send.
type Recorder struct {
	mu     sync.Mutex
	frames []collab.Envelope
	closed bool
	reason transport.CloseReason
	// FailWith, when set, is returned by Send for every frame.
	FailWith error
}

var _ transport.Transport = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Kind returns "recorder".
func (r *Recorder) Kind() string { return "recorder" }

// Send records env.
func (r *Recorder) Send(env collab.Envelope, _ transport.Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return transport.ErrClosed
	}
	if r.FailWith != nil {
		return r.FailWith
	}
	r.frames = append(r.frames, env)
	return nil
}

// Close marks the recorder closed with transport.CloseNormal.
func (r *Recorder) Close() error {
	return r.CloseWith(transport.CloseNormal)
}

// CloseWith marks the recorder closed. The first reason is kept.
func (r *Recorder) CloseWith(reason transport.CloseReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.reason = reason
	}
	return nil
}

// CloseReason returns the reason passed to the first close.
func (r *Recorder) CloseReason() transport.CloseReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Frames returns a copy of every recorded envelope.
func (r *Recorder) Frames() []collab.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]collab.Envelope, len(r.frames))
	copy(out, r.frames)
	return out
}

// OfType returns the recorded envelopes of the given type.
func (r *Recorder) OfType(t collab.MessageType) []collab.Envelope {
	var out []collab.Envelope
	for _, env := range r.Frames() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// Types returns the types of recorded envelopes in order.
func (r *Recorder) Types() []collab.MessageType {
	frames := r.Frames()
	out := make([]collab.MessageType, len(frames))
	for i, env := range frames {
		out[i] = env.Type
	}
	return out
}

// Reset discards recorded envelopes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

// Decode unmarshals the data of env into v.
func Decode(env collab.Envelope, v any) error {
	return json.Unmarshal(env.Data, v)
}
