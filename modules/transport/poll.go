package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/example/collab-realtime/domain/collab"
)

// MaxPollWait bounds a single long-poll request.
const MaxPollWait = 25 * time.Second

// Poll is a mailbox transport for clients that cannot hold a websocket. The
// client drains it with long-poll requests.
type Poll struct {
	q         *queue
	lastDrain atomic.Int64
}

var _ Transport = (*Poll)(nil)

// NewPoll creates a poll mailbox with the given capacity.
func NewPoll(queueSize int) *Poll {
	p := &Poll{q: newQueue(queueSize)}
	p.lastDrain.Store(time.Now().UnixNano())
	return p
}

// Kind returns KindPoll.
func (p *Poll) Kind() string { return KindPoll }

// Send enqueues an envelope in the mailbox.
func (p *Poll) Send(env collab.Envelope, class Class) error {
	return p.q.push(env, class)
}

// Close closes the mailbox. Pending drains return what is left, then
// ErrClosed.
func (p *Poll) Close() error {
	return p.CloseWith(CloseNormal)
}

// CloseWith closes the mailbox. Poll clients learn about the closure from
// ErrClosed, so the reason is not delivered.
func (p *Poll) CloseWith(CloseReason) error {
	p.q.close()
	return nil
}

// Drain returns up to max queued envelopes. When the mailbox is empty it waits
// up to wait for the first envelope to arrive. An empty result with a nil
// error means the wait elapsed.
func (p *Poll) Drain(ctx context.Context, max int, wait time.Duration) ([]collab.Envelope, error) {
	p.lastDrain.Store(time.Now().UnixNano())
	if out := p.q.drain(max); len(out) > 0 {
		return out, nil
	}
	if p.q.isClosed() {
		return nil, ErrClosed
	}
	if wait <= 0 {
		return nil, nil
	}
	if wait > MaxPollWait {
		wait = MaxPollWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-p.q.ready:
			// Another drain may have taken the frames first.
			if out := p.q.drain(max); len(out) > 0 {
				return out, nil
			}
		case <-p.q.closed:
			if out := p.q.drain(max); len(out) > 0 {
				return out, nil
			}
			return nil, ErrClosed
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// LastDrain returns the time of the most recent drain request.
func (p *Poll) LastDrain() time.Time {
	return time.Unix(0, p.lastDrain.Load())
}

// Pending returns the number of queued envelopes.
func (p *Poll) Pending() int { return p.q.len() }
