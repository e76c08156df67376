package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Receiver.Recv once every sender has closed and the
// queue is drained.
var ErrClosed = errors.New("stream: channel closed")

type queue struct {
	mu      sync.Mutex
	items   []Delta
	senders int
	closed  bool
	notify  chan struct{}
}

// Sender is the producing end of an unbounded delta channel. Background tasks
// hold their own clone; the channel closes when the last clone is closed.
type Sender struct {
	q    *queue
	done atomic.Bool
}

// Receiver is the single consuming end of a delta channel.
type Receiver struct {
	q *queue
}

// NewChannel creates an unbounded FIFO channel of deltas.
func NewChannel() (*Sender, *Receiver) {
	q := &queue{senders: 1, notify: make(chan struct{}, 1)}
	return &Sender{q: q}, &Receiver{q: q}
}

// Send enqueues d without blocking. It returns false if this sender or the
// channel is already closed.
func (s *Sender) Send(d Delta) bool {
	if d == nil || s.done.Load() {
		return false
	}
	s.q.mu.Lock()
	if s.q.closed {
		s.q.mu.Unlock()
		return false
	}
	s.q.items = append(s.q.items, d)
	s.q.mu.Unlock()
	s.q.wake()
	return true
}

// Clone returns a new sender sharing the channel.
func (s *Sender) Clone() *Sender {
	clone := &Sender{q: s.q}
	if s.done.Load() {
		clone.done.Store(true)
		return clone
	}
	s.q.mu.Lock()
	if s.q.closed {
		clone.done.Store(true)
	} else {
		s.q.senders++
	}
	s.q.mu.Unlock()
	return clone
}

// Close releases this sender. Closing twice is a no-op.
func (s *Sender) Close() {
	if s.done.Swap(true) {
		return
	}
	s.q.mu.Lock()
	s.q.senders--
	if s.q.senders <= 0 {
		s.q.closed = true
	}
	s.q.mu.Unlock()
	s.q.wake()
}

// Recv blocks until a delta is available, the channel is closed and drained,
// or ctx is done.
func (r *Receiver) Recv(ctx context.Context) (Delta, error) {
	for {
		r.q.mu.Lock()
		if len(r.q.items) > 0 {
			d := r.q.items[0]
			r.q.items[0] = nil
			r.q.items = r.q.items[1:]
			r.q.mu.Unlock()
			return d, nil
		}
		closed := r.q.closed
		r.q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		select {
		case <-r.q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pending returns the number of queued, unconsumed deltas.
func (r *Receiver) Pending() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}

func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
