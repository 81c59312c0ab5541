// Package memory provides the in-process ping queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mentionhub/mentiond/internal/mention"
)

// ErrClosed reports an enqueue attempt after shutdown began.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan mention.Ping
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan mention.Ping, capacity),
	}
}

// Enqueue pushes a ping into the queue or returns if the context ends. The
// read lock excludes Close so the send cannot race a channel close; pings
// arriving after shutdown began get ErrClosed.
func (q *Queue) Enqueue(ctx context.Context, ping mention.Ping) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- ping:
		return nil
	}
}

// Dequeue pops the next ping, respecting context cancellation. ok is false
// when the queue has been closed and drained or the context ended.
func (q *Queue) Dequeue(ctx context.Context) (mention.Ping, bool) {
	select {
	case <-ctx.Done():
		return mention.Ping{}, false
	case ping, ok := <-q.ch:
		if !ok {
			return mention.Ping{}, false
		}
		return ping, true
	}
}

// Close closes the underlying channel for shutdown. Queued pings remain
// consumable until drained.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
