// Package dispatcher manages worker fan-out over the ping queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/mentionhub/mentiond/internal/mention"
	"github.com/mentionhub/mentiond/internal/resolver"
)

// Dispatcher fans queue work out to a pool of resolution workers.
type Dispatcher struct {
	queue   mention.Queue
	workers []*resolver.Worker
}

// New creates a Dispatcher.
func New(queue mention.Queue, workers []*resolver.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until they all exit.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *resolver.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, ping mention.Ping) error {
	if err := d.queue.Enqueue(ctx, ping); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
