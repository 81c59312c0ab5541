package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/mentionhub/mentiond/internal/mention"
)

// Worker consumes accepted pings and runs resolution passes.
type Worker struct {
	id       int
	queue    mention.Queue
	resolver *Resolver
	logger   *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(id int, queue mention.Queue, r *Resolver, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{id: id, queue: queue, resolver: r, logger: logger}
}

// Run blocks, consuming pings until the context finishes or the queue closes.
// Resolution failures are logged; the worker keeps going.
func (w *Worker) Run(ctx context.Context) {
	log := w.logger.With(zap.Int("worker", w.id))
	for {
		ping, ok := w.queue.Dequeue(ctx)
		if !ok {
			return
		}
		log.Debug("dequeued ping",
			zap.String("ping_id", ping.ID),
			zap.String("source", ping.Source),
			zap.String("target", ping.Target))
		if err := w.resolver.Resolve(ctx, ping); err != nil {
			log.Warn("resolution failed",
				zap.String("ping_id", ping.ID),
				zap.String("source", ping.Source),
				zap.Error(err))
		}
	}
}
