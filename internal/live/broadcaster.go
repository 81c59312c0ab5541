// Package live fans freshly created mentions out to stream subscribers.
package live

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mentionhub/mentiond/internal/mention"
	"github.com/mentionhub/mentiond/internal/metrics"
	"github.com/mentionhub/mentiond/internal/store"
)

const (
	defaultBuffer   = 16
	dropLogInterval = 5 * time.Second
)

// Subscription is one live stream consumer. C closes when the subscription
// ends; Close is safe to call more than once.
type Subscription struct {
	C <-chan store.MentionView

	ch        chan store.MentionView
	site      string
	cancel    func()
	closeOnce sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.closeOnce.Do(s.cancel)
}

// Broadcaster delivers events to the current subscriber set. Delivery is
// fire-and-forget: there is no replay, and a subscriber whose buffer is full
// misses that one event.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	closed      bool

	logger      *zap.Logger
	dropped     atomic.Int64
	dropLimiter rateLimiter
}

// NewBroadcaster builds a Broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subscribers: map[*Subscription]struct{}{},
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
}

// Subscribe registers a consumer. site, when non-empty, restricts delivery to
// events whose entry host matches it ("www."-insensitively).
func (b *Broadcaster) Subscribe(site string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscription{
		ch:   make(chan store.MentionView, buffer),
		site: site,
	}
	sub.C = sub.ch
	sub.cancel = func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(sub.ch)
			metrics.DecLiveSubscribers()
		}
		b.mu.Unlock()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub
	}
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	metrics.IncLiveSubscribers()
	return sub
}

// Publish sends the event to every matching subscriber. It never blocks; a
// full subscriber buffer drops the event for that subscriber only.
func (b *Broadcaster) Publish(view store.MentionView) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		if sub.site != "" && !mention.SiteMatches(sub.site, view.URL) {
			continue
		}
		select {
		case sub.ch <- view:
		default:
			b.dropped.Add(1)
			if b.dropLimiter.Allow(time.Now()) {
				count := b.dropped.Swap(0)
				b.logger.Warn("live events dropped due to slow subscribers",
					zap.Int64("dropped", count))
			}
		}
	}
}

// Close detaches every subscriber and rejects future subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub.ch)
		metrics.DecLiveSubscribers()
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
