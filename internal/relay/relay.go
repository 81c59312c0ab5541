// Package relay sends outbound webmention pings to upstream pages during
// salmention propagation.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mentionhub/mentiond/internal/mention"
	"github.com/mentionhub/mentiond/internal/metrics"
)

// Config controls outbound relay behavior.
type Config struct {
	Enabled       bool
	Timeout       time.Duration
	UserAgent     string
	RatePerSecond float64
	Burst         int
}

// Batch tracks (source, target) pairs already notified within one resolution
// pass so cyclic salmention chains send at most one ping per pair.
type Batch struct {
	mu   sync.Mutex
	sent map[string]bool
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch {
	return &Batch{sent: map[string]bool{}}
}

func (b *Batch) claim(source, target string) bool {
	key := mention.CanonicalKey(source) + "\x00" + mention.CanonicalKey(target)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sent[key] {
		return false
	}
	b.sent[key] = true
	return true
}

// Relay discovers webmention endpoints and delivers pings to them. Failures
// are logged and absorbed; no relay outcome propagates to the inbound caller.
type Relay struct {
	cfg     Config
	fetcher mention.Fetcher
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Relay.
func New(cfg Config, fetcher mention.Fetcher, logger *zap.Logger) (*Relay, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Relay{
		cfg:     cfg,
		fetcher: fetcher,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger,
	}, nil
}

// Notify pings target's webmention endpoint that source links to it. The
// batch deduplicates pairs; a pair already claimed this pass is skipped.
func (r *Relay) Notify(ctx context.Context, batch *Batch, source, target string) {
	if !r.cfg.Enabled {
		return
	}
	if batch != nil && !batch.claim(source, target) {
		return
	}

	resp, err := r.fetcher.Fetch(ctx, mention.FetchRequest{URL: target})
	if err != nil {
		metrics.ObserveRelay("discovery_failed")
		r.logger.Warn("relay endpoint discovery fetch failed",
			zap.String("target", target), zap.Error(err))
		return
	}

	endpoint := DiscoverEndpoint(resp.URL, resp.Headers, resp.Body)
	if endpoint == "" {
		metrics.ObserveRelay("no_endpoint")
		r.logger.Debug("no webmention endpoint advertised", zap.String("target", target))
		return
	}

	if err := r.limiter.Wait(ctx); err != nil {
		metrics.ObserveRelay("canceled")
		return
	}
	if err := r.post(ctx, endpoint, source, target); err != nil {
		metrics.ObserveRelay("failed")
		r.logger.Warn("relay delivery failed",
			zap.String("endpoint", endpoint),
			zap.String("source", source),
			zap.String("target", target),
			zap.Error(err))
		return
	}
	metrics.ObserveRelay("sent")
	r.logger.Info("relayed webmention",
		zap.String("endpoint", endpoint),
		zap.String("source", source),
		zap.String("target", target))
}

func (r *Relay) post(ctx context.Context, endpoint, source, target string) error {
	form := url.Values{"source": {source}, "target": {target}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay endpoint returned %d", resp.StatusCode)
	}
	return nil
}
