// Package resolver drives the asynchronous pipeline that turns an accepted
// ping into stored entry and mention rows, live events, and upstream relays.
package resolver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mentionhub/mentiond/internal/mention"
	"github.com/mentionhub/mentiond/internal/metrics"
	"github.com/mentionhub/mentiond/internal/relay"
	"github.com/mentionhub/mentiond/internal/store"
)

// Notifier delivers an outbound webmention ping during salmention
// propagation. Implementations absorb their own failures.
type Notifier interface {
	Notify(ctx context.Context, batch *relay.Batch, source, target string)
}

// Publisher receives one event per first-time mention creation.
type Publisher interface {
	Publish(view store.MentionView)
}

// Deps wires a Resolver. Fetcher, Extractor, Repo, and Clock are required;
// Notifier and Live may be nil to disable relaying and live events.
type Deps struct {
	Fetcher   mention.Fetcher
	Extractor mention.Extractor
	Repo      store.MentionRepository
	Notifier  Notifier
	Live      Publisher
	Clock     mention.Clock
	Logger    *zap.Logger
	MaxDepth  int
}

// Resolver executes resolution passes. Passes sharing a source URL are
// serialized; distinct sources run concurrently.
type Resolver struct {
	fetcher   mention.Fetcher
	extractor mention.Extractor
	repo      store.MentionRepository
	notifier  Notifier
	live      Publisher
	clock     mention.Clock
	logger    *zap.Logger
	locks     *keyLock
	maxDepth  int
}

// New constructs a Resolver.
func New(d Deps) (*Resolver, error) {
	if d.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if d.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if d.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if d.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxDepth <= 0 {
		d.MaxDepth = 2
	}
	return &Resolver{
		fetcher:   d.Fetcher,
		extractor: d.Extractor,
		repo:      d.Repo,
		notifier:  d.Notifier,
		live:      d.Live,
		clock:     d.Clock,
		logger:    d.Logger,
		locks:     newKeyLock(),
		maxDepth:  d.MaxDepth,
	}, nil
}

// Resolve runs one full resolution pass for an accepted ping, including the
// salmention fan-out. A failure leaves previously stored state untouched.
func (r *Resolver) Resolve(ctx context.Context, ping mention.Ping) error {
	batch := relay.NewBatch()
	_, err := r.resolveSource(ctx, ping.Source, ping.Target, 0, batch)
	if err != nil {
		metrics.ObserveResolution(string(mention.StateFailed))
		return err
	}
	metrics.ObserveResolution(string(mention.StateResolved))
	return nil
}

func (r *Resolver) resolveSource(
	ctx context.Context,
	source string,
	target string,
	depth int,
	batch *relay.Batch,
) (mention.Extraction, error) {
	log := r.logger.With(zap.String("source", source), zap.Int("depth", depth))
	unlock := r.locks.Lock(mention.CanonicalKey(source))
	locked := true
	defer func() {
		if locked {
			unlock()
		}
	}()

	log.Debug("resolution state", zap.String("state", string(mention.StateFetching)))
	resp, err := r.fetcher.Fetch(ctx, mention.FetchRequest{URL: source})
	if err != nil {
		metrics.ObserveFetch("failed")
		log.Warn("source fetch failed", zap.Error(err))
		return mention.Extraction{}, err
	}
	metrics.ObserveFetch("ok")

	log.Debug("resolution state", zap.String("state", string(mention.StateExtracting)))
	base := resp.URL
	if base == "" {
		base = source
	}
	ext, err := r.extractor.Extract(resp.Body, base, target)
	if err != nil {
		log.Warn("extraction failed", zap.Error(err))
		return mention.Extraction{}, err
	}

	targets := append([]mention.Target(nil), ext.Targets...)
	targets = append(targets, r.commentTargets(ctx, log, ext.Comments)...)

	log.Debug("resolution state", zap.String("state", string(mention.StateReconciling)))
	result, err := r.repo.Reconcile(ctx, store.ResolvedSource{
		URL:       source,
		Author:    ext.Author,
		Name:      ext.Name,
		Summary:   ext.Summary,
		Content:   ext.Content,
		Targets:   targets,
		Raw:       string(resp.Body),
		MFVersion: ext.MFVersion,
	})

	// The per-source lock only protects fetch through reconcile. It must be
	// released before the salmention hops so cyclic document graphs cannot
	// deadlock on re-entry.
	unlock()
	locked = false

	if err != nil {
		log.Error("reconciliation failed", zap.Error(err))
		return mention.Extraction{}, err
	}

	if r.live != nil && len(result.Created) > 0 {
		view := store.Project(result.Entry, result.Targets)
		for range result.Created {
			r.live.Publish(view)
		}
	}

	log.Info("resolution state",
		zap.String("state", string(mention.StateResolved)),
		zap.Int("targets", len(result.Targets)),
		zap.Int("created", len(result.Created)))

	if depth < r.maxDepth {
		r.salmention(ctx, log, target, ext, depth, batch)
	}
	return ext, nil
}

// commentTargets merges the target sets of linked comment and response
// pages. A page that cannot be fetched or parsed is skipped.
func (r *Resolver) commentTargets(ctx context.Context, log *zap.Logger, pages []string) []mention.Target {
	var merged []mention.Target
	for _, page := range pages {
		resp, err := r.fetcher.Fetch(ctx, mention.FetchRequest{URL: page})
		if err != nil {
			metrics.ObserveFetch("failed")
			log.Warn("comment page fetch failed", zap.String("page", page), zap.Error(err))
			continue
		}
		metrics.ObserveFetch("ok")
		ext, err := r.extractor.Extract(resp.Body, page, "")
		if err != nil {
			log.Warn("comment page extraction failed", zap.String("page", page), zap.Error(err))
			continue
		}
		merged = append(merged, ext.Targets...)
	}
	return merged
}

// salmention re-resolves the pages this pass referenced and relays a ping to
// each one's own upstream, so updates propagate along reply chains. Depth is
// bounded by hop count; each hop failure is absorbed.
func (r *Resolver) salmention(
	ctx context.Context,
	log *zap.Logger,
	target string,
	ext mention.Extraction,
	depth int,
	batch *relay.Batch,
) {
	refs := append([]string(nil), ext.PersonTags...)
	if target != "" && ext.Interaction != "" && ext.Interaction != mention.InteractionMention {
		refs = append(refs, target)
	}

	for _, ref := range refs {
		hop, err := r.resolveSource(ctx, ref, "", depth+1, batch)
		if err != nil {
			log.Warn("salmention hop failed", zap.String("ref", ref), zap.Error(err))
			continue
		}
		upstream := hop.Upstream()
		if upstream == "" || r.notifier == nil {
			continue
		}
		r.notifier.Notify(ctx, batch, ref, upstream)
	}
}
