package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mentionhub/mentiond/internal/mention"
	"github.com/mentionhub/mentiond/internal/queue/memory"
	"github.com/mentionhub/mentiond/internal/resolver"
	"github.com/mentionhub/mentiond/internal/store"
)

type countingRepo struct {
	mu    sync.Mutex
	seen  map[string]bool
	count int
}

func (r *countingRepo) Reconcile(_ context.Context, src store.ResolvedSource) (store.ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = map[string]bool{}
	}
	r.seen[src.URL] = true
	r.count++
	return store.ReconcileResult{Entry: mention.Entry{URL: src.URL}}, nil
}

func (r *countingRepo) ListMentions(context.Context, store.MentionFilter) ([]store.MentionView, error) {
	return nil, nil
}

func (r *countingRepo) Close() {}

type okFetcher struct{}

func (okFetcher) Fetch(_ context.Context, req mention.FetchRequest) (mention.FetchResponse, error) {
	return mention.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte("<html/>")}, nil
}

type emptyExtractor struct{}

func (emptyExtractor) Extract([]byte, string, string) (mention.Extraction, error) {
	return mention.Extraction{}, nil
}

type tick struct{}

func (tick) Now() time.Time { return time.Unix(0, 0).UTC() }

func TestDispatcherDrainsQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	repo := &countingRepo{}

	res, err := resolver.New(resolver.Deps{
		Fetcher:   okFetcher{},
		Extractor: emptyExtractor{},
		Repo:      repo,
		Clock:     tick{},
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	workers := []*resolver.Worker{
		resolver.NewWorker(0, q, res, zap.NewNop()),
		resolver.NewWorker(1, q, res, zap.NewNop()),
	}
	d := New(q, workers)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	sources := []string{"http://a.example/1", "http://a.example/2", "http://b.example/1"}
	for i, src := range sources {
		require.NoError(t, d.Enqueue(ctx, mention.Ping{
			ID:     string(rune('a' + i)),
			Source: src,
			Target: "http://t.example/",
		}))
	}

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.count == len(sources)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}

	for _, src := range sources {
		require.True(t, repo.seen[src])
	}
}
