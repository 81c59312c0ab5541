package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mentionhub/mentiond/internal/mention"
	"github.com/mentionhub/mentiond/internal/relay"
	"github.com/mentionhub/mentiond/internal/store"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	errs      map[string]error
	calls     []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req mention.FetchRequest) (mention.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	f.mu.Unlock()
	if err, ok := f.errs[req.URL]; ok {
		return mention.FetchResponse{}, err
	}
	body, ok := f.responses[req.URL]
	if !ok {
		return mention.FetchResponse{}, &mention.FetchError{URL: req.URL, Failure: mention.FailureNetwork}
	}
	return mention.FetchResponse{URL: req.URL, StatusCode: 200, Body: body}, nil
}

type fakeExtractor struct {
	byBase map[string]mention.Extraction
}

func (f *fakeExtractor) Extract(_ []byte, base string, _ string) (mention.Extraction, error) {
	return f.byBase[base], nil
}

type fakeRepo struct {
	mu    sync.Mutex
	calls []store.ResolvedSource
}

func (r *fakeRepo) Reconcile(_ context.Context, src store.ResolvedSource) (store.ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, src)

	var targets []string
	var created []mention.Mention
	for i, t := range src.Targets {
		targets = append(targets, t.URL)
		created = append(created, mention.Mention{ID: int64(i + 1), URL: t.URL, Interaction: t.Interaction})
	}
	return store.ReconcileResult{
		Entry:   mention.Entry{ID: 1, URL: src.URL},
		Created: created,
		Targets: targets,
	}, nil
}

func (r *fakeRepo) ListMentions(context.Context, store.MentionFilter) ([]store.MentionView, error) {
	return nil, nil
}

func (r *fakeRepo) Close() {}

type fakeNotifier struct {
	mu    sync.Mutex
	pairs [][2]string
}

func (n *fakeNotifier) Notify(_ context.Context, _ *relay.Batch, source, target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pairs = append(n.pairs, [2]string{source, target})
}

type fakePublisher struct {
	mu    sync.Mutex
	views []store.MentionView
}

func (p *fakePublisher) Publish(view store.MentionView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, view)
}

func newResolver(t *testing.T, d Deps) *Resolver {
	t.Helper()
	if d.Clock == nil {
		d.Clock = fakeClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r, err := New(d)
	require.NoError(t, err)
	return r
}

func TestResolvePersistsAndPublishes(t *testing.T) {
	t.Parallel()

	source := "http://alice.example/post"
	target := "http://bob.example/note"

	fetcher := &fakeFetcher{responses: map[string][]byte{source: []byte("<html/>")}}
	extractor := &fakeExtractor{byBase: map[string]mention.Extraction{
		source: {
			Author:  mention.Author{Name: "Alice"},
			Targets: []mention.Target{{URL: target, Interaction: false, Kind: mention.InteractionMention}},
		},
	}}
	repo := &fakeRepo{}
	live := &fakePublisher{}

	r := newResolver(t, Deps{Fetcher: fetcher, Extractor: extractor, Repo: repo, Live: live})
	err := r.Resolve(context.Background(), mention.Ping{ID: "p1", Source: source, Target: target})
	require.NoError(t, err)

	require.Len(t, repo.calls, 1)
	require.Equal(t, source, repo.calls[0].URL)
	require.Equal(t, "Alice", repo.calls[0].Author.Name)
	require.Equal(t, "<html/>", repo.calls[0].Raw)
	require.Len(t, repo.calls[0].Targets, 1)

	require.Len(t, live.views, 1)
	require.Equal(t, source, live.views[0].URL)
	require.Equal(t, []string{target}, live.views[0].Targets)
}

func TestResolveFetchFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	source := "http://alice.example/gone"
	fetcher := &fakeFetcher{errs: map[string]error{
		source: &mention.FetchError{URL: source, Failure: mention.FailureStatus, StatusCode: 404},
	}}
	repo := &fakeRepo{}

	r := newResolver(t, Deps{Fetcher: fetcher, Extractor: &fakeExtractor{}, Repo: repo})
	err := r.Resolve(context.Background(), mention.Ping{Source: source, Target: "http://bob.example/note"})
	require.Error(t, err)

	var fetchErr *mention.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, mention.FailureStatus, fetchErr.Failure)
	require.Empty(t, repo.calls)
}

func TestResolveMergesCommentPageTargets(t *testing.T) {
	t.Parallel()

	source := "http://alice.example/post"
	comments := "http://alice.example/post/comments"

	fetcher := &fakeFetcher{responses: map[string][]byte{
		source:   []byte("<html/>"),
		comments: []byte("<html/>"),
	}}
	extractor := &fakeExtractor{byBase: map[string]mention.Extraction{
		source: {
			Targets:  []mention.Target{{URL: "http://bob.example/note"}},
			Comments: []string{comments},
		},
		comments: {
			Targets: []mention.Target{{URL: "http://carol.example/reply"}},
		},
	}}
	repo := &fakeRepo{}

	r := newResolver(t, Deps{Fetcher: fetcher, Extractor: extractor, Repo: repo})
	err := r.Resolve(context.Background(), mention.Ping{Source: source, Target: "http://bob.example/note"})
	require.NoError(t, err)

	require.Len(t, repo.calls, 1)
	var urls []string
	for _, tg := range repo.calls[0].Targets {
		urls = append(urls, tg.URL)
	}
	require.Equal(t, []string{"http://bob.example/note", "http://carol.example/reply"}, urls)
}

func TestResolveCommentFetchFailureIsSkipped(t *testing.T) {
	t.Parallel()

	source := "http://alice.example/post"
	fetcher := &fakeFetcher{responses: map[string][]byte{source: []byte("<html/>")}}
	extractor := &fakeExtractor{byBase: map[string]mention.Extraction{
		source: {
			Targets:  []mention.Target{{URL: "http://bob.example/note"}},
			Comments: []string{"http://unreachable.example/comments"},
		},
	}}
	repo := &fakeRepo{}

	r := newResolver(t, Deps{Fetcher: fetcher, Extractor: extractor, Repo: repo})
	err := r.Resolve(context.Background(), mention.Ping{Source: source, Target: "http://bob.example/note"})
	require.NoError(t, err)
	require.Len(t, repo.calls, 1)
	require.Len(t, repo.calls[0].Targets, 1)
}

func TestResolveSalmentionRelaysUpstream(t *testing.T) {
	t.Parallel()

	source := "http://alice.example/reply"
	target := "http://bob.example/post"
	upstream := "http://carol.example/original"

	fetcher := &fakeFetcher{responses: map[string][]byte{
		source: []byte("<html/>"),
		target: []byte("<html/>"),
	}}
	extractor := &fakeExtractor{byBase: map[string]mention.Extraction{
		source: {
			Interaction: mention.InteractionReply,
			ReplyTo:     []string{target},
			Targets:     []mention.Target{{URL: target, Interaction: true, Kind: mention.InteractionReply}},
		},
		target: {
			ReplyTo: []string{upstream},
			Targets: []mention.Target{{URL: upstream, Interaction: true, Kind: mention.InteractionReply}},
		},
	}}
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}

	r := newResolver(t, Deps{Fetcher: fetcher, Extractor: extractor, Repo: repo, Notifier: notifier})
	err := r.Resolve(context.Background(), mention.Ping{Source: source, Target: target})
	require.NoError(t, err)

	// The pinged target was re-resolved as a salmention hop.
	require.Len(t, repo.calls, 2)
	require.Equal(t, [][2]string{{target, upstream}}, notifier.pairs)
}

func TestResolveSalmentionDepthBound(t *testing.T) {
	t.Parallel()

	// a replies to b replies to c replies to d; with two hops allowed the
	// chain stops after c and d is never fetched.
	a, b, c, d := "http://a.example/", "http://b.example/", "http://c.example/", "http://d.example/"

	fetcher := &fakeFetcher{responses: map[string][]byte{
		a: []byte("<html/>"), b: []byte("<html/>"), c: []byte("<html/>"), d: []byte("<html/>"),
	}}
	extractor := &fakeExtractor{byBase: map[string]mention.Extraction{
		a: {Interaction: mention.InteractionReply, ReplyTo: []string{b}, PersonTags: []string{b}},
		b: {Interaction: mention.InteractionReply, ReplyTo: []string{c}, PersonTags: []string{c}},
		c: {Interaction: mention.InteractionReply, ReplyTo: []string{d}, PersonTags: []string{d}},
		d: {},
	}}
	repo := &fakeRepo{}

	r := newResolver(t, Deps{Fetcher: fetcher, Extractor: extractor, Repo: repo, MaxDepth: 2})
	err := r.Resolve(context.Background(), mention.Ping{Source: a, Target: b})
	require.NoError(t, err)

	require.Contains(t, fetcher.calls, c)
	require.NotContains(t, fetcher.calls, d)
}

func TestResolveSameSourceSerializes(t *testing.T) {
	t.Parallel()

	source := "http://alice.example/post"
	fetcher := &fakeFetcher{responses: map[string][]byte{source: []byte("<html/>")}}
	extractor := &fakeExtractor{byBase: map[string]mention.Extraction{
		source: {Targets: []mention.Target{{URL: "http://bob.example/note"}}},
	}}
	repo := &fakeRepo{}

	r := newResolver(t, Deps{Fetcher: fetcher, Extractor: extractor, Repo: repo})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Resolve(context.Background(), mention.Ping{Source: source, Target: "http://bob.example/note"})
		}()
	}
	wg.Wait()
	require.Len(t, repo.calls, 8)
}
