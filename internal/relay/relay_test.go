package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mentionhub/mentiond/internal/mention"
)

type staticFetcher struct {
	responses map[string]mention.FetchResponse
}

func (f *staticFetcher) Fetch(_ context.Context, req mention.FetchRequest) (mention.FetchResponse, error) {
	resp, ok := f.responses[req.URL]
	if !ok {
		return mention.FetchResponse{}, &mention.FetchError{URL: req.URL, Failure: mention.FailureNetwork}
	}
	return resp, nil
}

func TestDiscoverEndpointHTMLBeatsHeader(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Add("Link", `<https://header.example/wm>; rel="webmention"`)
	body := []byte(`<html><head><link rel="webmention" href="/webmention"></head><body></body></html>`)

	endpoint := DiscoverEndpoint("https://site.example/post", headers, body)
	require.Equal(t, "https://site.example/webmention", endpoint)
}

func TestDiscoverEndpointLinkHeaderFallback(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Add("Link", `<https://site.example/other>; rel="preload", </wm>; rel="webmention"`)
	body := []byte(`<html><body>no endpoint here</body></html>`)

	endpoint := DiscoverEndpoint("https://site.example/post", headers, body)
	require.Equal(t, "https://site.example/wm", endpoint)
}

func TestDiscoverEndpointAnchorAndNone(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body><a rel="webmention" href="https://site.example/wm">ping me</a></body></html>`)
	require.Equal(t, "https://site.example/wm",
		DiscoverEndpoint("https://site.example/post", http.Header{}, body))

	require.Empty(t, DiscoverEndpoint("https://site.example/post", http.Header{},
		[]byte(`<html><body><a href="/x">plain</a></body></html>`)))
}

func TestNotifyPostsFormPing(t *testing.T) {
	t.Parallel()

	var gotSource, gotTarget atomic.Value
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotSource.Store(r.PostFormValue("source"))
		gotTarget.Store(r.PostFormValue("target"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer endpoint.Close()

	target := "http://upstream.example/post"
	fetcher := &staticFetcher{responses: map[string]mention.FetchResponse{
		target: {
			URL:  target,
			Body: []byte(`<html><head><link rel="webmention" href="` + endpoint.URL + `"></head></html>`),
		},
	}}

	r, err := New(Config{Enabled: true, Timeout: 2 * time.Second}, fetcher, zap.NewNop())
	require.NoError(t, err)

	r.Notify(context.Background(), NewBatch(), "http://reply.example/note", target)
	require.Equal(t, "http://reply.example/note", gotSource.Load())
	require.Equal(t, target, gotTarget.Load())
}

func TestNotifyBatchDeduplicatesPairs(t *testing.T) {
	t.Parallel()

	var posts atomic.Int64
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	target := "http://upstream.example/post"
	fetcher := &staticFetcher{responses: map[string]mention.FetchResponse{
		target: {
			URL:  target,
			Body: []byte(`<html><head><link rel="webmention" href="` + endpoint.URL + `"></head></html>`),
		},
	}}

	r, err := New(Config{Enabled: true, Timeout: 2 * time.Second}, fetcher, zap.NewNop())
	require.NoError(t, err)

	batch := NewBatch()
	r.Notify(context.Background(), batch, "http://reply.example/note", target)
	r.Notify(context.Background(), batch, "http://reply.example/note", target)
	require.Equal(t, int64(1), posts.Load())

	// A fresh batch represents a new resolution pass and may ping again.
	r.Notify(context.Background(), NewBatch(), "http://reply.example/note", target)
	require.Equal(t, int64(2), posts.Load())
}

func TestNotifyAbsorbsFailures(t *testing.T) {
	t.Parallel()

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer endpoint.Close()

	target := "http://upstream.example/post"
	fetcher := &staticFetcher{responses: map[string]mention.FetchResponse{
		target: {
			URL:  target,
			Body: []byte(`<html><head><link rel="webmention" href="` + endpoint.URL + `"></head></html>`),
		},
	}}

	r, err := New(Config{Enabled: true, Timeout: 2 * time.Second}, fetcher, zap.NewNop())
	require.NoError(t, err)

	// Endpoint errors, discovery failures, and missing endpoints must not panic
	// or propagate.
	r.Notify(context.Background(), NewBatch(), "http://reply.example/note", target)
	r.Notify(context.Background(), NewBatch(), "http://reply.example/note", "http://unreachable.example/")
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()

	fetcher := &staticFetcher{responses: map[string]mention.FetchResponse{}}
	r, err := New(Config{Enabled: false}, fetcher, zap.NewNop())
	require.NoError(t, err)

	// Fetcher has no responses; a fetch attempt would be recorded as a
	// network failure, but disabled relays never touch it.
	r.Notify(context.Background(), NewBatch(), "http://a.example/", "http://b.example/")
}
