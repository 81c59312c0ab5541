package live

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mentionhub/mentiond/internal/store"
)

func view(url string) store.MentionView {
	return store.MentionView{URL: url, Targets: []string{}, Interactions: []string{}}
}

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(zap.NewNop())
	defer b.Close()

	all := b.Subscribe("", 4)
	defer all.Close()
	filtered := b.Subscribe("example.org", 4)
	defer filtered.Close()
	other := b.Subscribe("elsewhere.example", 4)
	defer other.Close()

	b.Publish(view("https://www.example.org/post"))

	require.Equal(t, "https://www.example.org/post", (<-all.C).URL)
	require.Equal(t, "https://www.example.org/post", (<-filtered.C).URL)
	require.Empty(t, other.C)
}

func TestSubscribeAfterPublishSeesNothing(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(zap.NewNop())
	defer b.Close()

	b.Publish(view("https://example.org/post"))

	late := b.Subscribe("", 4)
	defer late.Close()
	require.Empty(t, late.C)
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(zap.NewNop())
	defer b.Close()

	sub := b.Subscribe("", 1)
	defer sub.Close()

	b.Publish(view("https://example.org/one"))
	b.Publish(view("https://example.org/two"))

	require.Equal(t, "https://example.org/one", (<-sub.C).URL)
	require.Empty(t, sub.C)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(zap.NewNop())
	sub := b.Subscribe("", 1)
	b.Close()

	_, ok := <-sub.C
	require.False(t, ok)

	// Subscribing after close yields an already-closed channel.
	late := b.Subscribe("", 1)
	_, ok = <-late.C
	require.False(t, ok)

	// Double close on a subscription is harmless.
	sub.Close()
	sub.Close()
}
