package mention

import (
	"context"
	"time"
)

// Fetcher retrieves a single remote document. Implementations follow
// redirects but never retry; failures are returned as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor derives mention data from a fetched document body. base is the
// document's final URL; target, when non-empty, is the pinged target to
// classify. A document without entry structure yields an empty Extraction.
type Extractor interface {
	Extract(body []byte, base string, target string) (Extraction, error)
}

// Queue hands accepted pings to the resolution workers.
type Queue interface {
	// Enqueue blocks until the ping is queued or ctx is done.
	Enqueue(ctx context.Context, ping Ping) error
	// Dequeue blocks until a ping is available, ctx is done, or the
	// queue is closed (ok=false).
	Dequeue(ctx context.Context) (ping Ping, ok bool)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
