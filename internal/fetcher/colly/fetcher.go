// Package collyfetcher implements mention.Fetcher using gocolly.
package collyfetcher

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"context"

	"github.com/gocolly/colly/v2"

	"github.com/mentionhub/mentiond/internal/mention"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int
}

// Fetcher retrieves single documents with the Colly collector. It performs
// no retries; typed failures propagate to the caller.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}

	c := colly.NewCollector(colly.Async(false))
	// Source verification must fetch exactly the claimed document; robots
	// rules govern crawling, not webmention verification.
	c.IgnoreRobotsTxt = true
	// Re-pings re-fetch the same source URL; the visited-URL bookkeeping is
	// a crawl concept that must not apply here.
	c.AllowURLRevisit = true
	c.MaxBodySize = cfg.MaxBodyBytes

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET, following redirects up to the configured
// bound. Failures are returned as *mention.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request mention.FetchRequest) (mention.FetchResponse, error) {
	var (
		result   mention.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return mention.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request mention.FetchRequest,
	start time.Time,
	result *mention.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.MaxBodySize = f.cfg.MaxBodyBytes
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)
	collector.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= f.cfg.MaxRedirects {
			return fmt.Errorf("stopped after %d redirects", f.cfg.MaxRedirects)
		}
		return nil
	})

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		*result = mention.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*fetchErr = &mention.FetchError{
				URL:        request.URL,
				Failure:    mention.FailureStatus,
				StatusCode: r.StatusCode,
				Err:        err,
			}
			return
		}
		*fetchErr = mention.ClassifyFetchError(request.URL, err)
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return mention.ClassifyFetchError(url, ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return mention.ClassifyFetchError(url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
