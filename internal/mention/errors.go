package mention

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Validation failures surfaced synchronously to the ping's caller.
var (
	ErrInvalidURL          = errors.New("source and target must be absolute http or https urls")
	ErrEquivalentEndpoints = errors.New("source and target resolve to the same document")
)

// FetchFailure classifies why a document retrieval failed.
type FetchFailure string

const (
	FailureNetwork FetchFailure = "network_error"
	FailureStatus  FetchFailure = "non_success_status"
	FailureTimeout FetchFailure = "timeout"
)

// FetchError is the typed failure returned by Fetcher implementations.
// StatusCode is zero unless Failure is FailureStatus.
type FetchError struct {
	URL        string
	Failure    FetchFailure
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Failure == FailureStatus {
		return fmt.Sprintf("fetch %s: %s (%d)", e.URL, e.Failure, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Failure, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Failure)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ClassifyFetchError wraps a transport-level error as a FetchError,
// distinguishing deadline expiry from other network failures.
func ClassifyFetchError(url string, err error) *FetchError {
	failure := FailureNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		failure = FailureTimeout
	}
	return &FetchError{URL: url, Failure: failure, Err: err}
}
