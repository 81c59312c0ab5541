// Package mention defines the domain model shared across the receiver,
// resolver pipeline, store, and relay.
package mention

import (
	"net/http"
	"time"
)

// InteractionType labels how a source page relates to a target it links to.
type InteractionType string

const (
	InteractionLike    InteractionType = "like"
	InteractionRepost  InteractionType = "repost"
	InteractionReply   InteractionType = "reply"
	InteractionMention InteractionType = "mention"
)

// ResolveState names the phases a ping passes through. Terminal states are
// StateResolved and StateFailed.
type ResolveState string

const (
	StateAccepted    ResolveState = "accepted"
	StateFetching    ResolveState = "fetching"
	StateExtracting  ResolveState = "extracting"
	StateReconciling ResolveState = "reconciling"
	StateResolved    ResolveState = "resolved"
	StateFailed      ResolveState = "failed"
)

// Ping is one accepted webmention notification awaiting resolution.
type Ping struct {
	ID       string
	Source   string
	Target   string
	Received time.Time
}

// Author is the h-card information extracted for a source page.
type Author struct {
	Name  string `json:"name,omitempty"`
	URL   string `json:"url,omitempty"`
	Photo string `json:"photo,omitempty"`
}

// EntryData is the JSON document column of an entry row. Interactions holds
// every target URL ever recorded as an interaction for this source; it never
// shrinks across re-resolutions.
type EntryData struct {
	Author       Author   `json:"author"`
	Name         string   `json:"name,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Content      string   `json:"content,omitempty"`
	Interactions []string `json:"interactions"`
}

// Entry is one source document's row. Published is set on first insert and
// never changes; Updated advances on every reconciliation pass.
type Entry struct {
	ID        int64
	URL       string
	Published time.Time
	Updated   time.Time
	Type      *InteractionType
	Data      EntryData
	Raw       string
	MFVersion string
}

// Mention is one (entry, target) edge. Removed rows are tombstones kept for
// idempotent re-processing; Updated is nil until the row first changes.
type Mention struct {
	ID          int64
	EID         int64
	URL         string
	Interaction bool
	Removed     bool
	Updated     *time.Time
}

// Target is one outbound link discovered on a source page.
type Target struct {
	URL         string
	Interaction bool
	Kind        InteractionType
}

// FetchRequest describes a single document retrieval.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is a successfully fetched document. URL is the final URL
// after redirects.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Extraction is what the microformats pass derives from one source document.
type Extraction struct {
	Author  Author
	Name    string
	Summary string
	Content string
	// Interaction classifies the pinged target specifically; empty when
	// the target carries no interaction relation.
	Interaction InteractionType
	// Targets is the full outbound link set in discovery order.
	Targets []Target
	// Comments and PersonTags are auxiliary references that feed the
	// comment-page merge and the salmention fan-out.
	Comments   []string
	PersonTags []string
	ReplyTo    []string
	MFVersion  string
}

// Upstream returns the URL a salmention hop should be relayed toward: the
// page this document replies to, falling back to the first tagged person.
func (e Extraction) Upstream() string {
	if len(e.ReplyTo) > 0 {
		return e.ReplyTo[0]
	}
	if len(e.PersonTags) > 0 {
		return e.PersonTags[0]
	}
	return ""
}
