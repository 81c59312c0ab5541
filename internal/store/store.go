// Package store declares interfaces for persisting the mention graph.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mentionhub/mentiond/internal/mention"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("mention record not found")

// ResolvedSource is the complete outcome of one successful resolution pass
// for a source URL, including targets merged in from comment/response pages.
// Target order matters: the last interaction target in the slice decides the
// entry's type label.
type ResolvedSource struct {
	URL       string
	Author    mention.Author
	Name      string
	Summary   string
	Content   string
	Targets   []mention.Target
	Raw       string
	MFVersion string
}

// ReconcileResult reports what one reconciliation pass changed.
type ReconcileResult struct {
	Entry mention.Entry
	// Created holds mention rows inserted for the first time this pass;
	// revived tombstones and updates are not included.
	Created []mention.Mention
	// Targets is the entry's full live (non-removed) mention set after
	// the pass, in insertion order.
	Targets []string
}

// MentionFilter selects mention projections for the query API. The three
// selectors are OR-combined; an empty filter selects everything.
type MentionFilter struct {
	// URLs match mention targets exactly.
	URLs []string
	// Paths match mention targets by prefix.
	Paths []string
	// Site matches the mention target's hostname, "www."-insensitively.
	Site string
	// Descending orders by entry published time, newest first.
	Descending bool
}

// MentionView is the public projection published to live subscribers and
// returned by the query API.
type MentionView struct {
	URL          string         `json:"url"`
	Author       mention.Author `json:"author"`
	Name         string         `json:"name,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	Published    time.Time      `json:"published"`
	Updated      time.Time      `json:"updated"`
	Targets      []string       `json:"targets"`
	Type         string         `json:"type,omitempty"`
	Interactions []string       `json:"interactions"`
}

// MentionRepository is the sole writer path into the mention graph. All
// mutation goes through Reconcile so the tombstone/revive invariants hold.
type MentionRepository interface {
	// Reconcile atomically upserts the entry for src.URL and reconciles
	// its mention rows against src.Targets: new targets insert, existing
	// ones update or revive, absent ones tombstone.
	Reconcile(ctx context.Context, src ResolvedSource) (ReconcileResult, error)

	// ListMentions returns projections of entries owning at least one
	// live mention row matched by the filter.
	ListMentions(ctx context.Context, filter MentionFilter) ([]MentionView, error)

	// Close releases the underlying resources.
	Close()
}

// Project builds the public projection for an entry and its live targets.
func Project(entry mention.Entry, targets []string) MentionView {
	view := MentionView{
		URL:          entry.URL,
		Author:       entry.Data.Author,
		Name:         entry.Data.Name,
		Summary:      entry.Data.Summary,
		Published:    entry.Published,
		Updated:      entry.Updated,
		Targets:      append([]string(nil), targets...),
		Interactions: append([]string(nil), entry.Data.Interactions...),
	}
	if entry.Type != nil {
		view.Type = string(*entry.Type)
	}
	if view.Targets == nil {
		view.Targets = []string{}
	}
	if view.Interactions == nil {
		view.Interactions = []string{}
	}
	return view
}
