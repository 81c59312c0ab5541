// Package extractor derives mention data from fetched HTML via the
// microformats2 parser. The parser's object model stays behind this package;
// the pipeline only sees mention.Extraction.
package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"willnorris.com/go/microformats"

	"github.com/mentionhub/mentiond/internal/mention"
)

// Version identifies the parser used, recorded on entries for reprocessing.
const Version = "mf2:willnorris/microformats@v1.2"

// Extractor implements mention.Extractor.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses the document and derives author info, per-target interaction
// classification, the outbound target set, and auxiliary reference links.
// A document with no recognizable entry yields an empty extraction, not an
// error; an unparsable page is still a valid (if low-information) source.
func (e *Extractor) Extract(body []byte, base string, target string) (mention.Extraction, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return mention.Extraction{}, fmt.Errorf("parse base url: %w", err)
	}

	data := microformats.Parse(bytes.NewReader(body), baseURL)
	ext := mention.Extraction{MFVersion: Version}

	entry := findEntry(data.Items)
	if entry == nil {
		return ext, nil
	}

	ext.Author = parseAuthor(entry)
	ext.Name = propPlainText(entry, "name")
	ext.Summary = propPlainText(entry, "summary")
	contentHTML, contentText := propContent(entry)
	if ext.Summary == "" {
		ext.Summary = contentText
	}
	ext.Content = contentText

	replyTo := propURLs(entry, "in-reply-to")
	reposts := propURLs(entry, "repost-of")
	likes := propURLs(entry, "like-of")
	ext.ReplyTo = replyTo
	ext.Comments = append(propURLs(entry, "comment"), propURLs(entry, "responses")...)
	ext.PersonTags = personTags(entry)

	seen := map[string]bool{}
	add := func(raw string, interaction bool, kind mention.InteractionType) {
		key := mention.CanonicalKey(raw)
		if raw == "" || seen[key] {
			return
		}
		if sourceKey := mention.CanonicalKey(base); key == sourceKey {
			return
		}
		seen[key] = true
		ext.Targets = append(ext.Targets, mention.Target{URL: raw, Interaction: interaction, Kind: kind})
	}

	for _, u := range replyTo {
		add(u, true, mention.InteractionReply)
	}
	for _, u := range reposts {
		add(u, true, mention.InteractionRepost)
	}
	for _, u := range likes {
		add(u, true, mention.InteractionLike)
	}
	for _, u := range anchorURLs(contentHTML, baseURL) {
		add(u, false, mention.InteractionMention)
	}

	// Classify the specific target under evaluation, and ensure the
	// relation-tagged link for it is part of the target set.
	if target != "" {
		ext.Interaction = classify(target, replyTo, reposts, likes)
		kind := ext.Interaction
		if kind == "" {
			kind = mention.InteractionMention
		}
		add(target, kind != mention.InteractionMention, kind)
	}

	return ext, nil
}

// classify returns the interaction kind the document explicitly tags the
// given target with, or empty for a plain link.
func classify(target string, replyTo, reposts, likes []string) mention.InteractionType {
	key := mention.CanonicalKey(target)
	contains := func(urls []string) bool {
		for _, u := range urls {
			if mention.CanonicalKey(u) == key {
				return true
			}
		}
		return false
	}
	switch {
	case contains(likes):
		return mention.InteractionLike
	case contains(reposts):
		return mention.InteractionRepost
	case contains(replyTo):
		return mention.InteractionReply
	default:
		return ""
	}
}

// findEntry locates the first h-entry in the parsed tree, descending into
// children so feeds (h-feed wrapping h-entry) resolve too.
func findEntry(items []*microformats.Microformat) *microformats.Microformat {
	for _, item := range items {
		if hasType(item, "h-entry") {
			return item
		}
		if found := findEntry(item.Children); found != nil {
			return found
		}
	}
	return nil
}

func hasType(mf *microformats.Microformat, want string) bool {
	for _, t := range mf.Type {
		if t == want {
			return true
		}
	}
	return false
}

func parseAuthor(entry *microformats.Microformat) mention.Author {
	for _, v := range entry.Properties["author"] {
		switch author := v.(type) {
		case *microformats.Microformat:
			return mention.Author{
				Name:  propPlainText(author, "name"),
				URL:   propPlainText(author, "url"),
				Photo: propPlainText(author, "photo"),
			}
		case string:
			return mention.Author{Name: author}
		}
	}
	return mention.Author{}
}

// personTags returns u-category values whose referenced object is an h-card.
func personTags(entry *microformats.Microformat) []string {
	var tags []string
	for _, v := range entry.Properties["category"] {
		card, ok := v.(*microformats.Microformat)
		if !ok || !hasType(card, "h-card") {
			continue
		}
		if u := propPlainText(card, "url"); u != "" {
			tags = append(tags, u)
		} else if card.Value != "" {
			tags = append(tags, card.Value)
		}
	}
	return tags
}

// propURLs flattens a property to URL strings, accepting plain strings and
// nested h-cite style objects.
func propURLs(mf *microformats.Microformat, name string) []string {
	var urls []string
	for _, v := range mf.Properties[name] {
		switch val := v.(type) {
		case string:
			if val != "" {
				urls = append(urls, val)
			}
		case *microformats.Microformat:
			if u := propPlainText(val, "url"); u != "" {
				urls = append(urls, u)
			} else if val.Value != "" {
				urls = append(urls, val.Value)
			}
		}
	}
	return urls
}

// propPlainText returns the first plain-text value of a property.
func propPlainText(mf *microformats.Microformat, name string) string {
	for _, v := range mf.Properties[name] {
		switch val := v.(type) {
		case string:
			return val
		case map[string]string:
			if s := val["value"]; s != "" {
				return s
			}
		case *microformats.Microformat:
			if val.Value != "" {
				return val.Value
			}
		}
	}
	return ""
}

// propContent returns the e-content html and text renderings.
func propContent(mf *microformats.Microformat) (string, string) {
	for _, v := range mf.Properties["content"] {
		if m, ok := v.(map[string]string); ok {
			return m["html"], m["value"]
		}
		if s, ok := v.(string); ok {
			return "", s
		}
	}
	return "", ""
}

// anchorURLs extracts absolute http(s) anchor targets from an HTML fragment.
func anchorURLs(fragment string, base *url.URL) []string {
	if strings.TrimSpace(fragment) == "" {
		return nil
	}
	node, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil
	}
	var urls []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				if abs.Scheme == "http" || abs.Scheme == "https" {
					urls = append(urls, abs.String())
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return urls
}
