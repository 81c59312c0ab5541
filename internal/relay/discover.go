package relay

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// DiscoverEndpoint finds the webmention endpoint advertised by a fetched
// document. A rel=webmention <link> or <a> in the HTML wins over an HTTP
// Link header; relative endpoints resolve against the document's final URL.
// Returns "" when nothing is advertised.
func DiscoverEndpoint(docURL string, headers http.Header, body []byte) string {
	base, err := url.Parse(docURL)
	if err != nil {
		return ""
	}
	if endpoint, ok := htmlEndpoint(body); ok {
		return resolveEndpoint(base, endpoint)
	}
	for _, value := range headers.Values("Link") {
		if endpoint, ok := linkHeaderEndpoint(value); ok {
			return resolveEndpoint(base, endpoint)
		}
	}
	return ""
}

func resolveEndpoint(base *url.URL, endpoint string) string {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// htmlEndpoint walks the document for the first <link> or <a> carrying
// rel=webmention with an href attribute. An empty href is valid and means
// the document URL itself.
func htmlEndpoint(body []byte) (string, bool) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	var walk func(*html.Node) (string, bool)
	walk = func(n *html.Node) (string, bool) {
		if n.Type == html.ElementNode && (n.Data == "link" || n.Data == "a") {
			var href string
			hasHref, isWebmention := false, false
			for _, attr := range n.Attr {
				switch strings.ToLower(attr.Key) {
				case "rel":
					for _, rel := range strings.Fields(attr.Val) {
						if strings.EqualFold(rel, "webmention") {
							isWebmention = true
						}
					}
				case "href":
					href = attr.Val
					hasHref = true
				}
			}
			if isWebmention && hasHref {
				return href, true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if href, ok := walk(c); ok {
				return href, true
			}
		}
		return "", false
	}
	return walk(doc)
}

// linkHeaderEndpoint parses one Link header value, which may carry several
// comma-separated entries of the form <uri>; rel="webmention".
func linkHeaderEndpoint(value string) (string, bool) {
	for _, part := range strings.Split(value, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		uri := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(uri, "<") || !strings.HasSuffix(uri, ">") {
			continue
		}
		for _, param := range segments[1:] {
			key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
				continue
			}
			val = strings.Trim(strings.TrimSpace(val), `"`)
			for _, rel := range strings.Fields(val) {
				if strings.EqualFold(rel, "webmention") {
					return strings.Trim(uri, "<>"), true
				}
			}
		}
	}
	return "", false
}
