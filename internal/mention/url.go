package mention

import (
	"net/url"
	"strings"
)

// Normalize reduces an absolute http/https URL to its canonical comparison
// form: scheme collapsed to http, host lowercased with a leading "www." label
// and default ports stripped, fragment dropped, empty path rewritten to "/".
// The query string is kept verbatim.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidURL
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrInvalidURL
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrInvalidURL
	}
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	out := "http://" + host + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out, nil
}

// ValidatePing checks an inbound (source, target) pair. Both must normalize,
// and they must not normalize to the same document.
func ValidatePing(source, target string) error {
	ns, err := Normalize(source)
	if err != nil {
		return err
	}
	nt, err := Normalize(target)
	if err != nil {
		return err
	}
	if ns == nt {
		return ErrEquivalentEndpoints
	}
	return nil
}

// CanonicalKey returns the normalized form for map keys and dedup checks,
// falling back to the raw string for unparsable input.
func CanonicalKey(raw string) string {
	key, err := Normalize(raw)
	if err != nil {
		return raw
	}
	return key
}

// Host extracts the lowercased hostname without a leading "www." label, or
// "" for unparsable input.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// SiteMatches reports whether rawURL's host equals the given site,
// "www."-insensitively on both sides.
func SiteMatches(site, rawURL string) bool {
	want := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(site)), "www.")
	if want == "" {
		return false
	}
	return Host(rawURL) == want
}
