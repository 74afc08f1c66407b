package discover

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize normalizes an absolute URL into its canonical string
// form. Two URLs that canonicalize identically are treated as the same
// page everywhere in the system: frontier dedup, the seen-set, and the
// page store all key on this form.
//
// Normalization steps:
//   - scheme and host are lowercased
//   - default ports (:80 for http, :443 for https) are removed
//   - the fragment is stripped
//   - an empty path becomes "/"
//   - a trailing slash is removed from non-root paths
//   - query keys are sorted
//
// Only http and https URLs are accepted.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL %q: %w", raw, err)
	}
	return canonicalizeURL(u)
}

// canonicalizeURL normalizes an already-parsed URL.
func canonicalizeURL(u *url.URL) (string, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("URL %q has no host", u.String())
	}
	port := u.Port()
	if port != "" && !isDefaultPort(scheme, port) {
		host += ":" + port
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	canonical := scheme + "://" + host + path

	// url.Values.Encode sorts by key, which makes query order
	// irrelevant to identity.
	if query := u.Query().Encode(); query != "" {
		canonical += "?" + query
	}

	return canonical, nil
}

// isDefaultPort reports whether port is the scheme's default.
func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
