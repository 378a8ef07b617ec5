// Package normalize canonicalizes citation URLs and domains so that
// downstream dedup and KPI scoring operate on stable keys.
package normalize

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/answerlens/answerlens/internal/model"
)

// redirectClient follows no redirects itself; we inspect Location manually
// and take at most one hop.
var redirectClient = &http.Client{
	Timeout: 8 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// Domain canonicalizes a URL or bare domain to a host: lower-cased, scheme
// stripped, leading "www." and "m." stripped. Idempotent.
func Domain(urlOrDomain string) string {
	value := strings.ToLower(strings.TrimSpace(urlOrDomain))
	if value == "" {
		return value
	}
	host := value
	if strings.Contains(value, "://") {
		if u, err := url.Parse(value); err == nil {
			host = u.Host
		}
	}
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	return host
}

// unwrapGoogleRedirect returns the q parameter of a google /url wrapper, or
// the URL unchanged.
func unwrapGoogleRedirect(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if strings.HasSuffix(u.Host, "google.com") && strings.HasPrefix(u.Path, "/url") {
		if q := u.Query().Get("q"); q != "" {
			return q
		}
	}
	return raw
}

// resolveGroundingRedirect follows a single HTTP redirect off the Vertex AI
// grounding redirect host. Any failure returns the URL unchanged; this must
// never block beyond the client timeout.
func resolveGroundingRedirect(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Host != "vertexaisearch.cloud.google.com" || !strings.Contains(u.Path, "grounding-api-redirect") {
		return raw
	}
	resp, err := redirectClient.Get(raw)
	if err != nil {
		return raw
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); loc != "" {
			return loc
		}
	}
	return raw
}

// ResolveKnownRedirects unwraps at most two known redirect indirections: the
// google /url?q= wrapper and one HTTP hop off the grounding redirect host.
// It never fails; on any error the original URL comes back.
func ResolveKnownRedirects(raw string) string {
	if raw == "" {
		return raw
	}
	return resolveGroundingRedirect(unwrapGoogleRedirect(raw))
}

// trackingParams are query parameter prefixes dropped during URL dedupe.
var trackingParams = []string{"utm_", "gclid", "fbclid"}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	for _, p := range trackingParams {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}

// URLForDedupe normalizes a URL for deduplication: known redirects resolved,
// scheme and host lower-cased, trailing slash stripped (except root), common
// tracking parameters and the fragment dropped.
func URLForDedupe(raw string) string {
	if raw == "" {
		return raw
	}
	raw = ResolveKnownRedirects(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := Domain(u.Host)

	path := u.Path
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}

	out := url.URL{Scheme: scheme, Host: host, Path: path, RawQuery: q.Encode()}
	return out.String()
}

// Dedupe collapses citations that share (canonical domain, anchor, type)
// after normalization. The first occurrence wins and carries the normalized
// domain and URL. Idempotent; never grows the input.
func Dedupe(citations []model.Citation) []model.Citation {
	seen := make(map[string]struct{}, len(citations))
	out := make([]model.Citation, 0, len(citations))
	for _, c := range citations {
		source := c.URL
		if source == "" {
			source = c.Domain
		}
		urlNorm := URLForDedupe(source)
		domNorm := Domain(urlNorm)
		key := domNorm + "|" + strings.TrimSpace(c.Anchor) + "|" + strings.TrimSpace(string(c.Type))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		c.URL = urlNorm
		c.Domain = domNorm
		out = append(out, c)
	}
	return out
}
