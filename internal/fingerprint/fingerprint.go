// Package fingerprint computes the deduplication keys of an item: a digest of
// its normalized URL and a digest of its extracted text.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Size is the length of a hex-encoded fingerprint.
const Size = sha256.Size * 2

var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"yclid":  true,
	"mc_cid": true,
	"mc_eid": true,
}

// NormalizeURL returns the canonical form of a source URL: lower-case scheme
// and host, no default port, no fragment, no tracking parameters, sorted
// query and no trailing slash on non-root paths.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "/" {
		u.Path = ""
	}

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			q.Del(key)
		}
	}
	u.RawQuery = encodeSorted(q)

	return u.String(), nil
}

func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := append([]string(nil), q[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// URL returns the fingerprint of the normalized form of raw.
func URL(raw string) (string, error) {
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	return digest(normalized), nil
}

// Content returns the fingerprint of extracted article text. Whitespace runs
// are collapsed first so re-wrapped copies of the same text collide.
func Content(text string) string {
	return digest(strings.Join(strings.Fields(text), " "))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
