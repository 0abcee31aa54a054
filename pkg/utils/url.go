package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// HashKey creates a SHA256 hash of s.
// This is useful for creating consistent, safe keys for Redis.
func HashKey(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// ResolveLink makes a root-relative link absolute against the site base URL.
// Other links are returned unchanged.
func ResolveLink(base, link string) string {
	if !strings.HasPrefix(link, "/") || strings.HasPrefix(link, "//") {
		return link
	}
	if b, err := url.Parse(base); err == nil && b.Scheme != "" && b.Host != "" {
		if abs, err := ToAbsoluteURL(b, link); err == nil {
			return abs
		}
	}
	return strings.TrimSuffix(base, "/") + link
}

// ToAbsoluteURL converts a relative URL to an absolute URL given a base URL.
func ToAbsoluteURL(base *url.URL, relative string) (string, error) {
	relURL, err := url.Parse(relative)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(relURL).String(), nil
}
