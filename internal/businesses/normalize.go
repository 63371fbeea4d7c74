package businesses

import (
	"net/url"
	"strings"
)

var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"msclkid": {},
	"ved":     {},
	"ei":      {},
	"sa":      {},
	"entry":   {},
	"g_ep":    {},
}

// NormalizeURL canonicalizes a listing URL so the same business maps to one key.
// Scheme and host are lowercased; fragments, tracking params and trailing slashes are dropped.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}
	u.Host = strings.ToLower(u.Host)
	if u.Host == "" {
		return "", ErrInvalidURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingParams[lower]; ok {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}
