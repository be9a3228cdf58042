package store

import "strings"

// SanitizeDomain maps a domain to a filesystem-safe document key.
// Scheme and path are dropped; anything outside [a-z0-9.-] becomes '_'.
func SanitizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	d = strings.Trim(d, ".")

	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, d)
	if out == "" {
		return "_"
	}
	return out
}
