// Package auth decides whether a request's origin satisfies the
// authentication requirements carried by a recipe or by unsealing
// instructions.
package auth

import (
	"strings"

	"github.com/i5heu/seedgate/pkg/recipe"
)

// DefaultPathPattern is the reserved path an allow entry without paths
// authorizes on its host.
const DefaultPathPattern = "/--derived-secret-api--/*"

// HostMatches reports whether observed satisfies expected. A pattern of
// the form "*.example.com" matches example.com and any subdomain of it,
// but never a host that merely ends in "example.com".
func HostMatches( // A
	expected string,
	observed string,
) bool {
	if expected == "" || observed == "" {
		return false
	}
	if expected == observed {
		return true
	}
	if !strings.HasPrefix(expected, "*.") {
		return false
	}
	suffix := expected[1:] // ".example.com"
	return observed == expected[2:] || strings.HasSuffix(observed, suffix)
}

// PathMatches reports whether observed satisfies the path pattern
// expected. An empty pattern means DefaultPathPattern; a missing leading
// slash is assumed. "/p/*" matches "/p" and everything under "/p/"; a
// bare trailing "*" matches any path with that prefix; anything else must
// match exactly.
func PathMatches( // A
	expected string,
	observed string,
) bool {
	if expected == "" {
		expected = DefaultPathPattern
	}
	if !strings.HasPrefix(expected, "/") {
		expected = "/" + expected
	}

	switch {
	case strings.HasSuffix(expected, "/*"):
		prefix := expected[:len(expected)-1] // keeps the slash
		return observed == prefix[:len(prefix)-1] || strings.HasPrefix(observed, prefix)
	case strings.HasSuffix(expected, "*"):
		return strings.HasPrefix(observed, expected[:len(expected)-1])
	default:
		return observed == expected
	}
}

// IsAuthorized reports whether any allow entry matches host and, when path
// is non-nil, one of that entry's path patterns.
func IsAuthorized( // A
	host string,
	path *string,
	allow []recipe.AllowEntry,
) bool {
	for _, entry := range allow {
		if !HostMatches(entry.Host, host) {
			continue
		}
		if path == nil {
			return true
		}
		patterns := entry.Paths
		if len(patterns) == 0 {
			patterns = []string{DefaultPathPattern}
		}
		for _, p := range patterns {
			if PathMatches(p, *path) {
				return true
			}
		}
	}
	return false
}
