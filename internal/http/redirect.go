package http

import (
	"net/url"
	"strings"
)

// isValidRedirectPath reports whether path is a same-origin relative path.
func isValidRedirectPath(path string) bool {
	if path == "" {
		return false
	}

	// Decode to catch encoded bypass attempts like /%2f%2f
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return false
	}

	if !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") {
		return false
	}

	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}

	return parsed.Scheme == "" && parsed.Host == ""
}

// confirmationRedirect builds the email confirmation target for a sign-up. Only
// relative paths on the site are honored; anything else lands on the site root.
func confirmationRedirect(siteURL, requested string) string {
	base := strings.TrimSuffix(siteURL, "/")
	requested = strings.TrimSpace(requested)
	if !isValidRedirectPath(requested) {
		return base + "/"
	}
	return base + requested
}
