package common

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL produces the canonical form used for article identity.
// Scheme and host are lowercased, the fragment is dropped, and a trailing
// slash is stripped from the path. Query strings are preserved since they
// commonly select distinct articles.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("URL %q must be absolute with scheme and host", raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	if parsed.Path != "/" {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}
	if parsed.Path == "/" {
		parsed.Path = ""
	}

	return parsed.String(), nil
}

// ValidateURL checks that a raw URL is an absolute http or https address.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL %q is missing a host", raw)
	}

	return nil
}
