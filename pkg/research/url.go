package research

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrSchemeNotAllowed rejects non-http(s) URLs.
	ErrSchemeNotAllowed = errors.New("URL scheme not allowed")
	// ErrDomainNotAllowed rejects hosts outside the allow-list.
	ErrDomainNotAllowed = errors.New("URL domain not allowed")
)

// NormalizeURL canonicalizes a URL for use as a cache and source-table key:
// lowercased scheme and host, default port stripped, fragment dropped.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("malformed URL: missing host in %q", raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	switch {
	case parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80"):
		parsed.Host = strings.TrimSuffix(parsed.Host, ":80")
	case parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443"):
		parsed.Host = strings.TrimSuffix(parsed.Host, ":443")
	}

	return parsed.String(), nil
}

// ValidateURL checks the scheme allow-list (http, https) and, when
// allowedDomains is non-empty, that the host matches one of the domains
// (exact or subdomain).
func ValidateURL(raw string, allowedDomains []string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrSchemeNotAllowed, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("malformed URL: missing host in %q", raw)
	}

	if len(allowedDomains) > 0 && !domainAllowed(parsed.Hostname(), allowedDomains) {
		return fmt.Errorf("%w: %s", ErrDomainNotAllowed, parsed.Hostname())
	}
	return nil
}

func domainAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, domain := range allowed {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
